package authkit

import (
	"net/http"
	"time"
)

// ServerConfig configures token issuance, cookies, and route authorization.
type ServerConfig struct {
	GoogleWebClientID string
	SigningKey        []byte
	Issuer            string
	CookieDomain      string
	RefreshCookieName string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	NonceTTL          time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
	AdminEmails       []string
	Routes            RoutePolicy
}
