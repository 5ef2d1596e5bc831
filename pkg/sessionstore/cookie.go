package sessionstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// maxCookieValueBytes caps the encoded value; values over the cap are
// truncated silently, so callers must keep cookie-tier values small
// (identifier plus minimal profile fields) or accept that this tier may not
// carry the full value.
const maxCookieValueBytes = 4000

// CookieTier stores values as cookies in the transport's cookie jar, scoped
// to the API origin. Because the jar is the same one the HTTP client uses,
// values in this tier travel with requests and are visible to the server.
type CookieTier struct {
	jar      http.CookieJar
	origin   *url.URL
	lifetime time.Duration
}

// NewCookieTier constructs a CookieTier over the given jar and API base URL.
func NewCookieTier(jar http.CookieJar, apiBaseURL string, lifetime time.Duration) (*CookieTier, error) {
	if jar == nil {
		return nil, fmt.Errorf("sessionstore.cookie: %w", ErrStorageUnavailable)
	}
	origin, parseErr := url.Parse(apiBaseURL)
	if parseErr != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("sessionstore.cookie.origin: %w", ErrStorageUnavailable)
	}
	if lifetime <= 0 {
		lifetime = 30 * 24 * time.Hour
	}
	return &CookieTier{
		jar:      jar,
		origin:   origin,
		lifetime: lifetime,
	}, nil
}

// Name identifies the tier in logs.
func (tier *CookieTier) Name() string {
	return "cookie"
}

// Get returns the decoded cookie value for the key, if present.
func (tier *CookieTier) Get(ctx context.Context, key string) (string, bool, error) {
	for _, cookie := range tier.jar.Cookies(tier.origin) {
		if cookie.Name != key {
			continue
		}
		decoded, decodeErr := url.QueryUnescape(cookie.Value)
		if decodeErr != nil {
			return "", false, fmt.Errorf("sessionstore.cookie.decode: %w", ErrStorageUnavailable)
		}
		return decoded, true, nil
	}
	return "", false, nil
}

// Set stores the value as a cookie, truncating oversized values.
func (tier *CookieTier) Set(ctx context.Context, key string, value string) error {
	encoded := url.QueryEscape(value)
	for len(encoded) > maxCookieValueBytes && len(value) > 0 {
		value = value[:len(value)-1]
		encoded = url.QueryEscape(value)
	}
	tier.jar.SetCookies(tier.origin, []*http.Cookie{{
		Name:    key,
		Value:   encoded,
		Path:    "/",
		Expires: time.Now().Add(tier.lifetime),
	}})
	return nil
}

// Delete expires the cookie.
func (tier *CookieTier) Delete(ctx context.Context, key string) error {
	tier.jar.SetCookies(tier.origin, []*http.Cookie{{
		Name:   key,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}
