package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// TokenClassAccess marks short-lived per-request credentials.
	TokenClassAccess = "access"
	// TokenClassRefresh marks the longer-lived credential used solely to mint new access tokens.
	TokenClassRefresh = "refresh"

	// MinimumSigningKeyLength is the hard precondition on the symmetric secret.
	MinimumSigningKeyLength = 32

	// DefaultAccessTTL is the access token lifetime when none is configured.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the refresh token lifetime when none is configured.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrSigningKeyTooShort indicates the signing secret is missing or below the minimum length.
	ErrSigningKeyTooShort = errors.New("token.signing_key_too_short")

	errEmptySubject = errors.New("token.empty_subject")
)

// SessionClaims is the payload embedded in both token classes.
type SessionClaims struct {
	Email        string `json:"email"`
	TokenVersion int    `json:"tv,omitempty"`
	TokenClass   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenPayload is the verified view of a session token.
type TokenPayload struct {
	UserID       string
	Email        string
	TokenVersion int
	TokenClass   string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// TokenService mints and verifies HS256 session tokens. It is stateless: it
// never consults the live user record, so revocation by token version is the
// caller's responsibility.
type TokenService struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock
	logger     *zap.Logger
}

// NewTokenService constructs a TokenService. It fails closed when the signing
// key is shorter than MinimumSigningKeyLength bytes.
func NewTokenService(signingKey []byte, issuer string, accessTTL time.Duration, refreshTTL time.Duration, clock Clock, logger *zap.Logger) (*TokenService, error) {
	if len(signingKey) < MinimumSigningKeyLength {
		return nil, fmt.Errorf("token.new: %w", ErrSigningKeyTooShort)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("token.new: issuer must be non-empty")
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CreateAccessToken mints a short-lived access token.
func (service *TokenService) CreateAccessToken(subjectID string, email string, tokenVersion int) (string, time.Time, error) {
	return service.create(subjectID, email, tokenVersion, TokenClassAccess, service.accessTTL)
}

// CreateRefreshToken mints a longer-lived refresh token.
func (service *TokenService) CreateRefreshToken(subjectID string, email string, tokenVersion int) (string, time.Time, error) {
	return service.create(subjectID, email, tokenVersion, TokenClassRefresh, service.refreshTTL)
}

func (service *TokenService) create(subjectID string, email string, tokenVersion int, tokenClass string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", time.Time{}, fmt.Errorf("token.create: %w", errEmptySubject)
	}
	if tokenVersion < 1 {
		tokenVersion = 1
	}
	issuedAt := service.clock.Now()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Email:        email,
		TokenVersion: tokenVersion,
		TokenClass:   tokenClass,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    service.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(service.signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("token.create.sign: %w", signErr)
	}
	service.logger.Debug("minted session token",
		zap.String("code", "token.create"),
		zap.String("class", tokenClass),
		zap.String("subject", subjectID))
	return signed, expiresAt, nil
}

// Verify validates signature, expiry, issuer, and token class, and returns the
// embedded payload.
func (service *TokenService) Verify(signedToken string, expectedClass string) (TokenPayload, error) {
	claims, parseErr := service.parse(signedToken, true)
	if parseErr != nil {
		return TokenPayload{}, parseErr
	}
	if claims.TokenClass != expectedClass {
		return TokenPayload{}, fmt.Errorf("token.verify: %w", ErrWrongTokenClass)
	}
	return payloadFromClaims(claims), nil
}

// DecodeUnverified checks signature and structure but ignores expiry. It exists
// for the refresh flow, where an expired access token is expected and
// irrelevant.
func (service *TokenService) DecodeUnverified(signedToken string) (TokenPayload, error) {
	claims, parseErr := service.parse(signedToken, false)
	if parseErr != nil {
		return TokenPayload{}, parseErr
	}
	return payloadFromClaims(claims), nil
}

func (service *TokenService) parse(signedToken string, validateExpiry bool) (*SessionClaims, error) {
	if strings.TrimSpace(signedToken) == "" {
		return nil, fmt.Errorf("token.parse: %w", ErrMissingCredential)
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(service.clock.Now),
	}
	if !validateExpiry {
		options = append(options, jwt.WithoutClaimsValidation())
	}
	parsedToken, parseErr := jwt.ParseWithClaims(signedToken, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return service.signingKey, nil
	}, options...)
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token.parse: %w", ErrExpiredToken)
		}
		return nil, fmt.Errorf("token.parse: %w", ErrMalformedToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("token.parse: %w", ErrMalformedToken)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("token.parse: %w", ErrMalformedToken)
	}
	if claims.Issuer != service.issuer {
		return nil, fmt.Errorf("token.parse: %w", ErrMalformedToken)
	}
	if validateExpiry && claims.ExpiresAt != nil && service.clock.Now().After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("token.parse: %w", ErrExpiredToken)
	}
	return claims, nil
}

func payloadFromClaims(claims *SessionClaims) TokenPayload {
	// Tokens minted before versioning carry no tv claim; they decode as
	// version 1. New issuance always sets tv explicitly.
	tokenVersion := claims.TokenVersion
	if tokenVersion < 1 {
		tokenVersion = 1
	}
	payload := TokenPayload{
		UserID:       claims.Subject,
		Email:        claims.Email,
		TokenVersion: tokenVersion,
		TokenClass:   claims.TokenClass,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload
}
