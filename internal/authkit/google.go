package authkit

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var (
	// ErrInvalidGoogleToken indicates the Google assertion failed verification.
	ErrInvalidGoogleToken = errors.New("google.invalid_token")
	// ErrUnverifiedIdentity indicates the assertion lacked a verified subject or email.
	ErrUnverifiedIdentity = errors.New("google.unverified_identity")
)

// GoogleIdentity is the identity extracted from a verified Google assertion.
type GoogleIdentity struct {
	Subject    string
	Email      string
	Name       string
	PictureURL string
	Nonce      string
}

// GoogleTokenValidator verifies a Google ID token against the configured
// client ID. The handshake itself is delegated entirely to this collaborator.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (GoogleIdentity, error)
}

type googleTokenValidator struct {
	validator *idtoken.Validator
}

// NewGoogleTokenValidator constructs a validator backed by Google's idtoken
// verification.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, validatorErr := idtoken.NewValidator(ctx)
	if validatorErr != nil {
		return nil, fmt.Errorf("google.new_validator: %w", validatorErr)
	}
	return &googleTokenValidator{validator: validator}, nil
}

func (wrapper *googleTokenValidator) Validate(ctx context.Context, idToken string, audience string) (GoogleIdentity, error) {
	payload, validateErr := wrapper.validator.Validate(ctx, idToken, audience)
	if validateErr != nil {
		return GoogleIdentity{}, fmt.Errorf("google.validate: %w", ErrInvalidGoogleToken)
	}
	return identityFromClaims(payload.Claims)
}

func identityFromClaims(claims map[string]interface{}) (GoogleIdentity, error) {
	issuer, _ := claims["iss"].(string)
	if issuer != "https://accounts.google.com" && issuer != "accounts.google.com" {
		return GoogleIdentity{}, fmt.Errorf("google.validate.issuer: %w", ErrInvalidGoogleToken)
	}
	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	emailVerified, _ := claims["email_verified"].(bool)
	if subject == "" || email == "" || !emailVerified {
		return GoogleIdentity{}, fmt.Errorf("google.validate.claims: %w", ErrUnverifiedIdentity)
	}
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)
	nonce, _ := claims["nonce"].(string)
	return GoogleIdentity{
		Subject:    subject,
		Email:      email,
		Name:       name,
		PictureURL: picture,
		Nonce:      nonce,
	}, nil
}
