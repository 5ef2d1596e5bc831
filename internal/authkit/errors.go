package authkit

import "errors"

var (
	// ErrMissingCredential indicates no bearer credential accompanied a request that requires one.
	ErrMissingCredential = errors.New("auth.missing_credential")
	// ErrMalformedToken indicates the token signature or structure is invalid.
	ErrMalformedToken = errors.New("auth.token_malformed")
	// ErrExpiredToken indicates the token is past its expiry instant.
	ErrExpiredToken = errors.New("auth.token_expired")
	// ErrWrongTokenClass indicates an access token was presented where a refresh token was expected, or vice versa.
	ErrWrongTokenClass = errors.New("auth.wrong_token_class")
	// ErrRevokedToken indicates the token's embedded version is older than the user's current version.
	ErrRevokedToken = errors.New("auth.token_revoked")
)

// ErrorCode maps a token or credential error to the machine-readable code
// returned in 401 response bodies, so clients can distinguish "retry after
// refresh" from "force sign-out" without parsing prose.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrExpiredToken):
		return "token_expired"
	case errors.Is(err, ErrWrongTokenClass):
		return "wrong_token_class"
	case errors.Is(err, ErrRevokedToken):
		return "token_revoked"
	case errors.Is(err, ErrMalformedToken):
		return "token_malformed"
	default:
		return "unauthorized"
	}
}
