// Package users persists application user records, which own the
// authoritative token version used for revocation.
package users

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound indicates no user record matched the provided identifier.
var ErrUserNotFound = errors.New("users.not_found")

// User is an application user record. Identity fields come from the verified
// Google assertion; TokenVersion is the revocation marker compared against the
// tv claim of every presented token.
type User struct {
	ID            string
	GoogleSubject string
	Email         string
	Name          string
	PictureURL    string
	TokenVersion  int
	CreatedAt     time.Time
}

// Store persists and retrieves application users.
type Store interface {
	// UpsertGoogleUser creates or refreshes a user from verified Google
	// claims and reports whether the record was newly created.
	UpsertGoogleUser(ctx context.Context, googleSubject string, email string, name string, pictureURL string) (user User, isNew bool, err error)
	// GetUser loads a user by application user ID.
	GetUser(ctx context.Context, userID string) (User, error)
	// BumpTokenVersion increments the revocation marker, invalidating every
	// token minted with the previous version.
	BumpTokenVersion(ctx context.Context, userID string) error
}
