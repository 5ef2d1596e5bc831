package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store intended for tests and local runs.
type MemoryStore struct {
	mutex     sync.Mutex
	byID      map[string]User
	bySubject map[string]string
	now       func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]User),
		bySubject: make(map[string]string),
		now:       time.Now,
	}
}

// UpsertGoogleUser inserts or refreshes a user keyed by Google subject.
func (store *MemoryStore) UpsertGoogleUser(ctx context.Context, googleSubject string, email string, name string, pictureURL string) (User, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if existingID, found := store.bySubject[googleSubject]; found {
		record := store.byID[existingID]
		record.Email = email
		record.Name = name
		record.PictureURL = pictureURL
		store.byID[existingID] = record
		return record, false, nil
	}

	record := User{
		ID:            uuid.NewString(),
		GoogleSubject: googleSubject,
		Email:         email,
		Name:          name,
		PictureURL:    pictureURL,
		TokenVersion:  1,
		CreatedAt:     store.now().UTC(),
	}
	store.byID[record.ID] = record
	store.bySubject[googleSubject] = record.ID
	return record, true, nil
}

// GetUser returns a user by application user ID.
func (store *MemoryStore) GetUser(ctx context.Context, userID string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, found := store.byID[userID]
	if !found {
		return User{}, fmt.Errorf("users.get: %w", ErrUserNotFound)
	}
	return record, nil
}

// BumpTokenVersion increments the revocation marker for the user.
func (store *MemoryStore) BumpTokenVersion(ctx context.Context, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, found := store.byID[userID]
	if !found {
		return fmt.Errorf("users.bump_token_version: %w", ErrUserNotFound)
	}
	record.TokenVersion++
	store.byID[userID] = record
	return nil
}
