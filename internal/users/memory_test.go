package users

import (
	"context"
	"errors"
	"testing"
)

func TestUpsertGoogleUserCreatesThenRefreshes(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	created, isNew, createErr := store.UpsertGoogleUser(context.Background(), "sub-1", "first@example.com", "First Name", "https://example.com/a.png")
	if createErr != nil {
		t.Fatalf("unexpected error: %v", createErr)
	}
	if !isNew {
		t.Fatalf("expected first upsert to create a new user")
	}
	if created.ID == "" || created.TokenVersion != 1 {
		t.Fatalf("unexpected new user record: %+v", created)
	}

	refreshed, isNew, refreshErr := store.UpsertGoogleUser(context.Background(), "sub-1", "second@example.com", "Renamed", "https://example.com/b.png")
	if refreshErr != nil {
		t.Fatalf("unexpected error: %v", refreshErr)
	}
	if isNew {
		t.Fatalf("expected repeat upsert to reuse the existing user")
	}
	if refreshed.ID != created.ID {
		t.Fatalf("expected stable user ID, got %q and %q", created.ID, refreshed.ID)
	}
	if refreshed.Email != "second@example.com" || refreshed.Name != "Renamed" || refreshed.PictureURL != "https://example.com/b.png" {
		t.Fatalf("expected profile fields refreshed: %+v", refreshed)
	}
}

func TestDistinctSubjectsGetDistinctUsers(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	first, _, _ := store.UpsertGoogleUser(context.Background(), "sub-1", "one@example.com", "One", "")
	second, _, _ := store.UpsertGoogleUser(context.Background(), "sub-2", "two@example.com", "Two", "")
	if first.ID == second.ID {
		t.Fatalf("expected distinct users for distinct subjects")
	}
}

func TestGetUserNotFound(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	if _, err := store.GetUser(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestBumpTokenVersionIncrements(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	created, _, _ := store.UpsertGoogleUser(context.Background(), "sub-1", "one@example.com", "One", "")
	if bumpErr := store.BumpTokenVersion(context.Background(), created.ID); bumpErr != nil {
		t.Fatalf("unexpected error: %v", bumpErr)
	}

	loaded, loadErr := store.GetUser(context.Background(), created.ID)
	if loadErr != nil {
		t.Fatalf("unexpected error: %v", loadErr)
	}
	if loaded.TokenVersion != 2 {
		t.Fatalf("expected token version 2, got %d", loaded.TokenVersion)
	}

	if err := store.BumpTokenVersion(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
