package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNonceIssueAndConsume(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	store := NewMemoryNonceStore(5*time.Minute, clock)

	nonce, issueErr := store.Issue(context.Background())
	if issueErr != nil {
		t.Fatalf("unexpected issue error: %v", issueErr)
	}
	if nonce == "" {
		t.Fatalf("expected a non-empty nonce")
	}

	if consumeErr := store.Consume(context.Background(), nonce); consumeErr != nil {
		t.Fatalf("expected fresh nonce to consume, got %v", consumeErr)
	}
	if replayErr := store.Consume(context.Background(), nonce); !errors.Is(replayErr, ErrNonceNotFound) {
		t.Fatalf("expected ErrNonceNotFound on replay, got %v", replayErr)
	}
}

func TestNonceConsumeUnknown(t *testing.T) {
	store := NewMemoryNonceStore(5*time.Minute, nil)

	if err := store.Consume(context.Background(), "never-issued"); !errors.Is(err, ErrNonceNotFound) {
		t.Fatalf("expected ErrNonceNotFound, got %v", err)
	}
}

func TestNonceExpiresAfterTTL(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	store := NewMemoryNonceStore(time.Minute, clock)

	nonce, issueErr := store.Issue(context.Background())
	if issueErr != nil {
		t.Fatalf("unexpected issue error: %v", issueErr)
	}

	clock.Advance(time.Minute + time.Second)
	if err := store.Consume(context.Background(), nonce); !errors.Is(err, ErrNonceExpired) {
		t.Fatalf("expected ErrNonceExpired, got %v", err)
	}
}

func TestNonceIssuesAreUnique(t *testing.T) {
	store := NewMemoryNonceStore(time.Minute, nil)

	seen := make(map[string]struct{})
	for index := 0; index < 32; index++ {
		nonce, issueErr := store.Issue(context.Background())
		if issueErr != nil {
			t.Fatalf("unexpected issue error: %v", issueErr)
		}
		if _, duplicate := seen[nonce]; duplicate {
			t.Fatalf("nonce %q issued twice", nonce)
		}
		seen[nonce] = struct{}{}
	}
}
