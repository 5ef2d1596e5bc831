package sessionclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProviderUnavailable indicates the identity provider did not become ready
// within the configured ceiling.
var ErrProviderUnavailable = errors.New("sessionclient.provider_unavailable")

// IdentityProvider is the external collaborator that produces a signed
// identity assertion. Readiness is modeled as a channel the provider closes
// once its machinery (script, SDK, device flow) is usable.
type IdentityProvider interface {
	// Ready is closed when the provider can serve SignIn calls.
	Ready() <-chan struct{}
	// SignIn obtains a signed identity assertion from the provider.
	SignIn(ctx context.Context) (assertion string, err error)
	// Disconnect asks the provider to drop auto-select state and revoke the
	// grant. Best-effort.
	Disconnect(ctx context.Context) error
}

const (
	defaultReadyAttempts = 50
	defaultReadyInterval = 100 * time.Millisecond
)

// awaitProviderReady waits for the provider readiness signal under a
// supervisory timer. The observable contract is bounded attempts times
// interval; past the ceiling the wait yields ErrProviderUnavailable.
func awaitProviderReady(ctx context.Context, provider IdentityProvider, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = defaultReadyAttempts
	}
	if interval <= 0 {
		interval = defaultReadyInterval
	}
	ceiling := time.Duration(attempts) * interval
	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	select {
	case <-provider.Ready():
		return nil
	case <-timer.C:
		return fmt.Errorf("sessionclient.await_provider: %w", ErrProviderUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("sessionclient.await_provider: %w", ctx.Err())
	}
}
