// Package sessionstore reconciles a logical key/value across three physical
// storage tiers of differing durability and visibility, repairing
// inconsistency on read. Values are opaque strings; callers serialize
// beforehand. Sensitive material (tokens) must never be routed through this
// package; only identity-display data is.
package sessionstore

import (
	"context"
	"errors"
)

// ErrStorageUnavailable indicates a tier failed an operation. Tier failures
// are always absorbed by the Coordinator and never surfaced to callers.
var ErrStorageUnavailable = errors.New("sessionstore.unavailable")

// Tier is one physical store. Implementations must keep their failures fully
// isolated: an error from one tier never affects another.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// Durability hints which tiers a write should reach.
type Durability int

const (
	// DurabilityAll fans the write out to every tier.
	DurabilityAll Durability = iota
	// DurabilitySessionOnly skips the asynchronous durable tier.
	DurabilitySessionOnly
)
