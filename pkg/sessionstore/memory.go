package sessionstore

import (
	"context"
	"sync"
)

// MemoryTier is the fastest tier: synchronous, volatile, visible only to this
// process.
type MemoryTier struct {
	mutex   sync.Mutex
	entries map[string]string
}

// NewMemoryTier constructs an empty MemoryTier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: make(map[string]string)}
}

// Name identifies the tier in logs.
func (tier *MemoryTier) Name() string {
	return "memory"
}

// Get returns the stored value, if any.
func (tier *MemoryTier) Get(ctx context.Context, key string) (string, bool, error) {
	tier.mutex.Lock()
	defer tier.mutex.Unlock()
	value, found := tier.entries[key]
	return value, found, nil
}

// Set stores the value.
func (tier *MemoryTier) Set(ctx context.Context, key string, value string) error {
	tier.mutex.Lock()
	defer tier.mutex.Unlock()
	tier.entries[key] = value
	return nil
}

// Delete removes the value.
func (tier *MemoryTier) Delete(ctx context.Context, key string) error {
	tier.mutex.Lock()
	defer tier.mutex.Unlock()
	delete(tier.entries, key)
	return nil
}
