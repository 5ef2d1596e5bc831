package sessionstore

import (
	"context"

	"go.uber.org/zap"
)

// Coordinator implements priority-read, fan-out-write, and lazy repair over a
// set of synchronous tiers and one asynchronous durable tier. Every tier
// failure is absorbed here: callers only ever observe value-or-absent.
type Coordinator struct {
	syncTiers []Tier
	asyncTier Tier
	logger    *zap.Logger
}

// NewCoordinator builds a Coordinator. syncTiers are probed in priority order
// (fastest first); asyncTier may be nil, in which case only the synchronous
// tiers are used.
func NewCoordinator(syncTiers []Tier, asyncTier Tier, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		syncTiers: syncTiers,
		asyncTier: asyncTier,
		logger:    logger,
	}
}

// Write fans the value out to every tier independently. Per-tier failures are
// logged and swallowed; partial success is acceptable because the next read
// repairs stragglers.
func (coordinator *Coordinator) Write(ctx context.Context, key string, value string, hint Durability) {
	for _, tier := range coordinator.writeTiers(hint) {
		if setErr := tier.Set(ctx, key, value); setErr != nil {
			coordinator.logger.Debug("tier write failed",
				zap.String("code", "sessionstore.write.tier_failed"),
				zap.String("tier", tier.Name()),
				zap.String("key", key),
				zap.Error(setErr))
		}
	}
}

// ReadAsync probes tiers in priority order and returns the first hit. As a
// side effect it repairs the value into every tier that missed, best-effort.
func (coordinator *Coordinator) ReadAsync(ctx context.Context, key string) (string, bool) {
	var missed []Tier
	for _, tier := range coordinator.allTiers() {
		value, found, getErr := tier.Get(ctx, key)
		if getErr != nil {
			coordinator.logger.Debug("tier read failed",
				zap.String("code", "sessionstore.read.tier_failed"),
				zap.String("tier", tier.Name()),
				zap.String("key", key),
				zap.Error(getErr))
			missed = append(missed, tier)
			continue
		}
		if !found {
			missed = append(missed, tier)
			continue
		}
		coordinator.repair(ctx, key, value, missed)
		return value, true
	}
	return "", false
}

// ReadSync consults only the synchronous tiers. It exists for callers that
// cannot suspend; no repair of the durable tier happens here.
func (coordinator *Coordinator) ReadSync(key string) (string, bool) {
	ctx := context.Background()
	var missed []Tier
	for _, tier := range coordinator.syncTiers {
		value, found, getErr := tier.Get(ctx, key)
		if getErr != nil || !found {
			missed = append(missed, tier)
			continue
		}
		coordinator.repair(ctx, key, value, missed)
		return value, true
	}
	return "", false
}

// Remove deletes the key from every tier, best-effort.
func (coordinator *Coordinator) Remove(ctx context.Context, key string) {
	for _, tier := range coordinator.allTiers() {
		if deleteErr := tier.Delete(ctx, key); deleteErr != nil {
			coordinator.logger.Debug("tier delete failed",
				zap.String("code", "sessionstore.remove.tier_failed"),
				zap.String("tier", tier.Name()),
				zap.String("key", key),
				zap.Error(deleteErr))
		}
	}
}

func (coordinator *Coordinator) repair(ctx context.Context, key string, value string, missed []Tier) {
	for _, tier := range missed {
		if setErr := tier.Set(ctx, key, value); setErr != nil {
			coordinator.logger.Debug("tier repair failed",
				zap.String("code", "sessionstore.repair.tier_failed"),
				zap.String("tier", tier.Name()),
				zap.String("key", key),
				zap.Error(setErr))
		}
	}
}

func (coordinator *Coordinator) allTiers() []Tier {
	if coordinator.asyncTier == nil {
		return coordinator.syncTiers
	}
	tiers := make([]Tier, 0, len(coordinator.syncTiers)+1)
	tiers = append(tiers, coordinator.syncTiers...)
	tiers = append(tiers, coordinator.asyncTier)
	return tiers
}

func (coordinator *Coordinator) writeTiers(hint Durability) []Tier {
	if hint == DurabilitySessionOnly {
		return coordinator.syncTiers
	}
	return coordinator.allTiers()
}
