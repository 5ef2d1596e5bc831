package sessionstore

import (
	"context"
	"net/http/cookiejar"
	"strings"
	"testing"
	"time"
)

// flakyTier wraps a MemoryTier and fails operations on demand while counting
// accesses, so tests can observe which tiers the coordinator touched.
type flakyTier struct {
	name     string
	backing  *MemoryTier
	failGet  bool
	failSet  bool
	getCalls int
	setCalls int
}

func newFlakyTier(name string) *flakyTier {
	return &flakyTier{name: name, backing: NewMemoryTier()}
}

func (tier *flakyTier) Name() string {
	return tier.name
}

func (tier *flakyTier) Get(ctx context.Context, key string) (string, bool, error) {
	tier.getCalls++
	if tier.failGet {
		return "", false, ErrStorageUnavailable
	}
	return tier.backing.Get(ctx, key)
}

func (tier *flakyTier) Set(ctx context.Context, key string, value string) error {
	tier.setCalls++
	if tier.failSet {
		return ErrStorageUnavailable
	}
	return tier.backing.Set(ctx, key, value)
}

func (tier *flakyTier) Delete(ctx context.Context, key string) error {
	return tier.backing.Delete(ctx, key)
}

func mustContain(t *testing.T, tier Tier, key string, expected string) {
	t.Helper()
	value, found, getErr := tier.Get(context.Background(), key)
	if getErr != nil {
		t.Fatalf("unexpected error reading %s: %v", tier.Name(), getErr)
	}
	if !found || value != expected {
		t.Fatalf("expected tier %s to hold %q, got %q (found=%v)", tier.Name(), expected, value, found)
	}
}

func TestWriteFansOutAndSwallowsTierFailures(t *testing.T) {
	t.Parallel()
	fast := newFlakyTier("fast")
	broken := newFlakyTier("broken")
	broken.failSet = true
	durable := newFlakyTier("durable")
	coordinator := NewCoordinator([]Tier{fast, broken}, durable, nil)

	coordinator.Write(context.Background(), "profile", "payload", DurabilityAll)

	mustContain(t, fast, "profile", "payload")
	mustContain(t, durable, "profile", "payload")
	if broken.setCalls != 1 {
		t.Fatalf("expected failing tier to still be attempted, got %d calls", broken.setCalls)
	}
}

func TestWriteSessionOnlySkipsDurableTier(t *testing.T) {
	t.Parallel()
	fast := newFlakyTier("fast")
	durable := newFlakyTier("durable")
	coordinator := NewCoordinator([]Tier{fast}, durable, nil)

	coordinator.Write(context.Background(), "token", "ephemeral", DurabilitySessionOnly)

	mustContain(t, fast, "token", "ephemeral")
	if durable.setCalls != 0 {
		t.Fatalf("session-only write must not reach the durable tier, saw %d calls", durable.setCalls)
	}
}

func TestReadAsyncRepairsMissedTiers(t *testing.T) {
	t.Parallel()
	fast := newFlakyTier("fast")
	slow := newFlakyTier("slow")
	durable := newFlakyTier("durable")
	coordinator := NewCoordinator([]Tier{fast, slow}, durable, nil)

	// Seed only the lowest-priority tier, as after a process restart.
	if err := durable.Set(context.Background(), "profile", "restored"); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	value, found := coordinator.ReadAsync(context.Background(), "profile")
	if !found || value != "restored" {
		t.Fatalf("expected durable hit, got %q (found=%v)", value, found)
	}

	mustContain(t, fast, "profile", "restored")
	mustContain(t, slow, "profile", "restored")
}

func TestReadAsyncSkipsFailingTier(t *testing.T) {
	t.Parallel()
	broken := newFlakyTier("broken")
	broken.failGet = true
	healthy := newFlakyTier("healthy")
	coordinator := NewCoordinator([]Tier{broken, healthy}, nil, nil)

	if err := healthy.Set(context.Background(), "key", "value"); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	value, found := coordinator.ReadAsync(context.Background(), "key")
	if !found || value != "value" {
		t.Fatalf("expected fallthrough past the failing tier, got %q (found=%v)", value, found)
	}
}

func TestReadAsyncMissReturnsAbsent(t *testing.T) {
	t.Parallel()
	coordinator := NewCoordinator([]Tier{newFlakyTier("only")}, nil, nil)

	if value, found := coordinator.ReadAsync(context.Background(), "absent"); found {
		t.Fatalf("expected miss, got %q", value)
	}
}

func TestReadSyncNeverTouchesDurableTier(t *testing.T) {
	t.Parallel()
	fast := newFlakyTier("fast")
	durable := newFlakyTier("durable")
	coordinator := NewCoordinator([]Tier{fast}, durable, nil)

	if err := durable.Set(context.Background(), "profile", "restored"); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	if value, found := coordinator.ReadSync("profile"); found {
		t.Fatalf("sync read must not consult the durable tier, got %q", value)
	}
	if durable.getCalls != 0 {
		t.Fatalf("expected zero durable reads, got %d", durable.getCalls)
	}

	// A sync-tier hit still works and repairs higher-priority sync tiers.
	second := newFlakyTier("second")
	twoTier := NewCoordinator([]Tier{fast, second}, durable, nil)
	if err := second.Set(context.Background(), "token", "live"); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	if value, found := twoTier.ReadSync("token"); !found || value != "live" {
		t.Fatalf("expected sync hit, got %q (found=%v)", value, found)
	}
	mustContain(t, fast, "token", "live")
}

func TestRemoveClearsEveryTier(t *testing.T) {
	t.Parallel()
	fast := newFlakyTier("fast")
	durable := newFlakyTier("durable")
	coordinator := NewCoordinator([]Tier{fast}, durable, nil)

	coordinator.Write(context.Background(), "profile", "payload", DurabilityAll)
	coordinator.Remove(context.Background(), "profile")

	if _, found, _ := fast.Get(context.Background(), "profile"); found {
		t.Fatalf("expected fast tier cleared")
	}
	if _, found, _ := durable.Get(context.Background(), "profile"); found {
		t.Fatalf("expected durable tier cleared")
	}
}

func TestCookieTierRoundTrip(t *testing.T) {
	t.Parallel()
	jar, jarErr := cookiejar.New(nil)
	if jarErr != nil {
		t.Fatalf("unexpected jar error: %v", jarErr)
	}
	tier, tierErr := NewCookieTier(jar, "https://api.example.com", time.Hour)
	if tierErr != nil {
		t.Fatalf("unexpected tier error: %v", tierErr)
	}

	payload := `{"user_id":"u-1","email":"user@example.com"}`
	if err := tier.Set(context.Background(), "auth_user", payload); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	value, found, getErr := tier.Get(context.Background(), "auth_user")
	if getErr != nil {
		t.Fatalf("unexpected get error: %v", getErr)
	}
	if !found || value != payload {
		t.Fatalf("expected %q back, got %q (found=%v)", payload, value, found)
	}

	if err := tier.Delete(context.Background(), "auth_user"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, found, _ := tier.Get(context.Background(), "auth_user"); found {
		t.Fatalf("expected cookie removed after delete")
	}
}

func TestCookieTierTruncatesOversizedValues(t *testing.T) {
	t.Parallel()
	jar, jarErr := cookiejar.New(nil)
	if jarErr != nil {
		t.Fatalf("unexpected jar error: %v", jarErr)
	}
	tier, tierErr := NewCookieTier(jar, "https://api.example.com", time.Hour)
	if tierErr != nil {
		t.Fatalf("unexpected tier error: %v", tierErr)
	}

	oversized := strings.Repeat("a", 3*maxCookieValueBytes)
	if err := tier.Set(context.Background(), "big", oversized); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	value, found, getErr := tier.Get(context.Background(), "big")
	if getErr != nil || !found {
		t.Fatalf("expected truncated value present, err=%v found=%v", getErr, found)
	}
	if len(value) == 0 || len(value) > maxCookieValueBytes {
		t.Fatalf("expected value truncated to at most %d bytes, got %d", maxCookieValueBytes, len(value))
	}
	if !strings.HasPrefix(oversized, value) {
		t.Fatalf("expected truncation to preserve the prefix")
	}
}

func TestCookieTierRejectsBadOrigin(t *testing.T) {
	t.Parallel()
	jar, jarErr := cookiejar.New(nil)
	if jarErr != nil {
		t.Fatalf("unexpected jar error: %v", jarErr)
	}
	if _, err := NewCookieTier(jar, "not a url", time.Hour); err == nil {
		t.Fatalf("expected error for unparseable origin")
	}
	if _, err := NewCookieTier(nil, "https://api.example.com", time.Hour); err == nil {
		t.Fatalf("expected error for nil jar")
	}
}
