package capacity

import (
	"sync"
	"time"

	"github.com/ripcord-io/ripcord"
)

// UsageCache holds recently fetched usage snapshots keyed by account id, each
// carrying its fetch time and expiring after a TTL. It is an explicit object
// injected into the controller, never module state.
type UsageCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]usageEntry
}

type usageEntry struct {
	value     ripcord.Usage
	fetchedAt time.Time
}

// NewUsageCache creates a cache with the given TTL. A zero TTL disables
// caching entirely.
func NewUsageCache(ttl time.Duration) *UsageCache {
	return &UsageCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]usageEntry),
	}
}

// Get returns the cached usage for the account if it is still fresh.
func (c *UsageCache) Get(accountID string) (ripcord.Usage, bool) {
	if c == nil || c.ttl == 0 {
		return ripcord.Usage{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[accountID]
	if !ok || c.now().Sub(entry.fetchedAt) > c.ttl {
		return ripcord.Usage{}, false
	}
	return entry.value, true
}

// Put records a freshly fetched usage snapshot.
func (c *UsageCache) Put(accountID string, usage ripcord.Usage) {
	if c == nil || c.ttl == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[accountID] = usageEntry{value: usage, fetchedAt: c.now()}
}

// Invalidate drops the cached snapshot for an account. Called after the
// controller admits new work, since the snapshot is immediately stale.
func (c *UsageCache) Invalidate(accountID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
}
