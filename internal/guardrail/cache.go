package guardrail

import (
	"sync"
	"time"
)

// spendCache memoizes per-limit spend lookups so a burst of checks does not
// hammer the ledger. Entries expire after the TTL; there is no invalidation
// on write, so enforcement can lag spend by at most one TTL.
type spendCache struct {
	mu      sync.RWMutex
	entries map[string]spendEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

type spendEntry struct {
	value     float64
	expiresAt time.Time
}

func newSpendCache(ttl time.Duration, now func() time.Time) *spendCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &spendCache{
		entries: make(map[string]spendEntry),
		ttl:     ttl,
		nowFunc: now,
	}
}

func (c *spendCache) get(key string) (float64, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.nowFunc().After(e.expiresAt) {
		return 0, false
	}
	return e.value, true
}

func (c *spendCache) set(key string, value float64) {
	c.mu.Lock()
	c.entries[key] = spendEntry{value: value, expiresAt: c.nowFunc().Add(c.ttl)}
	c.mu.Unlock()
}

// add bumps a cached value in place so enforcement sees spend committed
// since the last ledger lookup. A missing or expired entry is left alone;
// the next get falls through to the ledger.
func (c *spendCache) add(key string, delta float64) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !c.nowFunc().After(e.expiresAt) {
		e.value += delta
		c.entries[key] = e
	}
	c.mu.Unlock()
}

func (c *spendCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
