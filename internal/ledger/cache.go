package ledger

import (
	"sync"
	"time"
)

// cacheEntry holds a confirmed anchor.
type cacheEntry struct {
	ref       string
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// confirmationCache remembers anchor hashes the remote ledger has confirmed.
// Anchors are never removed from the ledger, so only positive answers are
// cached; the TTL bounds memory, not staleness.
type confirmationCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newConfirmationCache(ttl time.Duration) *confirmationCache {
	return &confirmationCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

func (c *confirmationCache) get(anchorHash string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[anchorHash]
	if !ok || e.expired() {
		return "", false
	}
	return e.ref, true
}

func (c *confirmationCache) set(anchorHash, ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[anchorHash] = &cacheEntry{ref: ref, expiresAt: time.Now().Add(c.ttl)}
}

// evict removes all expired entries.
func (c *confirmationCache) evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired() {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// len returns the number of cached entries (including expired).
func (c *confirmationCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
