package scanner

import (
	"sync"
	"time"

	"github.com/vigilsec/vigil/pkg/types"
)

type cacheEntry struct {
	result    types.ScanResult
	expiresAt time.Time
}

// resultCache is a bounded in-process cache of scan results keyed by content
// hash. Entries expire lazily on lookup; when the cache is full the oldest
// insertion is evicted first. Process-lifetime only, never persisted.
type resultCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	order      []string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func newResultCache(ttl time.Duration, maxEntries int) *resultCache {
	return &resultCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *resultCache) get(hash string) (types.ScanResult, bool) {
	c.mu.RLock()
	entry, exists := c.entries[hash]
	if !exists {
		c.mu.RUnlock()
		return types.ScanResult{}, false
	}
	expired := c.now().After(entry.expiresAt)
	result := entry.result
	c.mu.RUnlock()

	if expired {
		c.mu.Lock()
		if current, ok := c.entries[hash]; ok && c.now().After(current.expiresAt) {
			delete(c.entries, hash)
		}
		c.mu.Unlock()
		return types.ScanResult{}, false
	}
	return result, true
}

func (c *resultCache) set(hash string, result types.ScanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[hash]; !exists {
		for len(c.entries) >= c.maxEntries {
			if !c.evictOldestLocked() {
				break
			}
		}
		c.order = append(c.order, hash)
	}
	c.entries[hash] = &cacheEntry{
		result:    result,
		expiresAt: c.now().Add(c.ttl),
	}
}

// evictOldestLocked drops the oldest live entry. The order slice may hold
// keys already removed by lazy expiry; those are skipped.
func (c *resultCache) evictOldestLocked() bool {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return true
		}
	}
	return false
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
