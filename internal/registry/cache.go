package registry

import (
	"sync"
	"time"

	"github.com/aosanya/fleetctl/internal/agent"
)

// readThroughCache is the Registry's local cache for Get, default 30s
// TTL. List/filter operations read their id sets from the store's
// indexes, then load each record through Get, so the records they
// return may come from this cache.
type readThroughCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	agent   agent.Agent
	cachedAt time.Time
}

func newReadThroughCache(ttl time.Duration) *readThroughCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &readThroughCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *readThroughCache) get(id string) (agent.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || time.Since(e.cachedAt) > c.ttl {
		return agent.Agent{}, false
	}
	return e.agent, true
}

func (c *readThroughCache) put(a agent.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[a.ID] = cacheEntry{agent: a, cachedAt: time.Now()}
}

func (c *readThroughCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
