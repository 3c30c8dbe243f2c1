package subset

import (
	"sync"
	"time"
)

// capEntry holds a capability document with its expiration time.
type capEntry struct {
	vars      []Variable
	expiresAt time.Time
}

// capabilityCache is an in-memory TTL cache of capability documents,
// keyed by dataset short name + version. A background routine removes
// expired entries.
type capabilityCache struct {
	mu       sync.RWMutex
	entries  map[string]capEntry
	ttl      time.Duration
	stopChan chan struct{}
}

// newCapabilityCache creates a capability cache. ttl controls how long a
// fetched document is served before re-fetching; cleanupInterval controls
// how often expired entries are swept.
func newCapabilityCache(ttl, cleanupInterval time.Duration) *capabilityCache {
	c := &capabilityCache{
		entries:  make(map[string]capEntry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go c.cleanupLoop(cleanupInterval)

	return c
}

func (c *capabilityCache) get(key string) ([]Variable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.vars, true
}

func (c *capabilityCache) put(key string, vars []Variable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = capEntry{
		vars:      vars,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *capabilityCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// stop stops the background cleanup goroutine.
func (c *capabilityCache) stop() {
	close(c.stopChan)
}

func (c *capabilityCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *capabilityCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
