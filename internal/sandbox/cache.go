// internal/sandbox/cache.go
package sandbox

import (
	"sync"
	"time"
)

// TemplateCache caches template source code keyed by the content hash the
// object store reports, never by path. An edited template gets a new hash,
// so staleness is impossible by construction; TTL and the entry cap only
// bound memory.
type TemplateCache struct {
	mu      sync.RWMutex
	entries map[string]templateCacheEntry
	ttl     time.Duration
	max     int
}

type templateCacheEntry struct {
	code    string
	addedAt time.Time
}

func NewTemplateCache(ttl time.Duration, max int) *TemplateCache {
	return &TemplateCache{
		entries: make(map[string]templateCacheEntry),
		ttl:     ttl,
		max:     max,
	}
}

// Get returns the cached source for a content hash.
func (c *TemplateCache) Get(hash string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.ttl > 0 && time.Since(entry.addedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, hash)
		c.mu.Unlock()
		return "", false
	}
	return entry.code, true
}

// Set stores source code under its content hash, evicting the oldest entry
// when the cap is reached.
func (c *TemplateCache) Set(hash, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.max > 0 && len(c.entries) >= c.max {
		if _, exists := c.entries[hash]; !exists {
			c.evictOldestLocked()
		}
	}
	c.entries[hash] = templateCacheEntry{code: code, addedAt: time.Now()}
}

// Len returns the number of live entries.
func (c *TemplateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TemplateCache) evictOldestLocked() {
	var oldestHash string
	var oldestAt time.Time
	for hash, entry := range c.entries {
		if oldestHash == "" || entry.addedAt.Before(oldestAt) {
			oldestHash = hash
			oldestAt = entry.addedAt
		}
	}
	if oldestHash != "" {
		delete(c.entries, oldestHash)
	}
}
