// Package infra provides shared infrastructure used by the source fetchers:
// a TTL cache, per-source rate limiting and an HTTP client wrapper.
package infra

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with TTL.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given default TTL. A non-positive TTL
// disables caching: Set is a no-op.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value, or false if missing or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores a value with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate removes a key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cleanup removes expired entries. Can be called periodically.
func (c *Cache[V]) Cleanup() {
	c.mu.Lock()
	now := c.now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
