// Package keyedcache provides an explicitly keyed, time-boxed in-process cache.
// Every entry records when it was fetched and can be invalidated on its own.
package keyedcache

import (
	"strings"
	"sync"
	"time"
)

// Entry is a cached value together with its invalidation key and fetch time.
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time
}

// Cache stores entries that expire after a fixed TTL.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// New constructs a cache with the given TTL. A non-positive TTL disables caching.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]Entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (c *Cache[V]) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// TTL reports the freshness bound of the cache.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the entry for key when it is still fresh.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	if c == nil || c.ttl <= 0 {
		return Entry[V]{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry[V]{}, false
	}
	if c.now().Sub(entry.FetchedAt) > c.ttl {
		c.Invalidate(key)
		return Entry[V]{}, false
	}
	return entry, true
}

// Put stores value under key stamped with the current time.
func (c *Cache[V]) Put(key string, value V) Entry[V] {
	if c == nil {
		return Entry[V]{Key: key, Value: value, FetchedAt: time.Now()}
	}
	entry := Entry[V]{Key: key, Value: value, FetchedAt: c.now()}
	if c.ttl <= 0 {
		return entry
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry
}

// Invalidate drops key. Invalidating a missing key is a no-op.
func (c *Cache[V]) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every key starting with prefix and returns how many were removed.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
