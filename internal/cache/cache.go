// Package cache is a small bounded TTL cache with an injectable clock.
//
// Entries older than TTL are no longer served by Get but remain available
// through GetStale until evicted, so callers can fall back to the last known
// value when a refresh fails.
package cache

import (
	"sync"
	"time"
)

// Default limits.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 256
)

// Options configure a Cache. Zero values pick the defaults.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache maps string keys to values of type V. It is safe for concurrent use.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a cache.
func New[V any](opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
	}
}

// Get returns the value for key if it is younger than the TTL.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStale returns the value for key regardless of age, with the time it
// was stored.
func (c *Cache[V]) GetStale(key string) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, time.Time{}, false
	}
	return e.value, e.storedAt, true
}

// Put stores value under key. When the cache is full the oldest entry is
// evicted.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
}

// Invalidate drops the given keys, or every entry when called with none.
func (c *Cache[V]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 {
		c.entries = make(map[string]entry[V])
		return
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Len returns the number of entries, fresh or stale.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the freshness window.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldestAt) || (e.storedAt.Equal(oldestAt) && k < oldestKey) {
			oldestKey, oldestAt, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
