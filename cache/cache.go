// Package cache provides the process-wide TTL cache shared by resolutions.
package cache

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"panplay/internal"
	"panplay/metrics"
)

// DefaultTTL applies to entries stored without an explicit ttl
const DefaultTTL = 3600 * time.Second

// entry keeps value and expiry together so readers never see a torn pair
type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a concurrent key/value store with per-entry expiry. Expired
// entries are invisible to Get and evicted on read; Cleanup sweeps the rest.
type TTLCache struct {
	items      cmap.ConcurrentMap[string, entry]
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures a TTLCache
type Option func(*TTLCache)

// WithDefaultTTL overrides the ttl used when Set is given none
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *TTLCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		c.now = now
	}
}

// New creates an empty cache
func New(opts ...Option) *TTLCache {
	c := &TTLCache{
		items:      cmap.New[entry](),
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key if it has not expired
func (c *TTLCache) Get(key string) (any, bool) {
	e, ok := c.items.Get(key)
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	if !c.now().Before(e.expiresAt) {
		// Only evict if the entry is still the expired one; a concurrent Set wins.
		removed := c.items.RemoveCb(key, func(_ string, current entry, exists bool) bool {
			return exists && !c.now().Before(current.expiresAt)
		})
		if removed {
			metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		}
		metrics.CacheLookupsTotal.WithLabelValues("expired").Inc()
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	internal.LogDebug("cache hit: %s", key)
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl means the default.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.items.Set(key, entry{value: value, expiresAt: c.now().Add(ttl)})
	internal.LogDebug("cache set: %s, ttl: %s", key, ttl)
}

// SetDefault stores value under key with the default ttl
func (c *TTLCache) SetDefault(key string, value any) {
	c.Set(key, value, 0)
}

// Delete removes key if present
func (c *TTLCache) Delete(key string) {
	if _, ok := c.items.Pop(key); ok {
		metrics.CacheEvictionsTotal.WithLabelValues("deleted").Inc()
		internal.LogDebug("cache delete: %s", key)
	}
}

// Clear removes every entry
func (c *TTLCache) Clear() {
	n := c.items.Count()
	c.items.Clear()
	metrics.CacheEvictionsTotal.WithLabelValues("cleared").Add(float64(n))
	internal.LogInfo("cache cleared (%d entries)", n)
}

// Cleanup removes all expired entries and returns how many were removed
func (c *TTLCache) Cleanup() int {
	now := c.now()

	var expired []string
	c.items.IterCb(func(key string, e entry) {
		if !now.Before(e.expiresAt) {
			expired = append(expired, key)
		}
	})

	removed := 0
	for _, key := range expired {
		if c.items.RemoveCb(key, func(_ string, current entry, exists bool) bool {
			return exists && !now.Before(current.expiresAt)
		}) {
			removed++
		}
	}

	if removed > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Add(float64(removed))
		internal.LogInfo("cache cleanup removed %d expired entries", removed)
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *TTLCache) Len() int {
	return c.items.Count()
}
