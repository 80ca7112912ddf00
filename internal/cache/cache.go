package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTTL is how long a captured value stays fresh unless configured otherwise.
const DefaultTTL = 900 * time.Second

// Cache is a freshness cache: Get returns a value only while it is younger than the
// cache's TTL, Set replaces any prior entry for the key (last write wins).
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
}

// InMemoryCache implements Cache with a map and lazy eviction: expired entries are
// removed on Get, there is no background sweeper.
type InMemoryCache[V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clockwork.Clock
	data  map[string]cacheEntry[V]
}

// cacheEntry stores a value with the time it was captured.
type cacheEntry[V any] struct {
	value      V
	capturedAt time.Time
}

// NewInMemoryCache creates an in-memory cache with the given TTL and the real clock.
func NewInMemoryCache[V any](ttl time.Duration) *InMemoryCache[V] {
	return NewInMemoryCacheWithClock[V](ttl, clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an in-memory cache driven by clock. A non-positive
// ttl falls back to DefaultTTL.
func NewInMemoryCacheWithClock[V any](ttl time.Duration, clock clockwork.Clock) *InMemoryCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryCache[V]{
		ttl:   ttl,
		clock: clock,
		data:  make(map[string]cacheEntry[V]),
	}
}

// Get returns (value, true, nil) when the entry is fresh. A stale entry is deleted
// and reported as a miss.
func (c *InMemoryCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	if c.clock.Since(entry.capturedAt) >= c.ttl {
		delete(c.data, key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set stores value captured now, replacing any prior entry.
func (c *InMemoryCache[V]) Set(ctx context.Context, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry[V]{value: value, capturedAt: c.clock.Now()}
	return nil
}

// Len returns the number of stored entries, fresh or not yet evicted.
func (c *InMemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
