package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "fitted:"

// maxRelativeExp is the largest relative expiration memcached accepts (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// NewMemcachedClient builds a memcache client. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use the package defaults when zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) *memcache.Client {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return client
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// MemcachedCache implements Cache on memcached. Values are JSON encoded; freshness is
// enforced by memcached's own expiration, set to the TTL on every write.
type MemcachedCache[V any] struct {
	client    *memcache.Client
	namespace string
	ttl       time.Duration
}

// NewMemcachedCache returns a cache that stores values under "fitted:<namespace>:<key>".
// Several caches may share one client as long as their namespaces differ.
func NewMemcachedCache[V any](client *memcache.Client, namespace string, ttl time.Duration) *MemcachedCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemcachedCache[V]{client: client, namespace: namespace, ttl: ttl}
}

// key maps a logical key onto a memcached key. Memcached rejects keys with spaces or
// control characters, so those are replaced.
func (c *MemcachedCache[V]) key(k string) string {
	k = strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
	return keyPrefix + c.namespace + ":" + k
}

// Get implements Cache.Get. Returns false, nil on a miss; false, err on a client error.
func (c *MemcachedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(item.Value, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache[V]) Set(ctx context.Context, key string, value V) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(c.ttl),
	})
}

// expirationSeconds converts ttl into memcached's relative expiration, falling back to
// one hour when ttl does not fit.
func expirationSeconds(ttl time.Duration) int32 {
	exp := int64(ttl / time.Second)
	if exp <= 0 || exp > maxRelativeExp {
		return 3600
	}
	return int32(exp)
}
