package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

const keyPrefix = "weather:"

// MemcachedStore implements Store on memcached, for sharing the cache
// between replicas. The server enforces the TTL, so Prune is a no-op:
// expired entries are evicted by memcached itself and Lookup never sees
// them.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated
// list (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout
// and maxIdleConns configure the client; both use package defaults if
// zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
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
	return &MemcachedStore{client: client}, nil
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

func (s *MemcachedStore) key(k string) string {
	return keyPrefix + k
}

// Lookup returns the record for key. Misses and server-side expiries
// both return false, nil; transport failures are infrastructure errors.
func (s *MemcachedStore) Lookup(ctx context.Context, key string, ttl time.Duration) (models.Weather, bool, error) {
	if ctx.Err() != nil {
		return models.Weather{}, false, ctx.Err()
	}
	item, err := s.client.Get(s.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return models.Weather{}, false, nil
		}
		return models.Weather{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var w models.Weather
	if err := json.Unmarshal(item.Value, &w); err != nil {
		return models.Weather{}, false, fmt.Errorf("decode cached weather: %w", err)
	}
	if !w.Fresh(time.Now(), ttl) {
		return models.Weather{}, false, nil
	}
	return w, true, nil
}

// Insert stores value under key with ttl as the server-side expiration.
func (s *MemcachedStore) Insert(ctx context.Context, key string, value models.Weather, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode weather: %w", err)
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days, memcached protocol limit
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 600
	}
	if err := s.client.Set(&memcache.Item{
		Key:        s.key(key),
		Value:      raw,
		Expiration: expSec,
	}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// Prune implements Store. Memcached evicts expired entries server-side,
// so there is nothing to sweep.
func (s *MemcachedStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

// Ping checks if memcached is reachable. Used by health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
