package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// Store is the authoritative holder of weather records and the single
// source of truth for freshness decisions. Lookup returns a record only
// while it is younger than ttl; Insert is an unconditional upsert
// (last writer wins); Prune removes every entry whose age is at least
// olderThan and returns how many were removed.
//
// Implementations must serialize lookups, inserts, and prunes so that
// no two operations observe or mutate state concurrently. Callers must
// never hold a store operation open across a network call.
type Store interface {
	Lookup(ctx context.Context, key string, ttl time.Duration) (models.Weather, bool, error)
	Insert(ctx context.Context, key string, value models.Weather, ttl time.Duration) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Ping() error
	Close() error
}

// InMemoryStore implements Store with a mutex-guarded map. Freshness is
// re-checked per entry on Lookup (stale entries are deleted on access),
// so skipping Prune only delays reclamation, never correctness.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]models.Weather
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]models.Weather),
	}
}

// Lookup returns the record for key if present and younger than ttl.
// Stale entries behave as a miss and are removed on access.
func (s *InMemoryStore) Lookup(ctx context.Context, key string, ttl time.Duration) (models.Weather, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.data[key]
	if !ok {
		return models.Weather{}, false, nil
	}
	if !w.Fresh(time.Now(), ttl) {
		delete(s.data, key)
		return models.Weather{}, false, nil
	}
	return w, true, nil
}

// Insert stores value under key, replacing any existing entry. The ttl
// argument is unused here; freshness is derived from value.CreatedAt.
func (s *InMemoryStore) Insert(ctx context.Context, key string, value models.Weather, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Prune removes every entry whose age is >= olderThan and returns the
// number of removed entries.
func (s *InMemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, w := range s.data {
		if w.Age(now) >= olderThan {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

// Ping implements Store. The in-memory store is always reachable.
func (s *InMemoryStore) Ping() error { return nil }

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }

// Len returns the number of physically present entries, fresh or stale.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
