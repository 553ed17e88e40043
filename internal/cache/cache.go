// Package cache provides a TTL key-value service used for idempotent
// response caching and other short-lived lookaside state.
package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/types"
)

var errClosed = errors.New("cache service is closed")

// Service wraps an in-memory TTL cache with hit/miss accounting. All
// methods are safe for concurrent use; operations after Close fail with a
// CacheError.
type Service struct {
	store      *gocache.Cache
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New creates a cache service. Entries default to defaultTTL; expired
// entries are swept at twice that interval.
func New(defaultTTL time.Duration) *Service {
	return &Service{
		store:      gocache.New(defaultTTL, defaultTTL*2),
		defaultTTL: defaultTTL,
	}
}

func (s *Service) check(op string) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return types.NewCacheError(op, errClosed)
	}
	return nil
}

// Get returns the value for key and whether it was present and unexpired.
func (s *Service) Get(key string) (any, bool, error) {
	if err := s.check("get"); err != nil {
		return nil, false, err
	}
	val, found := s.store.Get(key)
	if found {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return val, found, nil
}

// Set stores value under key with the default TTL.
func (s *Service) Set(key string, value any) error {
	return s.SetWithTTL(key, value, s.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL. A zero or
// negative ttl means the entry never expires.
func (s *Service) SetWithTTL(key string, value any, ttl time.Duration) error {
	if err := s.check("set"); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.store.Set(key, value, ttl)
	s.sets.Add(1)
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Service) Delete(key string) error {
	if err := s.check("delete"); err != nil {
		return err
	}
	s.store.Delete(key)
	return nil
}

// Exists reports whether key is present and unexpired, without touching
// the hit/miss counters.
func (s *Service) Exists(key string) (bool, error) {
	if err := s.check("exists"); err != nil {
		return false, err
	}
	_, found := s.store.Get(key)
	return found, nil
}

// Clear drops every entry.
func (s *Service) Clear() error {
	if err := s.check("clear"); err != nil {
		return err
	}
	s.store.Flush()
	return nil
}

// GetOrSet returns the cached value for key, or computes, stores, and
// returns it. The second result is true on a cache hit.
func (s *Service) GetOrSet(key string, compute func() (any, error)) (any, bool, error) {
	val, found, err := s.Get(key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, err = compute()
	if err != nil {
		return nil, false, err
	}
	if err := s.Set(key, val); err != nil {
		return nil, false, err
	}
	return val, false, nil
}

// Increment adds delta to the int64 counter at key, creating it at delta
// with the default TTL when absent.
func (s *Service) Increment(key string, delta int64) (int64, error) {
	if err := s.check("increment"); err != nil {
		return 0, err
	}
	next, err := s.store.IncrementInt64(key, delta)
	if err != nil {
		// Absent or wrong type: (re)seed the counter.
		s.store.Set(key, delta, s.defaultTTL)
		return delta, nil
	}
	return next, nil
}

// Expire resets the TTL of an existing entry. Returns false when the key
// is absent.
func (s *Service) Expire(key string, ttl time.Duration) (bool, error) {
	if err := s.check("expire"); err != nil {
		return false, err
	}
	val, found := s.store.Get(key)
	if !found {
		return false, nil
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.store.Set(key, val, ttl)
	return true, nil
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Items   int     `json:"items"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	HitRate float64 `json:"hit_rate"`
}

func (s *Service) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	st := Stats{
		Items:  s.store.ItemCount(),
		Hits:   hits,
		Misses: misses,
		Sets:   s.sets.Load(),
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}

// Close flushes the cache and rejects further operations.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.store.Flush()
	log.Debug().Msg("Cache service closed")
	return nil
}
