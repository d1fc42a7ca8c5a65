package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/notify-api/internal/repository"
)

// CounterStore is an in-process CounterStore backed by go-cache. Suitable
// for single-instance deployments and for deterministic tests; multi-node
// setups should use the redis or postgres store.
type CounterStore struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	blocks map[string]time.Time
}

func NewCounterStore() *CounterStore {
	return &CounterStore{
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		blocks: make(map[string]time.Time),
	}
}

func counterKey(identifier, action string, windowStart time.Time) string {
	return fmt.Sprintf("%s|%s|%d", action, identifier, windowStart.Unix())
}

func blockKey(identifier, action string) string {
	return fmt.Sprintf("%s|%s", action, identifier)
}

func (s *CounterStore) Increment(ctx context.Context, identifier, action string, windowStart time.Time, ttl time.Duration) (int, error) {
	key := counterKey(identifier, action, windowStart)

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(key); ok {
		count := v.(int) + 1
		s.cache.Set(key, count, ttl)
		return count, nil
	}
	s.cache.Set(key, 1, ttl)
	return 1, nil
}

func (s *CounterStore) SetBlock(ctx context.Context, identifier, action string, windowStart, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[blockKey(identifier, action)] = until
	return nil
}

func (s *CounterStore) BlockedUntil(ctx context.Context, identifier, action string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[blockKey(identifier, action)]
	if !ok {
		return nil, nil
	}
	return &until, nil
}

func (s *CounterStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.cache.ItemCount()
	s.cache.DeleteExpired()
	removed := int64(before - s.cache.ItemCount())

	for key, until := range s.blocks {
		if !until.After(now) {
			delete(s.blocks, key)
			removed++
		}
	}
	return removed, nil
}

var _ repository.CounterStore = (*CounterStore)(nil)
