package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notify-api/internal/repository"
)

// counterStore keeps fixed-window buckets in Redis. Counters self-expire via
// key TTLs, so Cleanup has nothing to sweep.
type counterStore struct {
	client *redis.Client
	prefix string
}

func NewCounterStore(client *redis.Client, prefix string) repository.CounterStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &counterStore{client: client, prefix: prefix}
}

func (s *counterStore) counterKey(identifier, action string, windowStart time.Time) string {
	return fmt.Sprintf("%s:count:%s:%s:%d", s.prefix, action, identifier, windowStart.Unix())
}

func (s *counterStore) blockKey(identifier, action string) string {
	return fmt.Sprintf("%s:block:%s:%s", s.prefix, action, identifier)
}

// Increment is atomic through INCR; the expiry is attached on first use of
// the bucket only.
func (s *counterStore) Increment(ctx context.Context, identifier, action string, windowStart time.Time, ttl time.Duration) (int, error) {
	key := s.counterKey(identifier, action, windowStart)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *counterStore) SetBlock(ctx context.Context, identifier, action string, windowStart, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	err := s.client.Set(ctx, s.blockKey(identifier, action), until.UTC().Format(time.RFC3339Nano), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set block: %w", err)
	}
	return nil
}

func (s *counterStore) BlockedUntil(ctx context.Context, identifier, action string) (*time.Time, error) {
	val, err := s.client.Get(ctx, s.blockKey(identifier, action)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up block: %w", err)
	}

	until, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("malformed block expiration %q: %w", val, err)
	}
	return &until, nil
}

func (s *counterStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	// Keys carry TTLs; Redis reclaims them itself.
	return 0, nil
}
