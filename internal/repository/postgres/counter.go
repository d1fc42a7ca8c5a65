package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/notify-api/internal/repository"
)

type counterStore struct {
	BaseRepository
}

func NewCounterStore(base BaseRepository) repository.CounterStore {
	return &counterStore{base}
}

// Increment relies on the upsert being a single statement so concurrent
// callers for the same bucket each observe a distinct count.
func (r *counterStore) Increment(ctx context.Context, identifier, action string, windowStart time.Time, ttl time.Duration) (int, error) {
	query := `
		INSERT INTO rate_limit_counters (
			identifier, action, window_start, request_count, expires_at, updated_at
		) VALUES ($1, $2, $3, 1, $4, NOW())
		ON CONFLICT (identifier, action, window_start)
		DO UPDATE SET
			request_count = rate_limit_counters.request_count + 1,
			updated_at = NOW()
		RETURNING request_count
	`

	var count int
	err := r.db.GetContext(ctx, &count, query, identifier, action, windowStart, windowStart.Add(ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

func (r *counterStore) SetBlock(ctx context.Context, identifier, action string, windowStart, until time.Time) error {
	query := `
		UPDATE rate_limit_counters
		SET limit_exceeded = TRUE,
			blocked_until = $4,
			expires_at = GREATEST(expires_at, $4),
			updated_at = NOW()
		WHERE identifier = $1 AND action = $2 AND window_start = $3
	`

	res, err := r.db.ExecContext(ctx, query, identifier, action, windowStart, until)
	if err != nil {
		return fmt.Errorf("failed to set block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no counter row for %s/%s at %s", identifier, action, windowStart)
	}
	return nil
}

// BlockedUntil returns the latest block recorded for the pair across all
// live windows; the limiter decides whether it is still in effect.
func (r *counterStore) BlockedUntil(ctx context.Context, identifier, action string) (*time.Time, error) {
	query := `
		SELECT blocked_until
		FROM rate_limit_counters
		WHERE identifier = $1 AND action = $2 AND blocked_until IS NOT NULL
		ORDER BY blocked_until DESC
		LIMIT 1
	`

	var until time.Time
	err := r.db.GetContext(ctx, &until, query, identifier, action)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up block: %w", err)
	}
	return &until, nil
}

func (r *counterStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM rate_limit_counters
		WHERE expires_at <= $1
		AND (blocked_until IS NULL OR blocked_until <= $1)
	`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up counters: %w", err)
	}
	return res.RowsAffected()
}
