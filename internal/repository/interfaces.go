package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notify-api/internal/model"
)

// CounterStore holds fixed-window request counts and block expirations.
// Increment must be atomic: concurrent callers for the same key must
// observe distinct counts.
type CounterStore interface {
	// Increment bumps the counter for (identifier, action, windowStart),
	// creating it with count 1 when absent, and returns the post-increment
	// count. ttl bounds how long the bucket stays reclaimable.
	Increment(ctx context.Context, identifier, action string, windowStart time.Time, ttl time.Duration) (int, error)

	// SetBlock marks the current window's bucket exceeded and records the
	// hard block expiration for the (identifier, action) pair.
	SetBlock(ctx context.Context, identifier, action string, windowStart, until time.Time) error

	// BlockedUntil returns the active block expiration, or nil when the
	// pair is not blocked.
	BlockedUntil(ctx context.Context, identifier, action string) (*time.Time, error)

	// Cleanup removes buckets whose window and any block period have fully
	// elapsed as of now. Safe to run concurrently with Increment.
	Cleanup(ctx context.Context, now time.Time) (int64, error)
}

// NotificationRepository is the durable queue of notifications plus their
// delivery-attempt history.
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)

	// CreatedSince reports whether a notification of the given type for the
	// recipient was created at or after since. Drives the enqueue throttle.
	CreatedSince(ctx context.Context, recipientID, typeName string, since time.Time) (bool, error)

	// Due returns up to limit pending notifications with scheduled_at <= now,
	// ordered urgent-first then oldest-first.
	Due(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)

	// Claim transitions pending -> in_flight for the given ID. Returns
	// errors.ErrClaimConflict when the row is no longer pending.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) error

	// Release reverts in_flight -> pending with a new scheduled_at, used
	// when the send-rate limiter denies a claimed notification.
	Release(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error

	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error

	// ScheduleRetry moves in_flight back to pending with the bumped retry
	// count and the computed next attempt time.
	ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, lastError string) error

	// Cancel transitions pending -> cancelled. Returns errors.ErrInvalidState
	// for any other current status and errors.ErrNotFound-wrapped lookups.
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) error

	RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error
	Attempts(ctx context.Context, notificationID uuid.UUID) ([]*model.DeliveryAttempt, error)

	// ReleaseStuck reverts in_flight rows whose claim is older than the
	// lease cutoff, reclaiming work from crashed workers.
	ReleaseStuck(ctx context.Context, olderThan time.Time) (int64, error)

	// ArchiveTerminal moves terminal rows updated before the cutoff out of
	// the live queue.
	ArchiveTerminal(ctx context.Context, before time.Time) (int64, error)
}
