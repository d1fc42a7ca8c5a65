package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	query := `
		INSERT INTO notifications (
			id, recipient_id, type, subject, body, channels, priority,
			status, scheduled_at, retry_count, max_retries, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.RecipientID,
		n.Type,
		n.Subject,
		n.Body,
		n.Channels,
		n.Priority,
		n.Status,
		n.ScheduledAt,
		n.RetryCount,
		n.MaxRetries,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT * FROM notifications WHERE id = $1`

	var n model.Notification
	err := r.db.GetContext(ctx, &n, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("notification", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) CreatedSince(ctx context.Context, recipientID, typeName string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1 AND type = $2 AND created_at >= $3
		)
	`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, recipientID, typeName, since); err != nil {
		return false, fmt.Errorf("failed to check throttle window: %w", err)
	}
	return exists, nil
}

// Due orders urgent-first, oldest-first. Priority weights are mapped in SQL
// so the column can stay a readable enum string.
func (r *notificationRepository) Due(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	query := `
		SELECT * FROM notifications
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY
			CASE priority
				WHEN 'urgent' THEN 3
				WHEN 'high' THEN 2
				WHEN 'normal' THEN 1
				ELSE 0
			END DESC,
			scheduled_at ASC
		LIMIT $2
	`

	var due []*model.Notification
	err := r.db.SelectContext(ctx, &due, query, now, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select due notifications: %w", err)
	}
	return due, nil
}

// Claim is the concurrency boundary: the conditional update succeeds for
// exactly one caller, and a cancellation that landed first always wins.
func (r *notificationRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'in_flight', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to claim notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("claim %s: %w", id, apperrors.ErrClaimConflict)
	}
	return nil
}

func (r *notificationRepository) Release(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'pending', claimed_at = NULL, scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'
	`

	res, err := r.db.ExecContext(ctx, query, id, scheduledAt)
	if err != nil {
		return fmt.Errorf("failed to release notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("release %s: %w", id, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *notificationRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'sent', sent_at = $2, claimed_at = NULL, last_error = NULL, updated_at = $2
		WHERE id = $1 AND status = 'in_flight'
	`

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark sent %s: %w", id, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *notificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'failed', last_error = $2, claimed_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'in_flight'
	`

	res, err := r.db.ExecContext(ctx, query, id, lastError, now)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark failed %s: %w", id, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *notificationRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, lastError string) error {
	query := `
		UPDATE notifications
		SET status = 'pending',
			retry_count = $2,
			next_retry_at = $3,
			scheduled_at = $3,
			last_error = $4,
			claimed_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'
	`

	res, err := r.db.ExecContext(ctx, query, id, retryCount, nextRetryAt, lastError)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule retry %s: %w", id, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *notificationRepository) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to cancel notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Distinguish a missing row from one in the wrong state.
	var status model.NotificationStatus
	err = r.db.GetContext(ctx, &status, `SELECT status FROM notifications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound("notification", err)
	}
	if err != nil {
		return fmt.Errorf("failed to look up notification: %w", err)
	}
	return fmt.Errorf("cancel %s in status %s: %w", id, status, apperrors.ErrInvalidState)
}

func (r *notificationRepository) RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (
			id, notification_id, channel, attempt_number,
			provider_code, status, error_message, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.NotificationID,
		a.Channel,
		a.AttemptNumber,
		a.ProviderCode,
		a.Status,
		a.ErrorMessage,
		a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

func (r *notificationRepository) Attempts(ctx context.Context, notificationID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	query := `
		SELECT * FROM delivery_attempts
		WHERE notification_id = $1
		ORDER BY attempted_at ASC, attempt_number ASC
	`

	var attempts []*model.DeliveryAttempt
	err := r.db.SelectContext(ctx, &attempts, query, notificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	return attempts, nil
}

func (r *notificationRepository) ReleaseStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET status = 'pending', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'in_flight' AND claimed_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck notifications: %w", err)
	}
	return res.RowsAffected()
}

// ArchiveTerminal copies terminal rows past retention into the archive table
// and removes them from the live queue, in one transaction.
func (r *notificationRepository) ArchiveTerminal(ctx context.Context, before time.Time) (int64, error) {
	var moved int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		insert := `
			INSERT INTO notifications_archive
			SELECT * FROM notifications
			WHERE status IN ('sent', 'delivered', 'failed', 'cancelled')
			AND updated_at < $1
		`
		if _, err := tx.ExecContext(ctx, insert, before); err != nil {
			return fmt.Errorf("failed to copy to archive: %w", err)
		}

		del := `
			DELETE FROM notifications
			WHERE status IN ('sent', 'delivered', 'failed', 'cancelled')
			AND updated_at < $1
		`
		res, err := tx.ExecContext(ctx, del, before)
		if err != nil {
			return fmt.Errorf("failed to delete archived rows: %w", err)
		}
		moved, _ = res.RowsAffected()
		return nil
	})
	return moved, err
}
