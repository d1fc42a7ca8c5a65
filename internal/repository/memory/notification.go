package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

// NotificationStore is an in-memory NotificationRepository. State lives
// behind one mutex, which makes claim transitions trivially atomic.
type NotificationStore struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*model.Notification
	archive  map[uuid.UUID]*model.Notification
	attempts map[uuid.UUID][]*model.DeliveryAttempt
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		rows:     make(map[uuid.UUID]*model.Notification),
		archive:  make(map[uuid.UUID]*model.Notification),
		attempts: make(map[uuid.UUID][]*model.DeliveryAttempt),
	}
}

func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		if n, ok = s.archive[id]; !ok {
			return nil, apperrors.NewNotFound("notification", nil)
		}
	}
	cp := *n
	return &cp, nil
}

func (s *NotificationStore) CreatedSince(ctx context.Context, recipientID, typeName string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.rows {
		if n.RecipientID == recipientID && n.Type == typeName && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *NotificationStore) Due(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.Notification
	for _, n := range s.rows {
		if n.Status == model.NotificationStatusPending && !n.ScheduledAt.After(now) {
			cp := *n
			due = append(due, &cp)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		wi, wj := due[i].Priority.Weight(), due[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *NotificationStore) Claim(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.Status != model.NotificationStatusPending {
		return fmt.Errorf("claim %s: %w", id, apperrors.ErrClaimConflict)
	}
	n.Status = model.NotificationStatusInFlight
	claimed := now
	n.ClaimedAt = &claimed
	n.UpdatedAt = now
	return nil
}

func (s *NotificationStore) Release(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.Status != model.NotificationStatusInFlight {
		return fmt.Errorf("release %s: %w", id, apperrors.ErrInvalidState)
	}
	n.Status = model.NotificationStatusPending
	n.ClaimedAt = nil
	n.ScheduledAt = scheduledAt
	n.UpdatedAt = time.Now()
	return nil
}

func (s *NotificationStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.Status != model.NotificationStatusInFlight {
		return fmt.Errorf("mark sent %s: %w", id, apperrors.ErrInvalidState)
	}
	n.Status = model.NotificationStatusSent
	sent := at
	n.SentAt = &sent
	n.ClaimedAt = nil
	n.LastError = nil
	n.UpdatedAt = at
	return nil
}

func (s *NotificationStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.Status != model.NotificationStatusInFlight {
		return fmt.Errorf("mark failed %s: %w", id, apperrors.ErrInvalidState)
	}
	n.Status = model.NotificationStatusFailed
	n.LastError = &lastError
	n.ClaimedAt = nil
	n.UpdatedAt = now
	return nil
}

func (s *NotificationStore) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.Status != model.NotificationStatusInFlight {
		return fmt.Errorf("schedule retry %s: %w", id, apperrors.ErrInvalidState)
	}
	n.Status = model.NotificationStatusPending
	n.RetryCount = retryCount
	next := nextRetryAt
	n.NextRetryAt = &next
	n.ScheduledAt = nextRetryAt
	n.LastError = &lastError
	n.ClaimedAt = nil
	n.UpdatedAt = time.Now()
	return nil
}

func (s *NotificationStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return apperrors.NewNotFound("notification", nil)
	}
	if n.Status != model.NotificationStatusPending {
		return fmt.Errorf("cancel %s in status %s: %w", id, n.Status, apperrors.ErrInvalidState)
	}
	n.Status = model.NotificationStatusCancelled
	n.UpdatedAt = now
	return nil
}

func (s *NotificationStore) RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.attempts[a.NotificationID] = append(s.attempts[a.NotificationID], &cp)
	return nil
}

func (s *NotificationStore) Attempts(ctx context.Context, notificationID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.attempts[notificationID]
	out := make([]*model.DeliveryAttempt, 0, len(src))
	for _, a := range src {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *NotificationStore) ReleaseStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, n := range s.rows {
		if n.Status == model.NotificationStatusInFlight && n.ClaimedAt != nil && n.ClaimedAt.Before(olderThan) {
			n.Status = model.NotificationStatusPending
			n.ClaimedAt = nil
			n.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

func (s *NotificationStore) ArchiveTerminal(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved int64
	for id, n := range s.rows {
		if n.Status.Terminal() && n.UpdatedAt.Before(before) {
			s.archive[id] = n
			delete(s.rows, id)
			moved++
		}
	}
	return moved, nil
}

var _ repository.NotificationRepository = (*NotificationStore)(nil)
