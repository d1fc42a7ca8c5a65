package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/internal/model"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

func seedNotification(t *testing.T, s *NotificationStore, status model.NotificationStatus, at time.Time) uuid.UUID {
	t.Helper()

	n := &model.Notification{
		ID:          uuid.New(),
		RecipientID: "user-1",
		Type:        "welcome",
		Channels:    model.ChannelList{"email"},
		Priority:    model.PriorityNormal,
		Status:      model.NotificationStatusPending,
		ScheduledAt: at,
		MaxRetries:  3,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	require.NoError(t, s.Create(context.Background(), n))

	if status != model.NotificationStatusPending {
		require.NoError(t, s.Claim(context.Background(), n.ID, at))
	}
	switch status {
	case model.NotificationStatusSent:
		require.NoError(t, s.MarkSent(context.Background(), n.ID, at))
	case model.NotificationStatusFailed:
		require.NoError(t, s.MarkFailed(context.Background(), n.ID, "boom", at))
	}
	return n.ID
}

func TestClaimIsExclusive(t *testing.T) {
	s := NewNotificationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := seedNotification(t, s, model.NotificationStatusPending, now)

	require.NoError(t, s.Claim(context.Background(), id, now))
	assert.ErrorIs(t, s.Claim(context.Background(), id, now), apperrors.ErrClaimConflict)
}

func TestReleaseStuckReturnsOldClaims(t *testing.T) {
	s := NewNotificationStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	stuck := seedNotification(t, s, model.NotificationStatusInFlight, now.Add(-10*time.Minute))
	fresh := seedNotification(t, s, model.NotificationStatusInFlight, now.Add(-time.Minute))

	released, err := s.ReleaseStuck(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	n, err := s.Get(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Nil(t, n.ClaimedAt)

	n, err = s.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusInFlight, n.Status)
}

func TestArchiveTerminalMovesOnlyOldTerminalRows(t *testing.T) {
	s := NewNotificationStore()
	ctx := context.Background()
	old := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sent := seedNotification(t, s, model.NotificationStatusSent, old)
	failed := seedNotification(t, s, model.NotificationStatusFailed, old)
	recent := seedNotification(t, s, model.NotificationStatusSent, now)
	pending := seedNotification(t, s, model.NotificationStatusPending, old)

	moved, err := s.ArchiveTerminal(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	// Archived rows stay readable through Get.
	for _, id := range []uuid.UUID{sent, failed, recent, pending} {
		_, err := s.Get(ctx, id)
		assert.NoError(t, err)
	}

	// Archived rows are out of the working set.
	due, err := s.Due(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, pending, due[0].ID)
}
