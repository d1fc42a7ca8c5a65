package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/registry"
	"github.com/jwalitptl/notify-api/internal/repository/memory"
	"github.com/jwalitptl/notify-api/internal/sender"
	"github.com/jwalitptl/notify-api/pkg/clock"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

type fakeSender struct {
	mu      sync.Mutex
	channel string
	fail    bool
	calls   int
}

func (f *fakeSender) Channel() string {
	return f.channel
}

func (f *fakeSender) Send(ctx context.Context, recipientID, subject, body string) (sender.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return sender.Result{Status: model.AttemptStatusFailed}, errors.New("provider unavailable")
	}
	return sender.Result{ProviderCode: "200", Status: model.AttemptStatusSent}, nil
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	dispatcher *Dispatcher
	store      *memory.NotificationStore
	clock      *clock.FakeClock
}

func newFixture(t *testing.T, senders []sender.Sender, types []model.NotificationType, rules []model.RateLimitRule) *fixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memory.NewNotificationStore()

	reg := registry.New()
	require.NoError(t, reg.RegisterAll(types))

	limiter := ratelimit.NewLimiter(memory.NewCounterStore(), clk, nil, nil)
	require.NoError(t, limiter.SetRules(rules))

	d := New(store, reg, limiter, senders, Config{
		BaseRetryDelay: time.Second,
		SendTimeout:    time.Second,
	}, clk, nil, nil)

	return &fixture{dispatcher: d, store: store, clock: clk}
}

func emailType(throttleMinutes int) model.NotificationType {
	return model.NotificationType{
		Name:                  "welcome",
		Channels:              []string{"email"},
		Priority:              model.PriorityNormal,
		ThrottleWindowMinutes: throttleMinutes,
		TemplateSubject:       "Welcome",
		TemplateBody:          "Hello there.",
		MaxRetries:            3,
	}
}

func TestEnqueueUnknownType(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	_, err := f.dispatcher.Enqueue(context.Background(), "user-1", "missing", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownType)
}

func TestEnqueuePersistsPendingNotification(t *testing.T) {
	f := newFixture(t, nil, []model.NotificationType{emailType(0)}, nil)

	res, err := f.dispatcher.Enqueue(context.Background(), "user-1", "welcome", nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Throttled)

	n, err := f.store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Equal(t, "Welcome", n.Subject)
	assert.Equal(t, model.ChannelList{"email"}, n.Channels)
	assert.Equal(t, 3, n.MaxRetries)
	assert.Equal(t, 0, n.RetryCount)
}

func TestEnqueueAppliesOverrides(t *testing.T) {
	f := newFixture(t, nil, []model.NotificationType{emailType(0)}, nil)

	later := f.clock.Now().Add(time.Hour)
	res, err := f.dispatcher.Enqueue(context.Background(), "user-1", "welcome", &Overrides{
		Subject:  "Custom subject",
		Channels: []string{"sms"},
		Priority: model.PriorityUrgent,
	}, &later)
	require.NoError(t, err)

	n, err := f.store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Custom subject", n.Subject)
	assert.Equal(t, model.ChannelList{"sms"}, n.Channels)
	assert.Equal(t, model.PriorityUrgent, n.Priority)
	assert.Equal(t, later, n.ScheduledAt)
}

func TestEnqueueThrottleDeduplicates(t *testing.T) {
	f := newFixture(t, nil, []model.NotificationType{emailType(60)}, nil)
	ctx := context.Background()

	first, err := f.dispatcher.Enqueue(ctx, "user-a", "welcome", nil, nil)
	require.NoError(t, err)
	assert.False(t, first.Throttled)

	f.clock.Advance(5 * time.Minute)
	second, err := f.dispatcher.Enqueue(ctx, "user-a", "welcome", nil, nil)
	require.NoError(t, err)
	assert.True(t, second.Throttled)
	assert.Equal(t, uuid.Nil, second.ID)

	// A different recipient is not throttled.
	third, err := f.dispatcher.Enqueue(ctx, "user-b", "welcome", nil, nil)
	require.NoError(t, err)
	assert.False(t, third.Throttled)

	// Past the window the same recipient may enqueue again.
	f.clock.Advance(56 * time.Minute)
	fourth, err := f.dispatcher.Enqueue(ctx, "user-a", "welcome", nil, nil)
	require.NoError(t, err)
	assert.False(t, fourth.Throttled)
}

func TestProcessBatchDeliversAndRecordsAttempt(t *testing.T) {
	snd := &fakeSender{channel: "email"}
	f := newFixture(t, []sender.Sender{snd}, []model.NotificationType{emailType(0)}, nil)
	ctx := context.Background()

	res, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)

	processed, err := f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, snd.sendCount())

	n, attempts, err := f.dispatcher.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, n.Status)
	require.NotNil(t, n.SentAt)
	require.Len(t, attempts, 1)
	assert.Equal(t, "email", attempts[0].Channel)
	assert.Equal(t, model.AttemptStatusSent, attempts[0].Status)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
}

func TestProcessBatchSkipsFutureNotifications(t *testing.T) {
	snd := &fakeSender{channel: "email"}
	f := newFixture(t, []sender.Sender{snd}, []model.NotificationType{emailType(0)}, nil)
	ctx := context.Background()

	later := f.clock.Now().Add(time.Hour)
	_, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, &later)
	require.NoError(t, err)

	processed, err := f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, snd.sendCount())
}

func TestProcessBatchOrdersByPriority(t *testing.T) {
	snd := &fakeSender{channel: "email"}
	urgent := emailType(0)
	urgent.Name = "alert"
	urgent.Priority = model.PriorityUrgent

	f := newFixture(t, []sender.Sender{snd}, []model.NotificationType{emailType(0), urgent}, nil)
	ctx := context.Background()

	low, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	top, err := f.dispatcher.Enqueue(ctx, "user-1", "alert", nil, nil)
	require.NoError(t, err)

	// The urgent notification wins the single slot despite being newer.
	processed, err := f.dispatcher.ProcessBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	n, _, err := f.dispatcher.Get(ctx, top.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, n.Status)

	n, _, err = f.dispatcher.Get(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
}

func TestRetryBackoffUntilExhaustion(t *testing.T) {
	snd := &fakeSender{channel: "email", fail: true}
	f := newFixture(t, []sender.Sender{snd}, []model.NotificationType{emailType(0)}, nil)
	ctx := context.Background()

	res, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)

	var retrySchedules []time.Time
	// max_retries = 3 means 4 total attempts: initial + 3 retries.
	for attempt := 1; attempt <= 4; attempt++ {
		processed, err := f.dispatcher.ProcessBatch(ctx, 10)
		require.NoError(t, err)

		n, attempts, err := f.dispatcher.Get(ctx, res.ID)
		require.NoError(t, err)
		assert.Len(t, attempts, attempt)

		if attempt < 4 {
			assert.Equal(t, 0, processed)
			assert.Equal(t, model.NotificationStatusPending, n.Status)
			assert.Equal(t, attempt, n.RetryCount)
			require.NotNil(t, n.NextRetryAt)
			retrySchedules = append(retrySchedules, *n.NextRetryAt)
			f.clock.Set(n.ScheduledAt.Add(time.Second))
		} else {
			assert.Equal(t, 1, processed)
			assert.Equal(t, model.NotificationStatusFailed, n.Status)
			require.NotNil(t, n.LastError)
		}
	}

	assert.Equal(t, 4, snd.sendCount())
	for i := 1; i < len(retrySchedules); i++ {
		assert.True(t, retrySchedules[i].After(retrySchedules[i-1]),
			"retry %d must be scheduled after retry %d", i+1, i)
	}

	// Terminal failure is final: nothing further is picked up.
	f.clock.Advance(time.Hour)
	processed, err := f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 4, snd.sendCount())
}

func TestSentIfAnyChannelSucceeds(t *testing.T) {
	good := &fakeSender{channel: "email"}
	bad := &fakeSender{channel: "sms", fail: true}

	multi := emailType(0)
	multi.Channels = []string{"email", "sms"}

	f := newFixture(t, []sender.Sender{good, bad}, []model.NotificationType{multi}, nil)
	ctx := context.Background()

	res, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)

	processed, err := f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	n, attempts, err := f.dispatcher.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, n.Status)
	require.Len(t, attempts, 2)

	byChannel := map[string]model.AttemptStatus{}
	for _, a := range attempts {
		byChannel[a.Channel] = a.Status
	}
	assert.Equal(t, model.AttemptStatusSent, byChannel["email"])
	assert.Equal(t, model.AttemptStatusFailed, byChannel["sms"])
}

func TestMissingSenderRecordsFailedAttempt(t *testing.T) {
	f := newFixture(t, nil, []model.NotificationType{emailType(0)}, nil)
	ctx := context.Background()

	res, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)

	_, err = f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	n, attempts, err := f.dispatcher.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.AttemptStatusFailed, attempts[0].Status)
	require.NotNil(t, attempts[0].ErrorMessage)
	assert.Contains(t, *attempts[0].ErrorMessage, "no sender registered")
}

func TestSendRateLimitReschedulesWithoutAttempt(t *testing.T) {
	snd := &fakeSender{channel: "email"}
	f := newFixture(t, []sender.Sender{snd}, []model.NotificationType{emailType(0)},
		[]model.RateLimitRule{{
			Action:            "notification:welcome",
			RequestsPerWindow: 1,
			WindowSeconds:     3600,
		}})
	ctx := context.Background()

	first, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)
	second, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)

	processed, err := f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, snd.sendCount())

	// Exactly one of the two went out; the other is pending again at the
	// limiter's reset time, with no attempt recorded.
	var sentID, heldID = first.ID, second.ID
	n, _, err := f.dispatcher.Get(ctx, first.ID)
	require.NoError(t, err)
	if n.Status != model.NotificationStatusSent {
		sentID, heldID = second.ID, first.ID
	}

	n, attempts, err := f.dispatcher.Get(ctx, sentID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, n.Status)
	assert.Len(t, attempts, 1)

	n, attempts, err = f.dispatcher.Get(ctx, heldID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Empty(t, attempts)
	assert.True(t, n.ScheduledAt.After(f.clock.Now()))
}

func TestConcurrentProcessBatchSendsOnce(t *testing.T) {
	snd := &fakeSender{channel: "email"}
	f := newFixture(t, []sender.Sender{snd}, []model.NotificationType{emailType(0)}, nil)
	ctx := context.Background()

	_, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)

	const workers = 8
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processed, err := f.dispatcher.ProcessBatch(ctx, 10)
			assert.NoError(t, err)
			results <- processed
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for p := range results {
		total += p
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, snd.sendCount())
}

func TestCancelSemantics(t *testing.T) {
	snd := &fakeSender{channel: "email"}
	f := newFixture(t, []sender.Sender{snd}, []model.NotificationType{emailType(0)}, nil)
	ctx := context.Background()

	res, err := f.dispatcher.Enqueue(ctx, "user-1", "welcome", nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Cancel(ctx, res.ID))

	n, _, err := f.dispatcher.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusCancelled, n.Status)

	// Cancelled notifications are never claimed or sent.
	processed, err := f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, snd.sendCount())

	// Cancelling anything non-pending is a programmer error.
	assert.ErrorIs(t, f.dispatcher.Cancel(ctx, res.ID), apperrors.ErrInvalidState)

	sent, err := f.dispatcher.Enqueue(ctx, "user-2", "welcome", nil, nil)
	require.NoError(t, err)
	_, err = f.dispatcher.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.ErrorIs(t, f.dispatcher.Cancel(ctx, sent.ID), apperrors.ErrInvalidState)
}

func TestCancelMissingNotification(t *testing.T) {
	f := newFixture(t, nil, []model.NotificationType{emailType(0)}, nil)

	err := f.dispatcher.Cancel(context.Background(), uuid.New())
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrNotFound, appErr.Code)
}
