package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/registry"
	"github.com/jwalitptl/notify-api/internal/repository"
	"github.com/jwalitptl/notify-api/internal/sender"
	"github.com/jwalitptl/notify-api/pkg/clock"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

// sendActionPrefix namespaces the per-recipient send-rate guard so its rules
// never collide with host-defined actions like login_attempt.
const sendActionPrefix = "notification:"

type Config struct {
	DefaultMaxRetries int
	BaseRetryDelay    time.Duration
	SendTimeout       time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// Dispatcher owns the notification state machine: enqueue with throttle
// dedup, claim-based batch processing, per-channel delivery, and retry
// scheduling. It holds no background goroutine; an external scheduler calls
// ProcessBatch on an interval.
type Dispatcher struct {
	repo     repository.NotificationRepository
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	senders  map[string]sender.Sender
	cfg      Config
	clock    clock.Clock
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func New(
	repo repository.NotificationRepository,
	reg *registry.Registry,
	limiter *ratelimit.Limiter,
	senders []sender.Sender,
	cfg Config,
	clk clock.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}

	byChannel := make(map[string]sender.Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}

	return &Dispatcher{
		repo:     repo,
		registry: reg,
		limiter:  limiter,
		senders:  byChannel,
		cfg:      cfg,
		clock:    clk,
		logger:   log,
		metrics:  m,
	}
}

// Overrides optionally replace type defaults at enqueue time.
type Overrides struct {
	Subject  string
	Body     string
	Channels []string
	Priority model.Priority
}

// EnqueueResult reports the outcome of an Enqueue call. Throttled is a
// defined outcome, not an error: the notification was intentionally
// suppressed and nothing was persisted.
type EnqueueResult struct {
	ID        uuid.UUID
	Throttled bool
}

// Enqueue resolves the notification type, applies the per-recipient
// throttle window, and persists a pending notification.
func (d *Dispatcher) Enqueue(ctx context.Context, recipientID, typeName string, ov *Overrides, scheduledAt *time.Time) (*EnqueueResult, error) {
	if recipientID == "" {
		return nil, apperrors.NewBadRequest("recipient_id is required", nil)
	}

	nt, ok := d.registry.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("enqueue for type %q: %w", typeName, apperrors.ErrUnknownType)
	}

	now := d.clock.Now()

	if nt.ThrottleWindowMinutes > 0 {
		since := now.Add(-nt.ThrottleWindow())
		recent, err := d.repo.CreatedSince(ctx, recipientID, typeName, since)
		if err != nil {
			return nil, fmt.Errorf("throttle check: %w", err)
		}
		if recent {
			d.logger.Debug("enqueue throttled",
				"recipient_id", recipientID,
				"type", typeName)
			if d.metrics != nil {
				d.metrics.EnqueueThrottled.Inc()
			}
			return &EnqueueResult{Throttled: true}, nil
		}
	}

	n := &model.Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Type:        typeName,
		Subject:     nt.TemplateSubject,
		Body:        nt.TemplateBody,
		Channels:    model.ChannelList(nt.Channels),
		Priority:    nt.Priority,
		Status:      model.NotificationStatusPending,
		ScheduledAt: now,
		MaxRetries:  d.cfg.DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if nt.MaxRetries > 0 {
		n.MaxRetries = nt.MaxRetries
	}
	if scheduledAt != nil {
		n.ScheduledAt = *scheduledAt
	}
	if ov != nil {
		if ov.Subject != "" {
			n.Subject = ov.Subject
		}
		if ov.Body != "" {
			n.Body = ov.Body
		}
		if len(ov.Channels) > 0 {
			n.Channels = model.ChannelList(ov.Channels)
		}
		if ov.Priority != "" {
			p, err := model.ParsePriority(string(ov.Priority))
			if err != nil {
				return nil, apperrors.NewBadRequest("invalid priority", err)
			}
			n.Priority = p
		}
	}

	if err := d.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	if d.metrics != nil {
		d.metrics.NotificationsEnqueued.Inc()
	}
	d.logger.Debug("notification enqueued",
		"id", n.ID,
		"recipient_id", recipientID,
		"type", typeName)
	return &EnqueueResult{ID: n.ID}, nil
}

// ProcessBatch drains up to batchSize due notifications in priority order
// and returns how many left the pending state (sent, terminally failed).
// A notification whose claim is lost, whose limiter denies, or whose retry
// is rescheduled does not count. Individual failures never abort the batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive")
	}

	var timer *prometheus.Timer
	if d.metrics != nil {
		timer = prometheus.NewTimer(d.metrics.BatchDuration)
		defer timer.ObserveDuration()
	}

	now := d.clock.Now()
	due, err := d.repo.Due(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to select due notifications: %w", err)
	}

	processed := 0
	for _, n := range due {
		ok, err := d.process(ctx, n)
		if err != nil {
			d.logger.Error(err, "failed to process notification", "id", n.ID)
			continue
		}
		if ok {
			processed++
		}
	}
	return processed, nil
}

func (d *Dispatcher) process(ctx context.Context, n *model.Notification) (terminal bool, err error) {
	now := d.clock.Now()

	if err := d.repo.Claim(ctx, n.ID, now); err != nil {
		if errors.Is(err, apperrors.ErrClaimConflict) {
			if d.metrics != nil {
				d.metrics.ClaimConflicts.Inc()
			}
			return false, nil
		}
		return false, err
	}

	// Secondary per-recipient send-rate guard, independent of the
	// enqueue-time throttle. Denials reschedule without recording an
	// attempt.
	if d.limiter != nil {
		dec, err := d.limiter.Check(ctx, n.RecipientID, sendActionPrefix+n.Type)
		if err != nil {
			// Fail open on limiter storage trouble: release back to
			// pending at the original schedule and let the next batch
			// retry the decision.
			d.logger.Error(err, "limiter check failed, releasing", "id", n.ID)
			return false, d.repo.Release(ctx, n.ID, n.ScheduledAt)
		}
		if !dec.Allowed {
			resume := dec.ResetAt
			if dec.BlockedUntil != nil {
				resume = *dec.BlockedUntil
			}
			d.logger.Debug("send rate limited, rescheduling",
				"id", n.ID,
				"recipient_id", n.RecipientID,
				"resume_at", resume)
			return false, d.repo.Release(ctx, n.ID, resume)
		}
	}

	delivered, lastErr := d.deliver(ctx, n)
	now = d.clock.Now()

	if delivered {
		if err := d.repo.MarkSent(ctx, n.ID, now); err != nil {
			return false, err
		}
		if d.metrics != nil {
			d.metrics.NotificationsTerminal.WithLabelValues(string(model.NotificationStatusSent)).Inc()
		}
		return true, nil
	}

	if n.RetryCount < n.MaxRetries {
		retry := n.RetryCount + 1
		next := now.Add(backoffDelay(d.cfg.BaseRetryDelay, retry))
		if err := d.repo.ScheduleRetry(ctx, n.ID, retry, next, lastErr); err != nil {
			return false, err
		}
		if d.metrics != nil {
			d.metrics.RetriesScheduled.Inc()
		}
		d.logger.Warn("delivery failed, retry scheduled",
			"id", n.ID,
			"retry_count", retry,
			"next_retry_at", next)
		return false, nil
	}

	if err := d.repo.MarkFailed(ctx, n.ID, lastErr, now); err != nil {
		return false, err
	}
	if d.metrics != nil {
		d.metrics.NotificationsTerminal.WithLabelValues(string(model.NotificationStatusFailed)).Inc()
	}
	d.logger.Error(errors.New(lastErr), "notification failed terminally",
		"id", n.ID,
		"retry_count", n.RetryCount)
	return true, nil
}

// deliver attempts every configured channel, recording one DeliveryAttempt
// each. The notification counts as delivered when at least one channel
// succeeds. Sender errors and timeouts become failed attempts, never
// surfaced to the caller.
func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) (bool, string) {
	delivered := false
	var failures []string

	for _, ch := range n.Channels {
		attempt := &model.DeliveryAttempt{
			ID:             uuid.New(),
			NotificationID: n.ID,
			Channel:        ch,
			AttemptNumber:  n.RetryCount + 1,
			AttemptedAt:    d.clock.Now(),
		}

		snd, ok := d.senders[ch]
		if !ok {
			msg := fmt.Sprintf("no sender registered for channel %q", ch)
			attempt.Status = model.AttemptStatusFailed
			attempt.ErrorMessage = &msg
			failures = append(failures, msg)
		} else {
			sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			res, err := snd.Send(sctx, n.RecipientID, n.Subject, n.Body)
			cancel()

			if err != nil {
				msg := err.Error()
				attempt.Status = model.AttemptStatusFailed
				if res.Status == model.AttemptStatusBounced {
					attempt.Status = model.AttemptStatusBounced
				}
				attempt.ProviderCode = res.ProviderCode
				attempt.ErrorMessage = &msg
				failures = append(failures, fmt.Sprintf("%s: %s", ch, msg))
			} else {
				attempt.Status = res.Status
				if attempt.Status == "" {
					attempt.Status = model.AttemptStatusSent
				}
				attempt.ProviderCode = res.ProviderCode
				delivered = true
			}
		}

		if d.metrics != nil {
			d.metrics.SendAttempts.WithLabelValues(ch, string(attempt.Status)).Inc()
		}
		if err := d.repo.RecordAttempt(ctx, attempt); err != nil {
			d.logger.Error(err, "failed to record delivery attempt",
				"id", n.ID,
				"channel", ch)
		}
	}

	return delivered, strings.Join(failures, "; ")
}

// Cancel transitions a pending notification to cancelled. Cancelling an
// in-flight or terminal notification is a programmer error and fails with
// ErrInvalidState.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := d.repo.Cancel(ctx, id, d.clock.Now()); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.NotificationsTerminal.WithLabelValues(string(model.NotificationStatusCancelled)).Inc()
	}
	return nil
}

// Get returns a notification and its attempt history for observability.
func (d *Dispatcher) Get(ctx context.Context, id uuid.UUID) (*model.Notification, []*model.DeliveryAttempt, error) {
	n, err := d.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := d.repo.Attempts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return n, attempts, nil
}
