package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository"
	"github.com/jwalitptl/notify-api/pkg/clock"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

// Decision is the outcome of one Check call. Remaining is -1 when the
// action has no configured rule.
type Decision struct {
	Allowed      bool       `json:"allowed"`
	Remaining    int        `json:"remaining"`
	ResetAt      time.Time  `json:"reset_at"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// Limiter is a fixed-window rate limiter over a shared counter store.
// Windows are aligned by truncating the current time to the rule's window
// length, so bursts straddling a boundary can reach up to twice the nominal
// rate. That matches the counter layout this service inherited and is a
// known trade-off against a sliding window.
type Limiter struct {
	mu    sync.RWMutex
	rules map[string]model.RateLimitRule

	store   repository.CounterStore
	clock   clock.Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewLimiter(store repository.CounterStore, clk clock.Clock, log *logger.Logger, m *metrics.Metrics) *Limiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Limiter{
		rules:   make(map[string]model.RateLimitRule),
		store:   store,
		clock:   clk,
		logger:  log,
		metrics: m,
	}
}

// SetRules validates and installs the rule set, replacing any previous one.
// Callers may invoke it at runtime; in-progress windows keep their counts
// because buckets are keyed by window start, not by rule.
func (l *Limiter) SetRules(rules []model.RateLimitRule) error {
	next := make(map[string]model.RateLimitRule, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return apperrors.NewConfiguration(fmt.Sprintf("rate limit rule %q", r.Action), err)
		}
		if _, dup := next[r.Action]; dup {
			return apperrors.NewConfiguration(fmt.Sprintf("duplicate rate limit rule %q", r.Action), nil)
		}
		next[r.Action] = r
	}

	l.mu.Lock()
	l.rules = next
	l.mu.Unlock()
	return nil
}

// Rule returns the configured rule for an action, if any.
func (l *Limiter) Rule(action string) (model.RateLimitRule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rules[action]
	return r, ok
}

// Check decides whether a new attempt by identifier for action is allowed.
// An active block short-circuits without touching the counter; otherwise the
// store's atomic increment decides, so two concurrent callers can never both
// take the last slot in a window.
func (l *Limiter) Check(ctx context.Context, identifier, action string) (Decision, error) {
	rule, ok := l.Rule(action)
	if !ok {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := l.clock.Now()

	blocked, err := l.store.BlockedUntil(ctx, identifier, action)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check for %s/%s: %w", identifier, action, err)
	}
	if blocked != nil && blocked.After(now) {
		l.count(action, "blocked")
		return Decision{
			Allowed:      false,
			Remaining:    0,
			ResetAt:      *blocked,
			BlockedUntil: blocked,
		}, nil
	}

	windowStart := now.Truncate(rule.Window())
	resetAt := windowStart.Add(rule.Window())

	count, err := l.store.Increment(ctx, identifier, action, windowStart, rule.CounterTTL())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit increment for %s/%s: %w", identifier, action, err)
	}

	if count > rule.RequestsPerWindow {
		dec := Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
		if rule.BlockDurationSeconds > 0 {
			until := now.Add(rule.BlockDuration())
			if err := l.store.SetBlock(ctx, identifier, action, windowStart, until); err != nil {
				return Decision{}, fmt.Errorf("rate limit block for %s/%s: %w", identifier, action, err)
			}
			dec.BlockedUntil = &until
			dec.ResetAt = until
			l.logger.Warn("rate limit block set",
				"identifier", identifier,
				"action", action,
				"blocked_until", until)
		}
		l.count(action, "denied")
		return dec, nil
	}

	l.count(action, "allowed")
	return Decision{
		Allowed:   true,
		Remaining: rule.RequestsPerWindow - count,
		ResetAt:   resetAt,
	}, nil
}

// Cleanup sweeps counters whose window and any block period have elapsed.
// Safe to run concurrently with Check.
func (l *Limiter) Cleanup(ctx context.Context) (int64, error) {
	removed, err := l.store.Cleanup(ctx, l.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("rate limit cleanup: %w", err)
	}
	if l.metrics != nil {
		l.metrics.CountersCleaned.Add(float64(removed))
	}
	return removed, nil
}

func (l *Limiter) count(action, outcome string) {
	if l.metrics != nil {
		l.metrics.LimiterDecisions.WithLabelValues(action, outcome).Inc()
	}
}
