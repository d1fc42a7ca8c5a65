package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all dispatcher metrics
type Metrics struct {
	NotificationsEnqueued prometheus.Counter
	EnqueueThrottled      prometheus.Counter
	NotificationsTerminal *prometheus.CounterVec

	BatchDuration    prometheus.Histogram
	ClaimConflicts   prometheus.Counter
	SendAttempts     *prometheus.CounterVec
	RetriesScheduled prometheus.Counter

	LimiterDecisions *prometheus.CounterVec
	CountersCleaned  prometheus.Counter
}

// New creates the metric set under the given namespace. Collectors are not
// registered here; call Register with the registry the binary exposes.
func New(namespace string) *Metrics {
	return &Metrics{
		NotificationsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_enqueued_total",
			Help:      "Total number of notifications accepted by Enqueue",
		}),
		EnqueueThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_throttled_total",
			Help:      "Total number of Enqueue calls suppressed by the per-type throttle window",
		}),
		NotificationsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_terminal_total",
			Help:      "Notifications reaching a terminal status",
		}, []string{"status"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent in a single ProcessBatch call",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_conflicts_total",
			Help:      "Claims lost to another worker",
		}),
		SendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Delivery attempts by channel and outcome",
		}, []string{"channel", "status"}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Notifications rescheduled with backoff after a failed attempt",
		}),
		LimiterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limiter_decisions_total",
			Help:      "Rate limiter decisions by action and outcome",
		}, []string{"action", "outcome"}),
		CountersCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_counters_cleaned_total",
			Help:      "Expired rate limit counters removed by Cleanup",
		}),
	}
}

// Register registers every collector with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.NotificationsEnqueued,
		m.EnqueueThrottled,
		m.NotificationsTerminal,
		m.BatchDuration,
		m.ClaimConflicts,
		m.SendAttempts,
		m.RetriesScheduled,
		m.LimiterDecisions,
		m.CountersCleaned,
	)
}
