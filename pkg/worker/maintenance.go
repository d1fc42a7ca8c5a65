package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/repository"
	"github.com/jwalitptl/notify-api/pkg/clock"
	"github.com/jwalitptl/notify-api/pkg/logger"
)

type MaintenanceConfig struct {
	// ClaimLease bounds how long an in_flight claim may live before the
	// notification is handed back to the queue.
	ClaimLease time.Duration
	// Retention is how long terminal notifications stay in the live table.
	Retention time.Duration
}

// Maintenance bundles the periodic sweeps: expired counter cleanup, stuck
// claim reclaim, and terminal-row archival. Each sweep is independent and
// safe to run while processors are active.
type Maintenance struct {
	repo    repository.NotificationRepository
	limiter *ratelimit.Limiter
	config  MaintenanceConfig
	clock   clock.Clock
	logger  *logger.Logger
}

func NewMaintenance(
	repo repository.NotificationRepository,
	limiter *ratelimit.Limiter,
	config MaintenanceConfig,
	clk clock.Clock,
	log *logger.Logger,
) *Maintenance {
	if config.ClaimLease <= 0 {
		config.ClaimLease = 5 * time.Minute
	}
	if config.Retention <= 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Maintenance{
		repo:    repo,
		limiter: limiter,
		config:  config,
		clock:   clk,
		logger:  log,
	}
}

func (m *Maintenance) CleanupCounters(ctx context.Context) {
	removed, err := m.limiter.Cleanup(ctx)
	if err != nil {
		m.logger.Error(err, "Failed to clean up rate limit counters")
		return
	}
	if removed > 0 {
		m.logger.Info("Rate limit counters cleaned", "removed", removed)
	}
}

func (m *Maintenance) ReclaimStuck(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.config.ClaimLease)
	released, err := m.repo.ReleaseStuck(ctx, cutoff)
	if err != nil {
		m.logger.Error(err, "Failed to reclaim stuck notifications")
		return
	}
	if released > 0 {
		m.logger.Warn("Reclaimed stuck notifications", "released", released)
	}
}

func (m *Maintenance) ArchiveTerminal(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.config.Retention)
	moved, err := m.repo.ArchiveTerminal(ctx, cutoff)
	if err != nil {
		m.logger.Error(err, "Failed to archive terminal notifications")
		return
	}
	if moved > 0 {
		m.logger.Info("Archived terminal notifications", "moved", moved)
	}
}
