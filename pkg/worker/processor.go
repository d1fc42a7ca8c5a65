package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/notify-api/internal/dispatcher"
	"github.com/jwalitptl/notify-api/pkg/logger"
)

type ProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// Processor drives the dispatcher on a fixed interval. The dispatcher holds
// no background goroutine of its own; this is the external scheduler.
type Processor struct {
	dispatcher *dispatcher.Dispatcher
	config     ProcessorConfig
	logger     *logger.Logger
}

func NewProcessor(d *dispatcher.Dispatcher, config ProcessorConfig, log *logger.Logger) *Processor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Processor{
		dispatcher: d,
		config:     config,
		logger:     log,
	}
}

func (p *Processor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting dispatch processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down dispatch processor")
			return
		case <-ticker.C:
			processed, err := p.dispatcher.ProcessBatch(ctx, p.config.BatchSize)
			if err != nil {
				p.logger.Error(err, "Failed to process batch")
				continue
			}
			if processed > 0 {
				p.logger.Info("Batch processed", "notifications", processed)
			}
		}
	}
}
