package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/notify-api/internal/config"
	"github.com/jwalitptl/notify-api/internal/dispatcher"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/registry"
	"github.com/jwalitptl/notify-api/internal/repository"
	"github.com/jwalitptl/notify-api/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/notify-api/internal/repository/redis"
	"github.com/jwalitptl/notify-api/internal/sender"
	emailSender "github.com/jwalitptl/notify-api/internal/sender/email"
	inappSender "github.com/jwalitptl/notify-api/internal/sender/inapp"
	"github.com/jwalitptl/notify-api/pkg/clock"
	"github.com/jwalitptl/notify-api/pkg/logger"
	messagingredis "github.com/jwalitptl/notify-api/pkg/messaging/redis"
	"github.com/jwalitptl/notify-api/pkg/metrics"
	"github.com/jwalitptl/notify-api/pkg/worker"

	"github.com/prometheus/client_golang/prometheus"
)

func setupHealthCheck(appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			appLogger.ZL.Error().Err(err).Msg("Health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database.ToPostgresConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	promRegistry := prometheus.NewRegistry()
	m := metrics.New("notify_worker")
	m.Register(promRegistry)

	base := postgres.NewBaseRepository(db)
	notificationRepo := postgres.NewNotificationRepository(base)

	var counterStore repository.CounterStore
	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to parse Redis URL")
		}
		counterStore = redisrepo.NewCounterStore(goredis.NewClient(opts), "ratelimit")
	} else {
		counterStore = postgres.NewCounterStore(base)
	}

	clk := clock.RealClock{}

	limiter := ratelimit.NewLimiter(counterStore, clk, appLogger, m)
	if err := limiter.SetRules(cfg.RateLimit.ToRules()); err != nil {
		log.Fatal().Err(err).Msg("Invalid rate limit rules")
	}

	typeRegistry := registry.New()
	if err := typeRegistry.RegisterAll(cfg.Notifications.ToTypes()); err != nil {
		log.Fatal().Err(err).Msg("Invalid notification types")
	}

	d := dispatcher.New(
		notificationRepo,
		typeRegistry,
		limiter,
		buildSenders(cfg, appLogger),
		dispatcher.Config{
			DefaultMaxRetries: cfg.Dispatcher.MaxRetries,
			BaseRetryDelay:    cfg.Dispatcher.BaseRetryDelay,
			SendTimeout:       cfg.Dispatcher.SendTimeout,
		},
		clk,
		appLogger,
		m,
	)

	processor := worker.NewProcessor(d, worker.ProcessorConfig{
		BatchSize:    cfg.Dispatcher.BatchSize,
		PollInterval: cfg.Dispatcher.PollInterval,
	}, appLogger)

	maintenance := worker.NewMaintenance(notificationRepo, limiter, worker.MaintenanceConfig{
		ClaimLease: cfg.Dispatcher.ClaimLease,
		Retention:  cfg.Dispatcher.Retention,
	}, clk, appLogger)

	setupHealthCheck(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Maintenance sweeps run on their own schedule, decoupled from the
	// dispatch tick.
	c := cron.New()
	c.AddFunc(fmt.Sprintf("@every %s", cfg.Dispatcher.CleanupInterval), func() { maintenance.CleanupCounters(ctx) })
	c.AddFunc("@every 1m", func() { maintenance.ReclaimStuck(ctx) })
	c.AddFunc("@hourly", func() { maintenance.ArchiveTerminal(ctx) })
	c.Start()
	defer c.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	processor.Start(ctx)
}

func buildSenders(cfg *config.Config, appLogger *logger.Logger) []sender.Sender {
	var senders []sender.Sender

	if cfg.SMTP.Host != "" {
		es, err := emailSender.NewSender(emailSender.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid SMTP configuration")
		}
		senders = append(senders, es)
	} else {
		senders = append(senders, sender.NewLogSender("email", appLogger))
	}

	if cfg.Redis.URL != "" {
		broker, err := messagingredis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &appLogger.ZL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Redis broker")
		}
		senders = append(senders, inappSender.NewSender(broker))
	} else {
		senders = append(senders, sender.NewLogSender("in_app", appLogger))
	}

	senders = append(senders,
		sender.NewLogSender("sms", appLogger),
		sender.NewLogSender("push", appLogger),
	)
	return senders
}
