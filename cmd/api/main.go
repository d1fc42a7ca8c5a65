package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notify-api/internal/config"
	"github.com/jwalitptl/notify-api/internal/dispatcher"
	healthHandler "github.com/jwalitptl/notify-api/internal/handler/health"
	notificationHandler "github.com/jwalitptl/notify-api/internal/handler/notification"
	ratelimitHandler "github.com/jwalitptl/notify-api/internal/handler/ratelimit"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/registry"
	"github.com/jwalitptl/notify-api/internal/repository"
	"github.com/jwalitptl/notify-api/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/notify-api/internal/repository/redis"
	"github.com/jwalitptl/notify-api/internal/router"
	"github.com/jwalitptl/notify-api/internal/sender"
	emailSender "github.com/jwalitptl/notify-api/internal/sender/email"
	inappSender "github.com/jwalitptl/notify-api/internal/sender/inapp"
	"github.com/jwalitptl/notify-api/pkg/clock"
	"github.com/jwalitptl/notify-api/pkg/logger"
	messagingredis "github.com/jwalitptl/notify-api/pkg/messaging/redis"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database.ToPostgresConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	promRegistry := prometheus.NewRegistry()
	m := metrics.New("notify")
	m.Register(promRegistry)

	base := postgres.NewBaseRepository(db)
	notificationRepo := postgres.NewNotificationRepository(base)

	// The counter store prefers Redis when configured; the postgres store
	// covers single-store deployments.
	var counterStore repository.CounterStore
	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse Redis URL")
		}
		counterStore = redisrepo.NewCounterStore(goredis.NewClient(opts), "ratelimit")
	} else {
		counterStore = postgres.NewCounterStore(base)
	}

	clk := clock.RealClock{}

	limiter := ratelimit.NewLimiter(counterStore, clk, appLogger, m)
	if err := limiter.SetRules(cfg.RateLimit.ToRules()); err != nil {
		log.Fatal().Err(err).Msg("invalid rate limit rules")
	}

	typeRegistry := registry.New()
	if err := typeRegistry.RegisterAll(cfg.Notifications.ToTypes()); err != nil {
		log.Fatal().Err(err).Msg("invalid notification types")
	}

	senders := buildSenders(cfg, appLogger)

	d := dispatcher.New(
		notificationRepo,
		typeRegistry,
		limiter,
		senders,
		dispatcher.Config{
			DefaultMaxRetries: cfg.Dispatcher.MaxRetries,
			BaseRetryDelay:    cfg.Dispatcher.BaseRetryDelay,
			SendTimeout:       cfg.Dispatcher.SendTimeout,
		},
		clk,
		appLogger,
		m,
	)

	r := router.NewRouter(
		notificationHandler.NewHandler(d),
		ratelimitHandler.NewHandler(limiter),
		healthHandler.NewHandler(db),
		promRegistry,
		router.Config{
			RateLimit: rate.Limit(cfg.Server.RequestsPerSecond),
			RateBurst: cfg.Server.Burst,
		},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("API server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
}

// buildSenders wires the channel senders the deployment supports. Channels
// without a provider get the log sender so attempts still record an outcome.
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
			log.Fatal().Err(err).Msg("invalid SMTP configuration")
		}
		senders = append(senders, es)
	} else {
		senders = append(senders, sender.NewLogSender("email", appLogger))
	}

	if cfg.Redis.URL != "" {
		broker, err := messagingredis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &appLogger.ZL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create Redis broker")
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
