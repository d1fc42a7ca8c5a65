package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notify-api/internal/handler/health"
	"github.com/jwalitptl/notify-api/internal/handler/notification"
	"github.com/jwalitptl/notify-api/internal/handler/ratelimit"
	"github.com/jwalitptl/notify-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
}

type Router struct {
	engine        *gin.Engine
	notificationH *notification.Handler
	ratelimitH    *ratelimit.Handler
	healthH       *health.Handler
	registry      *prometheus.Registry
	config        Config
}

func NewRouter(
	notificationH *notification.Handler,
	ratelimitH *ratelimit.Handler,
	healthH *health.Handler,
	metricsRegistry *prometheus.Registry,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	return &Router{
		engine:        gin.New(),
		notificationH: notificationH,
		ratelimitH:    ratelimitH,
		healthH:       healthH,
		registry:      metricsRegistry,
		config:        config,
	}
}

func (r *Router) Setup() *gin.Engine {
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Recovery())

	if r.config.RateLimit > 0 {
		rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		r.engine.Use(rl.RateLimit())
	}

	r.healthH.RegisterRoutes(r.engine)
	if r.registry != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	}

	v1 := r.engine.Group("/api/v1")
	r.notificationH.RegisterRoutes(v1)
	r.ratelimitH.RegisterRoutes(v1)

	return r.engine
}
