package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/handler/prometheus"
	"github.com/jwalitptl/consult-api/internal/middleware"
)

type Config struct {
	Production   bool
	MaxBodyBytes int64
	CORSOrigins  []string
	// RequestsPerSecond <= 0 disables the global per-client limiter
	RequestsPerSecond float64
	Burst             int
	MetricsPath       string
}

type Router struct {
	engine        *gin.Engine
	config        Config
	auth          *middleware.AuthMiddleware
	metrics       *prometheus.Handler
	healthH       handler.Handler
	authH         handler.Handler
	patientH      handler.Handler
	consultationH handler.Handler
}

// NewRouter builds the engine with the core middleware chain. metrics may be nil.
func NewRouter(
	config Config,
	auth *middleware.AuthMiddleware,
	metrics *prometheus.Handler,
	healthH handler.Handler,
	authH handler.Handler,
	patientH handler.Handler,
	consultationH handler.Handler,
) *Router {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	r := &Router{
		engine:        engine,
		config:        config,
		auth:          auth,
		metrics:       metrics,
		healthH:       healthH,
		authH:         authH,
		patientH:      patientH,
		consultationH: consultationH,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
	)
	if metrics != nil {
		engine.Use(metrics.Middleware())
	}
	engine.Use(
		middleware.CORS(config.CORSOrigins),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig(config.Production)),
		middleware.SizeLimit(middleware.SizeLimitConfig{
			MaxBodySize:   config.MaxBodyBytes,
			MaxHeaderSize: 1 << 14,
		}),
	)

	if config.RequestsPerSecond > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(config.RequestsPerSecond),
			Burst: config.Burst,
		})
		engine.Use(limiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	if r.metrics != nil {
		path := r.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, r.metrics.Handler())
	}

	api := r.engine.Group("/api")

	r.healthH.RegisterRoutes(api)
	r.authH.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.patientH.RegisterRoutes(protected)
	r.consultationH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
