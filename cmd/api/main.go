package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/jwalitptl/consult-api/internal/audio"
	"github.com/jwalitptl/consult-api/internal/config"
	authHandler "github.com/jwalitptl/consult-api/internal/handler/auth"
	consultationHandler "github.com/jwalitptl/consult-api/internal/handler/consultation"
	"github.com/jwalitptl/consult-api/internal/handler/health"
	patientHandler "github.com/jwalitptl/consult-api/internal/handler/patient"
	"github.com/jwalitptl/consult-api/internal/handler/prometheus"
	"github.com/jwalitptl/consult-api/internal/media"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/repository/baas"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/repository/postgres"
	redisRepo "github.com/jwalitptl/consult-api/internal/repository/redis"
	"github.com/jwalitptl/consult-api/internal/router"
	authService "github.com/jwalitptl/consult-api/internal/service/auth"
	consultationService "github.com/jwalitptl/consult-api/internal/service/consultation"
	patientService "github.com/jwalitptl/consult-api/internal/service/patient"
	"github.com/jwalitptl/consult-api/internal/transcription"
	"github.com/jwalitptl/consult-api/internal/validation"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/messaging"
	redisBroker "github.com/jwalitptl/consult-api/pkg/messaging/redis"
	"github.com/jwalitptl/consult-api/pkg/metrics"
	"github.com/jwalitptl/consult-api/pkg/security"
)

const metricsNamespace = "consult"

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yml")
	pflag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	})
	appLogger.SetGlobal()

	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := map[string]health.Pinger{}

	// Storage
	var db *sqlx.DB
	openDB := func() *sqlx.DB {
		if db != nil {
			return db
		}
		db, err = postgres.NewDB(ctx, postgres.DBConfig{
			URL:             cfg.Secrets.DatabaseURL,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if cfg.Storage.MigrateOnStart {
			if err := postgres.RunMigrations(ctx, db); err != nil {
				log.Fatal().Err(err).Msg("failed to run migrations")
			}
		}
		deps["database"] = pingFunc(db.PingContext)
		return db
	}

	var store repository.Store
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		store = postgres.NewStore(openDB())
	case config.DriverBaaS:
		store = baas.NewStore(baas.Config{
			URL:     cfg.Secrets.BaaSURL,
			Key:     cfg.Secrets.BaaSKey,
			Timeout: cfg.Storage.BaaSTimeout,
		})
		deps["baas"] = store
	default:
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		store = memory.NewStore()
	}
	defer store.Close()

	// Redis backs sessions and status events when configured
	var redisClient *goredis.Client
	if cfg.Secrets.RedisURL != "" && (cfg.Session.Store == config.DriverRedis || cfg.Events.Enabled) {
		opts, err := goredis.ParseURL(cfg.Secrets.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse Redis URL")
		}
		redisClient = goredis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer redisClient.Close()
		deps["redis"] = pingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	var sessions repository.SessionRepository
	switch cfg.Session.Store {
	case config.DriverRedis:
		sessions = redisRepo.NewSessionStore(redisClient)
	case config.DriverPostgres:
		sessions = postgres.NewSessionStore(openDB())
	default:
		sessions = memory.NewSessionStore(10 * time.Minute)
	}
	if db != nil {
		defer db.Close()
	}

	var events messaging.Publisher = messaging.NopBroker{}
	if cfg.Events.Enabled {
		events = redisBroker.NewRedisBrokerFromClient(redisClient, log.Logger)
	}

	var mediaStore media.Store = media.NewInlineStore()
	if cfg.Media.Driver == config.DriverS3 {
		mediaStore, err = media.NewS3Store(ctx, media.S3Config{
			Bucket:    cfg.Media.Bucket,
			Region:    cfg.Media.Region,
			Endpoint:  cfg.Media.Endpoint,
			PublicURL: cfg.Media.PublicURL,
			Prefix:    cfg.Media.Prefix,
			AccessKey: cfg.Secrets.S3AccessKeyID,
			SecretKey: cfg.Secrets.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize media store")
		}
	}

	// Metrics
	var promHandler *prometheus.Handler
	var domainMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		promHandler = prometheus.New(metricsNamespace)
		domainMetrics = metrics.New(metricsNamespace, promHandler.Registry())
	} else {
		domainMetrics = metrics.New(metricsNamespace, nil)
	}

	transcriber := transcription.NewWebhookClient(transcription.WebhookConfig{
		URL:             cfg.Secrets.TranscriptionWebhookURL,
		Timeout:         cfg.Transcription.Timeout,
		RetryCount:      cfg.Transcription.RetryCount,
		RetryWait:       cfg.Transcription.RetryWait,
		BreakerFailures: cfg.Transcription.BreakerFailures,
		BreakerTimeout:  cfg.Transcription.BreakerTimeout,
	}, domainMetrics, log.Logger)

	// Services
	validator := validation.New()
	authSvc := authService.NewService(
		store.Users(),
		sessions,
		security.NewHasher(cfg.Session.Hasher, cfg.Session.BcryptCost),
		validator,
		domainMetrics,
		authService.Config{Secret: cfg.Secrets.SessionSecret, TTL: cfg.Session.TTL},
		appLogger,
	)
	patientSvc := patientService.NewService(store.Patients(), validator, appLogger)
	uploadLimit := audio.UploadLimit(cfg.Audio.MaxPayloadBytes, cfg.Server.MaxBodyBytes)
	if uploadLimit < cfg.Audio.MaxPayloadBytes {
		appLogger.Warn("inline audio is capped by the request body limit",
			"audio_max_payload_bytes", cfg.Audio.MaxPayloadBytes,
			"server_max_body_bytes", cfg.Server.MaxBodyBytes,
			"effective_bytes", uploadLimit)
	}
	consultationSvc := consultationService.NewService(
		store.Consultations(),
		store.Patients(),
		store.Users(),
		mediaStore,
		transcriber,
		events,
		validator,
		domainMetrics,
		consultationService.Config{
			MaxPayloadBytes: uploadLimit,
			EventChannel:    cfg.Events.Channel,
		},
		appLogger,
	)

	// Handlers
	authMW := middleware.NewAuthMiddleware(authSvc, cfg.Session.CookieName)
	loginLimiter := func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		loginLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  middleware.PerMinute(int(cfg.RateLimit.LoginPerMinute)),
			Burst: cfg.RateLimit.LoginBurst,
		}).RateLimit()
	}

	routerConfig := router.Config{
		Production:   cfg.Server.IsProduction(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		CORSOrigins:  cfg.CORS.AllowedOrigins,
		MetricsPath:  cfg.Metrics.Path,
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		routerConfig.Burst = cfg.RateLimit.Burst
	}

	r := router.NewRouter(
		routerConfig,
		authMW,
		promHandler,
		health.NewHandler(deps),
		authHandler.NewHandler(authSvc, authMW, loginLimiter, authHandler.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Server.IsProduction(),
		}),
		patientHandler.NewHandler(patientSvc),
		consultationHandler.NewHandler(consultationSvc),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("storage", cfg.Storage.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
