package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/internal/repository/postgres"
	"github.com/jwalitptl/consult-api/internal/worker"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/messaging/redis"
)

func setupHealthCheck(port int, ready func(ctx context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("health check server failed")
		}
	}()
	return srv
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yml")
	healthPort := pflag.Int("health-port", 8081, "port of the liveness/readiness server")
	pflag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	}).WithFields(map[string]interface{}{"service": "worker"})
	appLogger.SetGlobal()

	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := postgres.NewDB(ctx, postgres.DBConfig{
		URL:          cfg.Secrets.DatabaseURL,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Storage.MigrateOnStart {
		if err := postgres.RunMigrations(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	healthSrv := setupHealthCheck(*healthPort, db.PingContext)

	var wg sync.WaitGroup

	cleanup := worker.NewSessionCleanupWorker(
		postgres.NewSessionStore(db),
		cfg.Worker.SessionCleanupInterval,
		appLogger,
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	if cfg.Events.Enabled {
		broker, err := redis.NewRedisBroker(ctx, redis.Config{URL: cfg.Secrets.RedisURL}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create Redis broker")
		}
		defer broker.Close()

		listener := worker.NewStatusListener(broker, cfg.Events.Channel, nil, appLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Run(ctx); err != nil {
				appLogger.Error(err, "status listener stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)
}
