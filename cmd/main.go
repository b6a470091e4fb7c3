// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackletloose/hall-events/internal/config"
	"github.com/hackletloose/hall-events/internal/database"
	"github.com/hackletloose/hall-events/internal/handler"
	"github.com/hackletloose/hall-events/internal/notify"
	"github.com/hackletloose/hall-events/internal/repository"
	"github.com/hackletloose/hall-events/internal/repository/postgres"
	"github.com/hackletloose/hall-events/internal/repository/sqlite"
	"github.com/hackletloose/hall-events/internal/scheduler"
	"github.com/hackletloose/hall-events/internal/service"
	"github.com/hackletloose/hall-events/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	runWorker := flag.Bool("worker", false, "also consume the notification queue in this process")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("could not load .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Open the store ────────────────────────────────────────────────
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open store")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("store ready")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	notifier := notify.New(cfg.Redis)
	defer notifier.Close()

	eventSvc := service.NewEventService(store, notifier)
	signupSvc := service.NewSignupService(store, notifier)

	if *runWorker {
		if w := notify.NewWorker(cfg.Redis, notify.LogNotifier{}); w != nil {
			if err := w.Start(); err != nil {
				logger.Fatal().Err(err).Msg("start notification worker")
			}
			defer w.Stop()
		} else {
			logger.Warn().Msg("worker requested but redis is disabled")
		}
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, eventSvc)
		if err := sched.Start(); err != nil {
			logger.Fatal().Err(err).Msg("start scheduler")
		}
		defer sched.Stop()
	}

	limiter := handler.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer limiter.Stop()

	// ── 3. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.NewRouter(handler.New(eventSvc, signupSvc), limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil
	default:
		db, err := database.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return sqlite.New(db), nil
	}
}
