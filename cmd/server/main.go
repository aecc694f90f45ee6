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

	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/botledger/internal/adapter/http"
	"github.com/iho/botledger/internal/adapter/http/handler"
	"github.com/iho/botledger/internal/adapter/http/middleware"
	"github.com/iho/botledger/internal/app"
	"github.com/iho/botledger/internal/infrastructure/config"
	"github.com/iho/botledger/internal/infrastructure/logger"
	"github.com/iho/botledger/internal/infrastructure/metrics"
)

const limiterIdle = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true, Metrics: metrics.New()})
	if err != nil {
		return err
	}
	defer a.Close()

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	router := httpAdapter.NewRouter(routerConfig(a, rateLimiter))

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	publisher := a.NewEventPublisher(cfg.OutboxInterval, cfg.OutboxRetention)
	go func() {
		if err := publisher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("event publisher stopped")
		}
	}()

	go cleanupLimiters(ctx, rateLimiter, a.Logger)

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.Logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if n, err := publisher.Drain(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("outbox drain failed")
	} else if n > 0 {
		a.Logger.Info().Int("published", n).Msg("outbox drained")
	}

	a.Logger.Info().Msg("server stopped")
	return nil
}

func routerConfig(a *app.App, rateLimiter *middleware.RateLimiter) httpAdapter.RouterConfig {
	cfg := httpAdapter.RouterConfig{
		Logger:                a.Logger,
		HealthHandler:         handler.NewHealthHandler(a.Pool, a.Redis, a.Identity.String()),
		LedgerHandler:         handler.NewLedgerHandler(a.Posting),
		LotHandler:            handler.NewLotHandler(a.Lots),
		MappingHandler:        handler.NewMappingHandler(a.Mapping),
		ReconciliationHandler: handler.NewReconciliationHandler(a.Reconciliation),
		SyncHandler:           handler.NewSyncHandler(a.Sync),
		IdempotencyTTL:        a.Config.IdempotencyTTL,
		RateLimiter:           rateLimiter,
	}
	if a.IdempotencyStore != nil {
		cfg.IdempotencyStore = a.IdempotencyStore
	}
	return cfg
}

func cleanupLimiters(ctx context.Context, rl *middleware.RateLimiter, log zerolog.Logger) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.CleanupLimiters(limiterIdle); n > 0 {
				log.Debug().Int("removed", n).Msg("rate limiters pruned")
			}
		}
	}
}
