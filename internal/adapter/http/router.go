package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/botledger/internal/adapter/http/handler"
	"github.com/iho/botledger/internal/adapter/http/middleware"
	"github.com/iho/botledger/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Logger                zerolog.Logger
	HealthHandler         *handler.HealthHandler
	LedgerHandler         *handler.LedgerHandler
	LotHandler            *handler.LotHandler
	MappingHandler        *handler.MappingHandler
	ReconciliationHandler *handler.ReconciliationHandler
	SyncHandler           *handler.SyncHandler
	IdempotencyStore      usecase.IdempotencyStore
	IdempotencyTTL        time.Duration
	RateLimiter           *middleware.RateLimiter
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Metrics)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore).WithTTL(cfg.IdempotencyTTL).Wrap)
		}

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/groups", cfg.LedgerHandler.PostGroup)
			r.Get("/groups/{id}", cfg.LedgerHandler.GetGroup)
			r.Get("/legs", cfg.LedgerHandler.ListLegs)
			r.Patch("/legs/{id}", cfg.LedgerHandler.EditLeg)
			r.Get("/balances", cfg.LedgerHandler.Balances)
			r.Get("/validate", cfg.LedgerHandler.Validate)
		})

		r.Route("/lots", func(r chi.Router) {
			r.Get("/", cfg.LotHandler.ListOpen)
			r.Post("/", cfg.LotHandler.Open)
			r.Post("/close", cfg.LotHandler.Close)
			r.Get("/closures", cfg.LotHandler.Closures)
		})

		r.Route("/mapping", func(r chi.Router) {
			r.Get("/", cfg.MappingHandler.Current)
			r.Get("/versions", cfg.MappingHandler.History)
			r.Get("/versions/{version}", cfg.MappingHandler.Version)
			r.Post("/rules", cfg.MappingHandler.Upsert)
			r.Post("/rollback", cfg.MappingHandler.Rollback)
			r.Get("/export", cfg.MappingHandler.Export)
			r.Post("/import", cfg.MappingHandler.Import)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/", cfg.ReconciliationHandler.List)
			r.Get("/export", cfg.ReconciliationHandler.Export)
			r.Post("/{id}/resolve", cfg.ReconciliationHandler.Resolve)
		})

		r.Post("/sync", cfg.SyncHandler.Run)
	})

	return r
}
