// Package api exposes the rollup lifecycle over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/rollhost/internal/core/domain"
)

// =============================================================================
// Manager Interface
// =============================================================================

// Manager is the lifecycle surface the API serves. Implemented by
// engine.Manager; faked in tests.
type Manager interface {
	Create(ctx context.Context, serviceID uint64, cfg domain.RollupConfig) (string, error)
	Start(ctx context.Context, rollupID string) error
	Stop(ctx context.Context, rollupID string) error
	Delete(ctx context.Context, rollupID string) error
	Status(rollupID string) (string, error)
	Get(rollupID string) (*domain.RollupRecord, error)
	List() []domain.RollupRecord

	GetByServiceID(serviceID uint64) (*domain.RollupRecord, error)
	StartByServiceID(ctx context.Context, serviceID uint64) error
	StopByServiceID(ctx context.Context, serviceID uint64) error
	DeleteByServiceID(ctx context.Context, serviceID uint64) error

	ServiceLogs(ctx context.Context, rollupID, service string) (string, error)
	ExecInService(ctx context.Context, rollupID, service string, cmd []string) (string, error)
}

// =============================================================================
// Router Setup
// =============================================================================

// Config holds the API dependencies.
type Config struct {
	Manager Manager
	Logger  *slog.Logger
}

// SetupAPI builds the HTTP handler with all rollup routes mounted.
func SetupAPI(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handler{manager: cfg.Manager, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute)) // contract deployment is slow

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/rollups", func(r chi.Router) {
			r.Post("/", h.createRollup)
			r.Get("/", h.listRollups)

			r.Route("/{rollupID}", func(r chi.Router) {
				r.Get("/", h.getRollup)
				r.Delete("/", h.deleteRollup)
				r.Get("/status", h.rollupStatus)
				r.Post("/start", h.startRollup)
				r.Post("/stop", h.stopRollup)
				r.Get("/services/{service}/logs", h.serviceLogs)
				r.Post("/services/{service}/exec", h.serviceExec)
			})
		})

		// Service-scoped routes address the newest rollup of a service.
		r.Route("/services/{serviceID}/rollup", func(r chi.Router) {
			r.Get("/", h.getServiceRollup)
			r.Delete("/", h.deleteServiceRollup)
			r.Get("/status", h.serviceRollupStatus)
			r.Post("/start", h.startServiceRollup)
			r.Post("/stop", h.stopServiceRollup)
		})
	})

	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
