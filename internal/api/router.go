// Package api provides the ops HTTP API of voxgate.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/voxgate/voxgate/internal/api/handler"
	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// Metrics records HTTP instruments. Optional.
	Metrics *middleware.Metrics

	// JWT authenticates operators on mutating endpoints. When nil those
	// endpoints are open; cmd/voxgate allows that only in development.
	JWT *auth.JWTService

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	// Monitor and Orchestrator are required.
	Monitor      *health.Monitor
	Orchestrator *orchestrator.Orchestrator

	// Dispatcher reports event delivery. Optional.
	Dispatcher handler.DispatcherStats
}

// NewRouter creates the ops API router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Monitor, cfg.Dispatcher)
	providerHandler := handler.NewProviderHandler(cfg.Monitor)
	breakerHandler := handler.NewBreakerHandler(cfg.Orchestrator)
	sessionHandler := handler.NewSessionHandler(cfg.Orchestrator)

	readLimit := middleware.RateLimitByIP(middleware.ReadRateLimit)

	// Mutating routes need an admin token when auth is configured and share
	// one per-operator limit.
	var control []func(http.Handler) http.Handler
	if cfg.JWT != nil {
		control = append(control, middleware.OperatorAuth(cfg.JWT, auth.RoleAdmin))
	}
	control = append(control, middleware.RateLimitByOperator(middleware.ControlRateLimit))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.Liveness)
			r.Get("/ready", opsHandler.Readiness)
		})

		r.Group(func(r chi.Router) {
			r.Use(readLimit)

			r.Get("/providers", providerHandler.List)
			r.Get("/providers/healthy", providerHandler.Healthy)
			r.Get("/providers/{providerId}", providerHandler.Get)
			r.Get("/providers/{providerId}/history", providerHandler.History)

			r.Get("/breakers", breakerHandler.List)
			r.Get("/breakers/{providerId}", breakerHandler.Get)

			r.Get("/sessions/{sessionId}", sessionHandler.Binding)
			r.Get("/sessions/{sessionId}/switches", sessionHandler.Switches)
			r.Get("/selections", sessionHandler.Selections)

			r.Get("/events/stats", opsHandler.EventStats)
		})

		r.Group(func(r chi.Router) {
			r.Use(control...)

			r.Post("/probes", providerHandler.ProbeNow)
			r.Post("/providers/{providerId}/enable", providerHandler.Enable)
			r.Post("/providers/{providerId}/disable", providerHandler.Disable)
			r.Post("/breakers/{providerId}/reset", breakerHandler.Reset)
			r.Post("/breakers/{providerId}/open", breakerHandler.ForceOpen)
			r.Post("/sessions/{sessionId}/switch", sessionHandler.Switch)
			r.Post("/sessions/{sessionId}/failover", sessionHandler.Failover)
		})
	})

	return r
}
