// Package api provides the HTTP surface for Harrier.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-trust/harrier/internal/activity"
	"github.com/opensource-trust/harrier/internal/domain"
	"github.com/opensource-trust/harrier/internal/escalation"
	"github.com/opensource-trust/harrier/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg domain.ServerConfig,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	store *rules.Store,
	detector *rules.Service,
	profiles *activity.Service,
	scheduler *escalation.Scheduler,
	lifecycle *escalation.Lifecycle,
	version string,
	async bool,
) *Server {
	handler := NewHandler(repo, cache, bus, store, detector, profiles, scheduler, lifecycle, version, async)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Activity ingestion and dispute filing
	router.Post("/activities", handler.RecordActivity)
	router.Post("/disputes", handler.FileDispute)

	// Case lifecycle
	router.Get("/cases", handler.ListCases)
	router.Get("/cases/{id}", handler.GetCase)
	router.Post("/cases/{id}/escalate", handler.EscalateCase)
	router.Post("/cases/{id}/investigate", handler.InvestigateCase)
	router.Post("/cases/{id}/mediate", handler.MediateCase)
	router.Post("/cases/{id}/resolve", handler.ResolveCase)
	router.Post("/cases/{id}/appeal", handler.AppealCase)
	router.Post("/cases/{id}/close", handler.CloseCase)

	// Actor profiles
	router.Get("/actors/{id}/profile", handler.GetProfile)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
