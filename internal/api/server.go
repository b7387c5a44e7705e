// Package api exposes the alert feed, statistics and ingestion endpoints over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/leadwatch/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware(deps.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Probes
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// Alert feed and statistics
	router.Get("/alerts", handler.ListAlerts)
	router.Get("/stats", handler.GetStats)
	router.Get("/report", handler.GetReport)
	router.Post("/scan", handler.RequestScan)

	// Ingestion from the CRM
	router.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.IngestRateLimit, cfg.IngestBurst))
		r.Post("/clicks", handler.RecordClick)
		r.Post("/leads", handler.RecordLead)
		r.Put("/users/{id}", handler.PutUser)
	})
	router.Get("/users/{id}", handler.GetUser)

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
