// Package api provides the HTTP surface over the compliance engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remitwatch/kestrel/internal/cases"
	"github.com/remitwatch/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, sink domain.AuditSink, caseManager *cases.Manager, guards []domain.GuardConfig, version string) (*Server, error) {
	handler, err := NewHandler(repo, cache, bus, sink, caseManager, guards, version)
	if err != nil {
		return nil, err
	}
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(MetricsMiddleware)      // Prometheus request metrics
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API routes
	router.Route("/", func(r chi.Router) {
		r.Use(ActorMiddleware)

		// Subjects and identity verification
		r.Post("/subjects", handler.CreateSubject)
		r.Get("/subjects/{id}", handler.GetSubject)
		r.Post("/subjects/{id}/kyc/submissions", handler.SubmitKYC)
		r.Post("/subjects/{id}/kyc/review", handler.ReviewKYC)
		r.Get("/subjects/{id}/risk", handler.GetSubjectRisk)
		r.Get("/subjects/{id}/audit", handler.GetSubjectAudit)

		// Transactions and lifecycle
		r.Post("/transactions", handler.CreateTransaction)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Get("/transactions/{id}/transitions", handler.GetAllowedTransitions)
		r.Post("/transactions/{id}/transitions", handler.RequestTransition)
		r.Get("/transactions/{id}/audit", handler.GetTransactionAudit)

		// Alerts
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Patch("/alerts/{id}", handler.UpdateAlertStatus)
		r.Post("/alerts/{id}/case", handler.CreateCaseFromAlert)

		// Cases
		r.Get("/cases", handler.ListCases)
		r.Get("/cases/statistics", handler.GetCaseStatistics)
		r.Post("/cases", handler.CreateCase)
		r.Get("/cases/{id}", handler.GetCase)
		r.Post("/cases/{id}/assign", handler.AssignCase)
		r.Post("/cases/{id}/status", handler.UpdateCaseStatus)
		r.Post("/cases/{id}/resolve", handler.ResolveCase)
		r.Post("/cases/{id}/notes", handler.AddCaseNote)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}, nil
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

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
