package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/redress/internal/compensation"
	"github.com/opensource-finance/redress/internal/domain"
	"github.com/opensource-finance/redress/internal/legacy"
	"github.com/opensource-finance/redress/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Dependencies are the components the server exposes. Service is required;
// the rest may be nil.
type Dependencies struct {
	Service    *compensation.Service
	Engine     *legacy.Engine
	Repository domain.Repository
	Cache      domain.Cache
	EventBus   domain.EventBus
	Metrics    *metrics.Metrics
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies, version string) *Server {
	handler := NewHandler(deps.Service, deps.Engine, deps.Repository, deps.Cache, deps.EventBus, version)
	router := chi.NewRouter()

	router.Use(CORS(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No tenant required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	router.Route("/compensation", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/calculate", handler.Calculate)
		r.Post("/batch", handler.CalculateBatch)

		r.Get("/calculations", handler.ListCalculations)
		r.Get("/calculations/{id}", handler.GetCalculation)

		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Get("/scenarios", handler.ListScenarios)
	})

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
