package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apihandler "github.com/newthinker/stratsync/internal/api/handler/api"
	"github.com/newthinker/stratsync/internal/api/job"
	"github.com/newthinker/stratsync/internal/api/middleware"
	"github.com/newthinker/stratsync/internal/metrics"
	"go.uber.org/zap"
)

// Server represents the HTTP server for stratsync
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
	// APIKey guards mutating endpoints. Empty disables auth.
	APIKey      string
	MetricsPath string
}

// Dependencies holds the collaborators the routes need.
type Dependencies struct {
	Service apihandler.Service
	// Metrics is optional; when set it is exposed at Config.MetricsPath
	// and every request is recorded.
	Metrics *metrics.Registry
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("api: service is required")
	}

	mux := http.NewServeMux()
	s := &Server{
		logger: logger.Named("api"),
		mux:    mux,
	}
	s.setupRoutes(cfg, deps)

	var handler http.Handler = mux
	handler = metrics.HTTPMiddleware(deps.Metrics)(handler)
	handler = metrics.LoggingMiddleware(s.logger)(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	h := apihandler.NewStrategiesHandler(deps.Service, job.NewStore(100, time.Hour))
	auth := middleware.APIKeyAuth(cfg.APIKey)

	s.mux.HandleFunc("GET /api/health", h.Health)
	s.mux.HandleFunc("GET /api/strategies", h.List)
	s.mux.HandleFunc("GET /api/strategies/{id}", h.Get)
	s.mux.HandleFunc("GET /api/pending", h.Pending)
	s.mux.Handle("POST /api/refresh", auth(http.HandlerFunc(h.Refresh)))
	s.mux.HandleFunc("GET /api/jobs/{id}", h.Job)

	if deps.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, deps.Metrics.Handler())
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
