// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/models"
	"github.com/newsletter-scanner/internal/types"
)

// ScanServiceInterface defines the scan operations the API exposes
type ScanServiceInterface interface {
	Start(ctx context.Context, ownerID string, settings *types.ScanSettings) (*models.ScanJobRecord, error)
	GetStatus(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error)
	Cancel(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error)
	ProcessChunk(ctx context.Context, jobID string) error
}

// StatusCacheInterface is the optional read-through cache for status
// polls. A nil entry is a miss.
type StatusCacheInterface interface {
	Get(ctx context.Context, jobID string) *types.JobStatusView
	Put(ctx context.Context, view *types.JobStatusView)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// InternalToken guards the chunk-processing endpoint; empty disables it
	InternalToken string
	RateLimitRPS  int
	RateLimitBurst int
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	scanService ScanServiceInterface
	statusCache StatusCacheInterface
	config      *ServerConfig
	logger      *logging.Logger

	// Stream tuning, overridable in tests.
	streamPollInterval  time.Duration
	streamNotFoundLimit int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, scanService ScanServiceInterface, statusCache StatusCacheInterface, logger *logging.Logger) *Server {
	s := &Server{
		router:              mux.NewRouter(),
		scanService:         scanService,
		statusCache:         statusCache,
		config:              config,
		logger:              logger,
		streamPollInterval:  time.Second,
		streamNotFoundLimit: 5,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// Middleware order matters: logging first, recovery before anything
	// that can panic, rate limiting after CORS preflights are answered.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scans", s.handleStartScan).Methods("POST")
	api.HandleFunc("/scans/{id}", s.handleGetScan).Methods("GET")
	api.HandleFunc("/scans/{id}/cancel", s.handleCancelScan).Methods("POST")
	api.HandleFunc("/scans/{id}/stream", s.handleStreamScan).Methods("GET")

	// Trusted endpoint for chunk processing, not part of the public API.
	s.router.HandleFunc("/internal/scans/{id}/process", s.handleProcessChunk).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "newsletter-scanner",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}
