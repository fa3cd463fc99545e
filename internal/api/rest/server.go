// Package rest provides the REST API server implementation
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/authguard/go-core/internal/engine"
	"github.com/authguard/go-core/internal/metrics"
	"github.com/authguard/go-core/internal/store"
)

// Server is the REST API server
type Server struct {
	engine     *engine.Engine
	admin      store.Admin
	metrics    *metrics.PrometheusMetrics
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
	startTime  time.Time
}

// Config configures the REST API server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "1.0.0",
	}
}

// New creates a new REST API server. admin may be nil to disable the
// management endpoints; m may be nil to disable /metrics.
func New(cfg Config, eng *engine.Engine, admin store.Admin, m *metrics.PrometheusMetrics, logger *zap.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:    eng,
		admin:     admin,
		metrics:   m,
		router:    mux.NewRouter(),
		logger:    logger,
		config:    cfg,
		startTime: time.Now(),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// registerRoutes registers all REST API routes
func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/healthz", s.healthCheckHandler).Methods("GET")
	s.router.HandleFunc("/v1/status", s.statusHandler).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.HTTPHandler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Decision endpoint
	v1.HandleFunc("/decide", s.decideHandler).Methods("POST")

	// Management endpoints
	if s.admin != nil {
		v1.HandleFunc("/principals", s.createPrincipalHandler).Methods("POST")
		v1.HandleFunc("/principals/{id}/roles/{roleId}", s.assignRoleHandler).Methods("PUT")
		v1.HandleFunc("/principals/{id}/roles/{roleId}", s.revokeRoleHandler).Methods("DELETE")

		v1.HandleFunc("/roles", s.createRoleHandler).Methods("POST")
		v1.HandleFunc("/roles/{id}", s.deleteRoleHandler).Methods("DELETE")
		v1.HandleFunc("/roles/{id}/permissions/{permissionId}", s.attachPermissionHandler).Methods("PUT")
		v1.HandleFunc("/roles/{id}/permissions/{permissionId}", s.detachPermissionHandler).Methods("DELETE")

		v1.HandleFunc("/permissions", s.createPermissionHandler).Methods("POST")

		v1.HandleFunc("/policies", s.upsertPolicyHandler).Methods("POST")
		v1.HandleFunc("/policies/{id}", s.updatePolicyHandler).Methods("PUT")
		v1.HandleFunc("/policies/{id}", s.deletePolicyHandler).Methods("DELETE")
	}
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server",
		zap.Int("port", s.config.Port),
		zap.Bool("admin_enabled", s.admin != nil),
	)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// statusHandler handles service status requests
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:   s.config.Version,
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now(),
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Counters = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
