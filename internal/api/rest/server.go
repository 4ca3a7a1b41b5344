package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/secretshub/policy-core/internal/engine"
	"github.com/secretshub/policy-core/internal/metrics"
	"github.com/secretshub/policy-core/internal/policy"
	"github.com/secretshub/policy-core/internal/rbac"
)

// Server is the REST API server
type Server struct {
	evaluator  *engine.Evaluator
	simulator  *engine.Simulator
	manager    *policy.Manager
	directory  *rbac.Directory
	metrics    *metrics.Metrics
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
	EnableCORS   bool
	Version      string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		Version:      "1.0.0",
	}
}

// New creates a new REST API server
func New(cfg Config, evaluator *engine.Evaluator, simulator *engine.Simulator, manager *policy.Manager, directory *rbac.Directory, met *metrics.Metrics, logger *zap.Logger) (*Server, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("policy manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		evaluator: evaluator,
		simulator: simulator,
		manager:   manager,
		directory: directory,
		metrics:   met,
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

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Evaluation endpoints
	authz := v1.PathPrefix("/authorization").Subrouter()
	authz.HandleFunc("/evaluate", s.evaluateHandler).Methods("POST")
	authz.HandleFunc("/evaluate-batch", s.evaluateBatchHandler).Methods("POST")

	// Simulation endpoint
	v1.HandleFunc("/simulations", s.simulateHandler).Methods("POST")

	// Policy management endpoints
	policies := v1.PathPrefix("/policies").Subrouter()
	policies.HandleFunc("", s.listPoliciesHandler).Methods("GET")
	policies.HandleFunc("", s.createPolicyHandler).Methods("POST")
	policies.HandleFunc("/{id}", s.getPolicyHandler).Methods("GET")
	policies.HandleFunc("/{id}", s.updatePolicyHandler).Methods("PUT")
	policies.HandleFunc("/{id}", s.deletePolicyHandler).Methods("DELETE")
	policies.HandleFunc("/{id}/activate", s.activatePolicyHandler).Methods("POST")
	policies.HandleFunc("/{id}/deactivate", s.deactivatePolicyHandler).Methods("POST")

	// Version history endpoints
	policies.HandleFunc("/{id}/versions", s.listVersionsHandler).Methods("GET")
	policies.HandleFunc("/{id}/versions/compare", s.compareVersionsHandler).Methods("GET")
	policies.HandleFunc("/{id}/versions/audit-trail", s.auditTrailHandler).Methods("GET")
	policies.HandleFunc("/{id}/versions/stats", s.versionStatsHandler).Methods("GET")
	policies.HandleFunc("/{id}/versions/{version}", s.getVersionHandler).Methods("GET")
	policies.HandleFunc("/{id}/versions/{version}/restore", s.restoreVersionHandler).Methods("POST")

	// Role directory endpoints
	roles := v1.PathPrefix("/roles").Subrouter()
	roles.HandleFunc("", s.listRolesHandler).Methods("GET")
	roles.HandleFunc("", s.createRoleHandler).Methods("POST")
	roles.HandleFunc("/{id}", s.getRoleHandler).Methods("GET")
	roles.HandleFunc("/{id}", s.updateRoleHandler).Methods("PUT")
	roles.HandleFunc("/{id}", s.deleteRoleHandler).Methods("DELETE")
	roles.HandleFunc("/{id}/permissions", s.rolePermissionsHandler).Methods("GET")

	v1.HandleFunc("/permissions", s.listPermissionsHandler).Methods("GET")
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("starting REST API server",
		zap.Int("port", s.config.Port),
		zap.Bool("cors_enabled", s.config.EnableCORS),
	)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for tests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// actor extracts the acting identity from a request header. Authentication
// is handled upstream; the console forwards the identity it resolved.
func actor(r *http.Request) string {
	if id := r.Header.Get("X-Actor-ID"); id != "" {
		return id
	}
	return "system"
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("http request",
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
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]interface{}{
		"evaluator":    "ok",
		"policy_store": "ok",
	}
	if s.evaluator.GetCacheStats() != nil {
		checks["cache"] = "ok"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

// statusHandler handles service status requests
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version:      s.config.Version,
		Uptime:       time.Since(s.startTime).String(),
		PolicyCount:  len(s.manager.List()),
		CacheEnabled: s.evaluator.GetCacheStats() != nil,
		Timestamp:    time.Now(),
	}

	if stats := s.evaluator.GetCacheStats(); stats != nil {
		response.CacheStats = map[string]interface{}{
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"size":     stats.Size,
			"hit_rate": stats.HitRate,
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
