// Package http provides the HTTP API of the engagement core: the session
// protocol used by players and readers, progress and minutes reports, and
// operator maintenance endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/engagement-core/internal/application/command"
	"github.com/alem-hub/engagement-core/internal/application/query"
	"github.com/alem-hub/engagement-core/internal/interface/http/handlers"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HTTP SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (empty for all interfaces).
	Host string

	// Port is the port to listen on.
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RateLimit is the per-client request rate (requests per second).
	// Zero disables rate limiting.
	RateLimit      float64
	RateLimitBurst int

	// AllowedOrigins is the list of allowed CORS origins, "*" for any.
	AllowedOrigins []string

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64

	// MetricsEnabled exposes Prometheus metrics at MetricsPath.
	MetricsEnabled bool
	MetricsPath    string

	// Version is reported by the root and health endpoints.
	Version string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimit:       20,
		RateLimitBurst:  40,
		AllowedOrigins:  []string{"*"},
		MaxBodyBytes:    64 << 10,
		MetricsEnabled:  true,
		MetricsPath:     "/metrics",
		Version:         "dev",
	}
}

// Address returns the full address string.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP SERVER DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Commands
	Sessions   *command.SessionManager
	Repair     *command.RepairSessionsHandler
	Aggregator *command.ProgressAggregator

	// Queries
	Minutes  *query.ReconstructMinutesHandler
	Progress *query.GetProgressHandler
	Stats    *query.GetStatsHandler

	// Health checks (optional).
	Health handlers.HealthChecker

	// OperatorAuth guards maintenance endpoints. Nil disables them.
	OperatorAuth *handlers.OperatorAuth

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engagement",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engagement",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// ══════════════════════════════════════════════════════════════════════════════
// HTTP SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	logger     *logger.Logger
	limiter    *handlers.RateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With(logger.Component("http_server")),
	}
	if config.RateLimit > 0 {
		s.limiter = handlers.NewRateLimiter(config.RateLimit, config.RateLimitBurst, 10*time.Minute)
	}

	s.setupRoutes()
	s.handler = s.buildMiddlewareChain(s.router)

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Service
	s.router.HandleFunc("GET /{$}", s.handleRoot)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /ready", s.handleReady)
	if s.config.MetricsEnabled {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle("GET "+path, promhttp.Handler())
	}

	// Session protocol
	s.router.HandleFunc("POST /api/v1/sessions", s.handleStartSession)
	s.router.HandleFunc("POST /api/v1/sessions/{id}/heartbeat", s.handleHeartbeat)
	s.router.HandleFunc("POST /api/v1/sessions/{id}/end", s.handleEndSession)

	// Reports
	s.router.HandleFunc("GET /api/v1/users/{user}/courses/{course}/minutes", s.handleMinutes)
	s.router.HandleFunc("GET /api/v1/users/{user}/courses/{course}/progress", s.handleProgress)
	s.router.HandleFunc("GET /api/v1/stats", s.handleStats)

	// Maintenance
	if s.deps.OperatorAuth != nil {
		guard := s.deps.OperatorAuth.Middleware
		s.router.Handle("POST /api/v1/maintenance/reap-stale", guard(http.HandlerFunc(s.handleReapStale)))
		s.router.Handle("POST /api/v1/maintenance/repair-sessions", guard(http.HandlerFunc(s.handleRepairSessions)))
		s.router.Handle("POST /api/v1/maintenance/recompute-progress", guard(http.HandlerFunc(s.handleRecomputeProgress)))
	}
}

// buildMiddlewareChain creates the middleware chain. The first middleware
// is outermost.
func (s *Server) buildMiddlewareChain(h http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{
		s.requestIDMiddleware,
		s.recoveryMiddleware,
		s.loggingMiddleware,
		handlers.SecurityHeadersMiddleware,
		s.corsMiddleware,
	}
	if s.limiter != nil {
		chain = append(chain, s.limiter.Middleware)
	}
	chain = append(chain, handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
	return handlers.ChainHandler(h, chain...)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server. It blocks until the server stops and
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return fmt.Errorf("http server: %w", err)
}

// StartAsync starts the server in a goroutine. Startup errors are sent to
// the returned channel.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware adds a request ID and a request-scoped logger to the
// context.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs requests and records HTTP metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()
		httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		log := logger.FromContext(r.Context())
		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", wrapped.statusCode),
			logger.Latency(elapsed),
			logger.String("client_ip", handlers.ClientIP(r)),
		}
		switch {
		case wrapped.statusCode >= 500:
			log.Error("request failed", fields...)
		case wrapped.statusCode >= 400:
			log.Warn("request rejected", fields...)
		default:
			log.Debug("request completed", fields...)
		}
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.FromContext(r.Context()).Error("panic recovered",
					logger.Any("error", err),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
				)
				writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "an internal error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Operator-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the standard JSON response envelope.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, JSONResponse{
		Success:   true,
		Data:      data,
		RequestID: getRequestID(r.Context()),
	})
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONErrorDetails(w, r, status, code, message, nil)
}

func writeJSONErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeEnvelope(w, status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		RequestID: getRequestID(r.Context()),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// getRequestID extracts request ID from context.
func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
