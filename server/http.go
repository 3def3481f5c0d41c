// Package server provides the admin HTTP API for cache purging.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/coordinator"
	"github.com/wolfeidau/cache-purge/telemetry"
	"github.com/wolfeidau/cache-purge/trigger"
	"github.com/wolfeidau/cache-purge/uapi"
)

const maxRequestBody = 1 << 20

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken enables Bearer authentication when set.
	AuthToken string

	// Logger for the server
	Logger *slog.Logger
}

// Coordinator runs top-level purge requests and reports status.
type Coordinator interface {
	PurgeAll(ctx context.Context) coordinator.Outcome
	PurgePage(ctx context.Context, change cachepurge.ContentChange) coordinator.Outcome
	PurgeURLs(ctx context.Context, urls []string) coordinator.Outcome
	Status(ctx context.Context) coordinator.Status
	Recheck(ctx context.Context) coordinator.Status
}

// Triggers applies the CMS event rules.
type Triggers interface {
	PostUpdated(ctx context.Context, ev trigger.PostUpdated) (coordinator.Outcome, bool)
	StatusTransition(ctx context.Context, ev trigger.StatusTransition) (coordinator.Outcome, bool)
	CoreUpdated(ctx context.Context) coordinator.Outcome
	OptionsSaved(ctx context.Context) coordinator.Outcome
}

// SettingsStore persists the user-facing settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (cachepurge.Settings, error)
	PutSettings(ctx context.Context, s cachepurge.Settings) error
}

// CacheControl is the hosting panel API.
type CacheControl interface {
	EnableCache(ctx context.Context) (uapi.Result, error)
	DisableCache(ctx context.Context) (uapi.Result, error)
	TestConnection(ctx context.Context) (uapi.Result, error)
}

// Notifier sends a test alert.
type Notifier interface {
	SendTest(ctx context.Context) error
}

// Deps are the components the API exposes.
type Deps struct {
	Coordinator Coordinator
	Triggers    Triggers
	Settings    SettingsStore
	Cache       CacheControl
	Notifier    Notifier
}

// Server is the admin HTTP server.
type Server struct {
	config     Config
	deps       Deps
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	validate   *validator.Validate
	now        func() time.Time
}

// New creates a new server with the given configuration.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if deps.Coordinator == nil || deps.Triggers == nil || deps.Settings == nil {
		return nil, errors.New("server: coordinator, triggers and settings are required")
	}

	s := &Server{
		config:   cfg,
		deps:     deps,
		logger:   cfg.Logger.With("component", "server"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.loggingMiddleware(s.authMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // whole-site purges wait on the panel API
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /status/recheck", s.handleRecheck)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)

	// Manual actions
	mux.HandleFunc("POST /purge/all", s.handlePurgeAll)
	mux.HandleFunc("POST /purge/page", s.handlePurgePage)
	mux.HandleFunc("POST /purge/urls", s.handlePurgeURLs)

	// CMS events
	mux.HandleFunc("POST /events/post-updated", s.handlePostUpdated)
	mux.HandleFunc("POST /events/status-transition", s.handleStatusTransition)
	mux.HandleFunc("POST /events/core-updated", s.handleCoreUpdated)
	mux.HandleFunc("POST /events/options-saved", s.handleOptionsSaved)

	// Hosting panel and alerting
	mux.HandleFunc("POST /cache/enable", s.handleCacheAction("cache_enable", func(ctx context.Context) (uapi.Result, error) {
		return s.deps.Cache.EnableCache(ctx)
	}))
	mux.HandleFunc("POST /cache/disable", s.handleCacheAction("cache_disable", func(ctx context.Context) (uapi.Result, error) {
		return s.deps.Cache.DisableCache(ctx)
	}))
	mux.HandleFunc("POST /uapi/test", s.handleCacheAction("uapi_test", func(ctx context.Context) (uapi.Result, error) {
		return s.deps.Cache.TestConnection(ctx)
	}))
	mux.HandleFunc("POST /notify/test", s.handleNotifyTest)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set endpoint and purge mode.
		r = telemetry.InjectTags(r)
		r = r.WithContext(telemetry.WithRequestID(r.Context(), requestID))
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}

		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.PurgeMode != telemetry.PurgeNone {
			attrs = append(attrs, "purge_mode", string(tags.PurgeMode), "fallback", tags.Fallback)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into v and validates it. On failure a 400 has
// already been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
