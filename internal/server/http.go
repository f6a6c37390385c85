// internal/server/http.go
// Operator HTTP surface with graceful shutdown
//
// LEARN: Production HTTP servers must:
// 1. Handle graceful shutdown (drain in-flight requests)
// 2. Set appropriate timeouts
// 3. Provide health checks
// 4. Use middleware for cross-cutting concerns
//
// Everything here is read-mostly: dashboards poll /stats and /metrics,
// operators resolve alerts. No resource is allocated on behalf of a
// request.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/khaaliswooden-max/resmem/internal/engine"
	"github.com/khaaliswooden-max/resmem/internal/leak"
	"github.com/khaaliswooden-max/resmem/internal/monitor"
	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config holds server configuration.
type Config struct {
	Addr            string        // Listen address (default: ":8080")
	ReadTimeout     time.Duration // Max time to read request (default: 30s)
	WriteTimeout    time.Duration // Max time to write response (default: 60s)
	IdleTimeout     time.Duration // Max time for keep-alive (default: 120s)
	ShutdownTimeout time.Duration // Max time to wait for graceful shutdown (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	ActiveAlerts int       `json:"activeAlerts"`
}

// LeaksResponse is the /leaks body.
type LeaksResponse struct {
	Reports []leak.Report `json:"reports"`
	Stats   leak.Stats    `json:"stats"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server exposes an Engine over HTTP.
type Server struct {
	config     Config
	httpServer *http.Server
	engine     *engine.Engine
	logger     *slog.Logger
	started    time.Time
}

// New creates a Server for eng.
func New(cfg Config, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		engine:  eng,
		logger:  logger,
		started: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", s.metricsHandler())
	mux.HandleFunc("GET /leaks", s.handleLeaks)
	mux.HandleFunc("GET /leaks/records", s.handleRecords)
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("POST /alerts", s.handleCreateAlert)
	mux.HandleFunc("POST /alerts/{id}/resolve", s.handleResolveAlert)
	mux.HandleFunc("POST /cleanup", s.handleCleanup)
	mux.HandleFunc("GET /channels", s.handleChannels)
	mux.HandleFunc("DELETE /channels/{key}", s.handleCloseChannel)

	var handler http.Handler = mux
	handler = s.recoveryMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// Run starts the server and blocks until SIGINT/SIGTERM or a listen
// error, then shuts down gracefully.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.config.Addr, "version", Version)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server", "timeout", s.config.ShutdownTimeout)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// === Handlers ===

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := s.engine.Monitor.ActiveAlerts()

	status := "ok"
	for _, a := range active {
		if a.Severity == monitor.SeverityCritical {
			status = "degraded"
			break
		}
	}

	s.writeJSON(w, HealthResponse{
		Status:       status,
		Timestamp:    time.Now().UTC(),
		Version:      Version,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		ActiveAlerts: len(active),
	}, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.Stats(), http.StatusOK)
}

// metricsHandler refreshes the gauges before every scrape.
func (s *Server) metricsHandler() http.Handler {
	h := s.engine.Metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.engine.RefreshMetrics()
		h.ServeHTTP(w, r)
	})
}

// handleLeaks runs detection now. ?cached=true returns the last run
// instead.
func (s *Server) handleLeaks(w http.ResponseWriter, r *http.Request) {
	var reports []leak.Report
	if r.URL.Query().Get("cached") == "true" {
		reports = s.engine.LastReports()
	} else {
		reports = s.engine.DetectLeaks()
	}
	if reports == nil {
		reports = []leak.Report{}
	}
	s.writeJSON(w, LeaksResponse{Reports: reports, Stats: s.engine.Detector.Stats()}, http.StatusOK)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.Detector.Records(), http.StatusOK)
}

// handleAlerts lists active alerts, or resolved ones with ?resolved=true.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("resolved") == "true" {
		s.writeJSON(w, s.engine.Monitor.ResolvedAlerts(), http.StatusOK)
		return
	}
	s.writeJSON(w, s.engine.Monitor.ActiveAlerts(), http.StatusOK)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req monitor.Alert
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		s.writeError(w, fmt.Errorf("%w: title is required", errors.ErrInvalidRequest), http.StatusBadRequest)
		return
	}
	switch req.Severity {
	case "", monitor.SeverityInfo, monitor.SeverityWarning, monitor.SeverityCritical:
	default:
		s.writeError(w, fmt.Errorf("%w: unknown severity %q", errors.ErrInvalidRequest, req.Severity), http.StatusBadRequest)
		return
	}
	req.ID = ""
	req.Resolved = false
	s.writeJSON(w, s.engine.Monitor.CreateAlert(req), http.StatusCreated)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Monitor.ResolveAlert(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, s.errorStatusCode(err))
		return
	}
	s.writeJSON(w, a, http.StatusOK)
}

// handleCleanup runs one sweep (cache expiry, record purge, metrics)
// on demand.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.engine.Scheduler.Sweep(r.Context())
	s.writeJSON(w, s.engine.Scheduler.Stats(), http.StatusOK)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.Rings.Stats(), http.StatusOK)
}

// handleCloseChannel deletes a transport buffer, e.g. one whose consumer
// process has exited.
func (s *Server) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CloseChannel(r.PathValue("key")); err != nil {
		s.writeError(w, err, s.errorStatusCode(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Response Helpers ===

func (s *Server) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, statusCode int) {
	s.writeJSON(w, ErrorResponse{
		Error: err.Error(),
		Code:  errors.ErrorCode(err),
	}, statusCode)
}

// errorStatusCode maps errors to HTTP status codes.
func (s *Server) errorStatusCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidRequest), errors.Is(err, errors.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrAlertNotFound), errors.Is(err, errors.ErrBufferNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
