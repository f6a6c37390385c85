// internal/server/middleware.go
// Request logging with correlation IDs, and panic recovery

package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// correlationIDHeader is the standard header for request correlation.
const correlationIDHeader = "X-Correlation-ID"

// loggingMiddleware logs method, path, status, duration and correlation
// ID. An incoming X-Correlation-ID is kept, otherwise a UUID is issued;
// either way it is echoed on the response.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationIDHeader, id)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", id,
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500. A misuse panic
// (component already closed) maps to 503, since it only happens while
// the engine shuts down under an in-flight request.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic recovered",
					"error", p,
					"path", r.URL.Path,
				)
				err, ok := p.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", p)
				}
				status := http.StatusInternalServerError
				if errors.IsMisuse(err) {
					status = http.StatusServiceUnavailable
				}
				s.writeError(w, err, status)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
