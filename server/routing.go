package server

import (
	"bufio"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/logger"
)

// routes configures all HTTP handlers
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/spec", s.HandleSpec)              // Ingest a document and start a build
	mux.HandleFunc("GET /api/server", s.HandleStatus)           // Current build status
	mux.HandleFunc("POST /api/server/stop", s.HandleStop)       // Stop the build, back to idle
	mux.HandleFunc("POST /api/server/restart", s.HandleRestart) // Re-ingest the last document
	mux.HandleFunc("GET /api/server/ws", s.HandleStatusStream)  // Status stream
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.Handle("GET /metrics", s.metrics.handler())

	return s.corsMiddleware(s.requestLogging(mux))
}

// corsMiddleware adds CORS headers for configured origins and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogging tags the request context with a request ID and logs the
// response status and latency
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(logger.WithRequestID(r.Context(), requestID)))

		s.logger.Debugw("HTTP request",
			logger.FieldRequestID, requestID,
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack hands the connection to the WebSocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// checkOrigin validates WebSocket origins against the configured allowed origins.
// Requests with no Origin header (non-browser clients) are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin)
}

// originAllowed matches scheme and hostname exactly against each entry.
// Any port of an allowed host matches; "*" admits every origin.
func (s *Server) originAllowed(origin string) bool {
	allowed := s.allowedOrigins.Load()
	if allowed == nil {
		return false
	}
	u, err := url.Parse(origin)
	valid := err == nil && u.Scheme != "" && u.Hostname() != ""

	for _, entry := range *allowed {
		if entry == "*" {
			return true
		}
		if !valid {
			continue
		}
		a, err := url.Parse(entry)
		if err != nil || a.Hostname() == "" {
			continue
		}
		if strings.EqualFold(u.Scheme, a.Scheme) && strings.EqualFold(u.Hostname(), a.Hostname()) {
			return true
		}
	}
	return false
}
