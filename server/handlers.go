package server

import (
	"net/http"
	"time"

	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/ixgest/openapi"
	"github.com/teranos/specix/logger"
	"github.com/teranos/specix/version"
)

// HandleSpec ingests the document at the posted URL and starts a build.
// 202 with the tracker status on success.
func (s *Server) HandleSpec(w http.ResponseWriter, r *http.Request) {
	if !s.allowIngest(w, r) {
		return
	}

	req, err := readSpecRequest(w, r, s.maxRequestBytes.Load())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ingestAndStart(w, r, req.URL)
}

// HandleRestart re-ingests the most recently started URL
func (s *Server) HandleRestart(w http.ResponseWriter, r *http.Request) {
	lastURL := s.tracker.LastSpecURL()
	if lastURL == "" {
		s.fail(w, r, errors.NewConflictError("no spec has been loaded"))
		return
	}
	if !s.allowIngest(w, r) {
		return
	}

	s.ingestAndStart(w, r, lastURL)
}

// HandleStatus returns the current tracker status
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, s.tracker.Status())
}

// HandleStop stops any build and returns the idle status
func (s *Server) HandleStop(w http.ResponseWriter, r *http.Request) {
	state := s.tracker.Stop()
	s.metrics.setBuilderStatus(state.Status)
	_ = writeJSON(w, http.StatusOK, state)
}

// HandleHealth reports liveness
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if s.getState() != ServerStateRunning {
		status = http.StatusServiceUnavailable
	}
	_ = writeJSON(w, status, HealthResponse{
		Status:  http.StatusText(status),
		Version: version.Version,
		State:   stateString(s.getState()),
		Builder: string(s.tracker.Status().Status),
	})
}

func (s *Server) allowIngest(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter.Load().Allow() {
		return true
	}
	s.metrics.ingestTotal.WithLabelValues(CodeRateLimited).Inc()
	logger.FromContext(r.Context(), s.logger).Infow("Ingestion rate limited",
		logger.FieldRemote, r.RemoteAddr)
	_ = writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Code:    CodeRateLimited,
		Message: "Too many ingestion requests. Try again later.",
	})
	return false
}

func (s *Server) ingestAndStart(w http.ResponseWriter, r *http.Request, url string) {
	start := time.Now()
	result, err := s.ingestor.Ingest(r.Context(), url, openapi.Options{})
	if err != nil {
		s.metrics.observeIngest(outcomeLabel(err), time.Since(start), 0)
		s.fail(w, r, err)
		return
	}
	s.metrics.observeIngest(outcomeLabel(nil), time.Since(start), result.BytesWritten)

	state := s.tracker.Start(result)
	s.metrics.setBuilderStatus(state.Status)
	_ = writeJSON(w, http.StatusAccepted, state)
}

// fail writes the mapped error response and logs it. Server-side failures
// log at error level, client-side ones at info.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := writeError(w, err)

	log := logger.FromContext(r.Context(), s.logger)
	fields := []interface{}{
		logger.FieldPath, r.URL.Path,
		logger.FieldStatus, mapped.Status,
		logger.FieldErrorCode, mapped.Body.Code,
		logger.FieldError, err,
	}
	if mapped.Status >= http.StatusInternalServerError && mapped.Status != http.StatusBadGateway {
		log.Errorw("Request failed", fields...)
		return
	}
	log.Infow("Request rejected", fields...)
}
