package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/alem-hub/engagement-core/internal/application/command"
	"github.com/alem-hub/engagement-core/internal/application/query"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot handles GET /.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"service": "engagement-core",
		"version": s.config.Version,
	})
}

// handleHealth reports every registered check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"healthy": true})
		return
	}
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeEnvelope(w, code, JSONResponse{
		Success:   status.Healthy,
		Data:      status,
		RequestID: getRequestID(r.Context()),
	})
}

// handleLive answers as long as the process serves requests.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"alive": true})
}

// handleReady reports whether critical dependencies are reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"ready": true})
		return
	}
	status := s.deps.Health.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"ready": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION PROTOCOL
// ══════════════════════════════════════════════════════════════════════════════

// handleStartSession handles POST /api/v1/sessions.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	snap, err := s.deps.Sessions.Start(r.Context(), command.StartSessionCommand{
		UserID:          req.UserID,
		CourseID:        req.CourseID,
		ContentID:       req.ContentID,
		InitialPosition: req.InitialPosition,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sessionDTO(snap))
}

// handleHeartbeat handles POST /api/v1/sessions/{id}/heartbeat. Heartbeats
// for unknown or ended sessions succeed with ignored set.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req TelemetryRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	snap, err := s.deps.Sessions.Heartbeat(r.Context(), command.HeartbeatCommand{
		SessionID: r.PathValue("id"),
		UserID:    req.UserID,
		Telemetry: req.telemetry(),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sessionDTO(snap))
}

// handleEndSession handles POST /api/v1/sessions/{id}/end.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req TelemetryRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	snap, err := s.deps.Sessions.End(r.Context(), command.EndSessionCommand{
		SessionID: r.PathValue("id"),
		UserID:    req.UserID,
		Telemetry: req.telemetry(),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sessionDTO(snap))
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ══════════════════════════════════════════════════════════════════════════════

// handleMinutes handles GET /api/v1/users/{user}/courses/{course}/minutes.
func (s *Server) handleMinutes(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Minutes.Handle(r.Context(), query.ReconstructMinutesQuery{
		UserID:   r.PathValue("user"),
		CourseID: r.PathValue("course"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, minutesDTO(result))
}

// handleProgress handles GET /api/v1/users/{user}/courses/{course}/progress.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	user, course := r.PathValue("user"), r.PathValue("course")
	result, err := s.deps.Progress.Handle(r.Context(), query.GetProgressQuery{UserID: user, CourseID: course})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, progressDTO(user, course, result))
}

// handleStats handles GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "stats are not configured")
		return
	}
	result, err := s.deps.Stats.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statsDTO(result))
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// handleReapStale handles POST /api/v1/maintenance/reap-stale.
func (s *Server) handleReapStale(w http.ResponseWriter, r *http.Request) {
	var req ReapStaleRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	result, err := s.deps.Sessions.ReapStale(r.Context(), command.ReapStaleCommand{
		Threshold: time.Duration(req.ThresholdMinutes) * time.Minute,
		Limit:     req.Limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{
		"scanned": result.Scanned,
		"reaped":  result.Reaped,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	})
}

// handleRepairSessions handles POST /api/v1/maintenance/repair-sessions.
func (s *Server) handleRepairSessions(w http.ResponseWriter, r *http.Request) {
	var req RepairSessionsRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	result, err := s.deps.Repair.Handle(r.Context(), command.RepairSessionsCommand{
		Bound: time.Duration(req.BoundMinutes) * time.Minute,
		Limit: req.Limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{
		"scanned":  result.Scanned,
		"repaired": result.Repaired,
		"failed":   result.Failed,
	})
}

// handleRecomputeProgress handles POST /api/v1/maintenance/recompute-progress.
func (s *Server) handleRecomputeProgress(w http.ResponseWriter, r *http.Request) {
	var req RecomputeProgressRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	result, err := s.deps.Aggregator.RecomputeAll(r.Context(), command.RecomputeAllCommand{
		At:          time.Now(),
		BatchSize:   req.BatchSize,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{
		"processed": result.Processed,
		"completed": result.Completed,
		"failed":    result.Failed,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// decode reads the body into dst and writes a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := decodeJSON(r, dst, allowEmpty)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return false
	}
	if details := validationDetails(err); details != nil {
		writeJSONErrorDetails(w, r, http.StatusBadRequest, "validation_failed", "request validation failed", details)
		return false
	}
	writeJSONError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	return false
}

// writeDomainError maps domain error kinds to status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string
	switch {
	case shared.IsValidation(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case shared.IsForbidden(err):
		status, code = http.StatusForbidden, "forbidden"
	case shared.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		status, code = http.StatusConflict, "conflict"
	case shared.IsNoCapacity(err), shared.IsExternalService(err):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		status, code = http.StatusServiceUnavailable, "canceled"
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "an internal error occurred")
		return
	}
	writeJSONError(w, r, status, code, err.Error())
}
