// Package v1 provides the REST handlers of the orchestrator API.
package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storepilot/sync-orchestrator/internal/auth"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/service"
	"github.com/storepilot/sync-orchestrator/internal/versions"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunResponse acknowledges a manual run
type RunResponse struct {
	ScheduleID int64  `json:"schedule_id"`
	Status     string `json:"status"`
}

// Routes defines the API routes with dependency injection
type Routes struct {
	service service.OrchestratorService
}

// Router creates the router of the job and schedule endpoints. runGuards
// wrap the manual run endpoint only.
func Router(svc service.OrchestratorService, runGuards ...func(http.Handler) http.Handler) http.Handler {
	routes := &Routes{service: svc}

	r := chi.NewRouter()
	r.Get("/jobs", routes.listJobs)
	r.Get("/schedules", routes.listSchedules)
	r.Get("/schedules/{id}", routes.getSchedule)
	r.With(runGuards...).Post("/schedules/{id}/run", routes.runSchedule)

	return r
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(svc service.OrchestratorService) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/healthz", healthHandler)
	r.Get("/readiness", readinessHandler(svc))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func readinessHandler(svc service.OrchestratorService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CheckReadiness(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versions.GetVersionInfo())
}

func (rt *Routes) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.service.ListJobDefinitions())
}

func (rt *Routes) listSchedules(w http.ResponseWriter, r *http.Request) {
	views, err := rt.service.ListSchedules(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (rt *Routes) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	view, err := rt.service.GetSchedule(r.Context(), id)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Routes) runSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	if err := rt.service.RunSchedule(r.Context(), id); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "Manual run requested",
		"schedule_id", id,
		"requested_by", auth.Subject(r.Context()))
	writeJSON(w, http.StatusAccepted, RunResponse{ScheduleID: id, Status: "queued"})
}

func (*Routes) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, schedule.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrScheduleDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidSchedule):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Schedule request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func scheduleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "schedule id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
