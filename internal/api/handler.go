// Package api exposes the bot over HTTP: chat messages in, job control
// and health probes alongside.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"opsbot/internal/apperrors"
	"opsbot/internal/console"
	"opsbot/internal/health"
	"opsbot/internal/job"
)

// maxRequestBodySize limits request body to 64KB; chat messages are short.
const maxRequestBodySize = 64 << 10

// MessageHandler routes one chat message. *console.Router implements it.
type MessageHandler interface {
	Handle(ctx context.Context, m console.Message) (console.Reply, error)
}

// JobList is the response of GET /v1/jobs.
type JobList struct {
	Jobs  []job.Entry `json:"jobs"`
	Count int         `json:"count"`
}

// Handler contains HTTP handlers for the bot API.
type Handler struct {
	messages MessageHandler
	jobs     console.Jobs
	health   *health.Checker
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(messages MessageHandler, jobs console.Jobs, healthChecker *health.Checker) *Handler {
	return &Handler{
		messages: messages,
		jobs:     jobs,
		health:   healthChecker,
		logger:   slog.With("component", "api"),
	}
}

// PostMessage handles POST /v1/messages
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var msg console.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		h.handleError(w, r, apperrors.Validation("text", "must not be empty"))
		return
	}

	reply, err := h.messages.Handle(r.Context(), msg)
	if err != nil {
		h.handleError(w, r, loopError(err))
		return
	}

	status := http.StatusOK
	if reply.JobID != 0 {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, reply)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.jobs.List(r.Context())
	if err != nil {
		h.handleError(w, r, loopError(err))
		return
	}
	if entries == nil {
		entries = []job.Entry{}
	}
	h.writeJSON(w, http.StatusOK, JobList{Jobs: entries, Count: len(entries)})
}

// CancelJob handles DELETE /v1/jobs/{jobId}. Cancellation is cooperative:
// the job stays listed until it notices.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("jobId")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", "Job ID is required")
		return
	}
	id, err := job.ParseID(raw)
	if err != nil {
		h.handleError(w, r, apperrors.Validation("jobId", "must be a decimal job id"))
		return
	}

	found, err := h.jobs.Cancel(r.Context(), id)
	if err != nil {
		h.handleError(w, r, loopError(err))
		return
	}
	if !found {
		h.handleError(w, r, apperrors.NotFound("job", id.String()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while the machine backend is unreachable or during shutdown.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// loopError maps a stopped job loop to 503.
func loopError(err error) error {
	if errors.Is(err, job.ErrStopped) {
		return apperrors.Unavailable("jobs", "job loop stopped")
	}
	return err
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// handleError writes err with the status apperrors assigns to it.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
	} else {
		h.logger.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, apperrors.Code(err), err.Error())
}
