// Package api provides HTTP handlers for the lessonloop API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/lessonloop/internal/orchestrator"
	"github.com/ashureev/lessonloop/internal/realtime"
	"github.com/ashureev/lessonloop/internal/sessionctx"
	"github.com/ashureev/lessonloop/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	registry *orchestrator.Registry
	hub      *realtime.Hub
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, registry *orchestrator.Registry, hub *realtime.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:     repo,
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sessionctx.ErrLessonNotFound), errors.Is(err, sessionctx.ErrLessonNotInCourse):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail logs unexpected errors and writes the mapped status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "path", r.URL.Path)
		Error(w, status, msg)
		return
	}
	Error(w, status, err.Error())
}
