package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/lessonloop/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo  store.Repository
	agent Pinger
}

// NewHealthHandler creates a new health handler. agent may be nil.
func NewHealthHandler(repo store.Repository, agent Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, agent: agent}
}

// Health returns the health status of the API and its dependencies. The
// agent is optional, so an unreachable agent degrades the report without
// failing it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	switch {
	case h.agent == nil:
		checks["agent"] = "disabled"
	case h.agent.Health(ctx) != nil:
		checks["agent"] = "unreachable"
		if statusCode == http.StatusOK {
			status["status"] = "degraded"
		}
	default:
		checks["agent"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
