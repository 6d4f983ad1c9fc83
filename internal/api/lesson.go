package api

import (
	"net/http"

	"github.com/ashureev/lessonloop/internal/identity"
	"github.com/go-chi/chi/v5"
)

// LessonHandler handles lesson session endpoints.
type LessonHandler struct {
	*Handler
	agentEnabled bool
}

// NewLessonHandler creates a lesson handler.
func NewLessonHandler(base *Handler, agentEnabled bool) *LessonHandler {
	return &LessonHandler{Handler: base, agentEnabled: agentEnabled}
}

// RegisterRoutes registers lesson routes.
func (h *LessonHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Route("/courses/{courseID}/lessons/{lessonID}", func(r chi.Router) {
			r.Post("/session", h.OpenSession)
			r.Get("/session", h.GetSession)
			r.Delete("/session", h.CloseSession)
			r.Get("/messages", h.ListMessages)
			r.Get("/attempts", h.ListAttempts)
		})
	})
}

// GetMe returns the current learner.
func (h *LessonHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":  user.UserID,
		"username": user.Username,
	})
}

// GetConfig returns public client configuration.
func (h *LessonHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"agent_enabled": h.agentEnabled,
	})
}

// OpenSession starts or rejoins the learner's visit to a lesson and returns
// its current state.
func (h *LessonHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	courseID, lessonID := chi.URLParam(r, "courseID"), chi.URLParam(r, "lessonID")

	lesson, err := h.registry.Open(r.Context(), userID, courseID, lessonID)
	if err != nil {
		h.fail(w, r, err, "failed to open lesson session")
		return
	}
	snap, err := lesson.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err, "failed to read lesson session")
		return
	}
	JSON(w, http.StatusOK, snap)
}

// GetSession returns the state of a live visit.
func (h *LessonHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	lesson := h.registry.Get(userID, chi.URLParam(r, "lessonID"))
	if lesson == nil {
		Error(w, http.StatusNotFound, "no active lesson session")
		return
	}
	snap, err := lesson.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err, "failed to read lesson session")
		return
	}
	JSON(w, http.StatusOK, snap)
}

// CloseSession ends the visit.
func (h *LessonHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.registry.Close(userID, chi.URLParam(r, "lessonID")) {
		Error(w, http.StatusNotFound, "no active lesson session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns the stored chat history for the lesson.
func (h *LessonHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	lessonID := chi.URLParam(r, "lessonID")

	conv, err := h.repo.GetOrCreateConversation(r.Context(), userID, lessonID)
	if err != nil {
		h.fail(w, r, err, "failed to load conversation")
		return
	}
	msgs, err := h.repo.ListMessages(r.Context(), conv.ID)
	if err != nil {
		h.fail(w, r, err, "failed to list messages")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"messages":        msgs,
	})
}

// ListAttempts returns the learner's quiz attempts for the lesson.
func (h *LessonHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	attempts, err := h.repo.ListAttempts(r.Context(), userID, chi.URLParam(r, "lessonID"))
	if err != nil {
		h.fail(w, r, err, "failed to list attempts")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}
