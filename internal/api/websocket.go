package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/identity"
	"github.com/ashureev/lessonloop/internal/orchestrator"
	"github.com/ashureev/lessonloop/internal/realtime"
	"github.com/coder/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 10
)

var errUnknownMessage = errors.New("unknown message type")

// WebSocketHandler serves the bidirectional lesson channel: player and
// learner events in, UI events out.
type WebSocketHandler struct {
	*Handler
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(base *Handler, limiter *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		Handler:       base,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientMessage is one inbound frame.
type clientMessage struct {
	Type            string             `json:"type"`
	State           domain.PlayerState `json:"state,omitempty"`
	PositionMs      int64              `json:"position_ms,omitempty"`
	DurationMs      int64              `json:"duration_ms,omitempty"`
	QuestionID      string             `json:"question_id,omitempty"`
	Answer          string             `json:"answer,omitempty"`
	AnchorMessageID string             `json:"anchor_message_id,omitempty"`
	Choice          string             `json:"choice,omitempty"`
	Text            string             `json:"text,omitempty"`
}

// toEvent maps a frame to a lesson event. limited reports whether the
// frame counts against the learner's rate limit; player telemetry does not.
func toEvent(msg clientMessage) (ev orchestrator.Event, limited bool, err error) {
	switch msg.Type {
	case "player_started":
		return orchestrator.PlayerStarted{}, false, nil
	case "player_state":
		return orchestrator.PlayerStateChanged{State: msg.State}, false, nil
	case "time_update":
		return orchestrator.PlayerTimeUpdate{PositionMs: msg.PositionMs}, false, nil
	case "duration":
		return orchestrator.PlayerDuration{DurationMs: msg.DurationMs}, false, nil
	case "reconcile":
		return orchestrator.Reconcile{}, false, nil
	case "answer":
		return orchestrator.SubmitAnswer{QuestionID: msg.QuestionID, Answer: msg.Answer}, true, nil
	case "skip":
		return orchestrator.SkipQuestion{QuestionID: msg.QuestionID}, true, nil
	case "cancel_campaign":
		return orchestrator.CancelCampaign{}, true, nil
	case "start_warmup":
		return orchestrator.StartWarmup{}, true, nil
	case "offer_choice":
		return orchestrator.ChooseOffer{AnchorMessageID: msg.AnchorMessageID, Choice: msg.Choice}, true, nil
	case "text":
		return orchestrator.SendText{Text: msg.Text}, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
//
// Query: course_id, lesson_id, and optionally last_event_id. When
// last_event_id is still covered by the replay buffer the client receives
// the events it missed; otherwise it first receives a session snapshot.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	q := r.URL.Query()
	courseID, lessonID := q.Get("course_id"), q.Get("lesson_id")
	lastEventID, _ := strconv.ParseInt(q.Get("last_event_id"), 10, 64)
	logger := h.logger.With("user_id", userID, "lesson_id", lessonID)
	logger.Info("WebSocket connection request", "ip", identity.IPFromRequest(r), "last_event_id", lastEventID)

	if courseID == "" || lessonID == "" {
		Error(w, http.StatusBadRequest, "course_id and lesson_id are required")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	lesson, err := h.registry.Open(r.Context(), userID, courseID, lessonID)
	if err != nil {
		h.fail(w, r, err, "failed to open lesson session")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(wsReadLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, missed, resumed := h.hub.Subscribe(userID, lessonID, lastEventID)
	defer sub.Close()

	if !resumed {
		if lastEventID > 0 {
			logger.Info("Replay buffer no longer covers client, resyncing", "last_event_id", lastEventID)
		}
		snap, err := lesson.Snapshot(ctx)
		if err != nil {
			logger.Warn("Failed to read lesson snapshot", "error", err)
			return
		}
		if err := h.writeEvent(ctx, ws, realtime.EventSession, snap); err != nil {
			logger.Debug("Failed to send snapshot", "error", err)
			return
		}
	} else {
		for _, ev := range missed {
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				logger.Debug("Failed to replay event", "error", err)
				return
			}
		}
		// A reconnect re-submits writes that failed while the client was away.
		if err := lesson.Post(ctx, orchestrator.Reconcile{}); err != nil {
			logger.Debug("Failed to post reconcile", "error", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: WebSocket -> lesson.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, lesson, userID, logger)
	}()

	// Output loop: hub -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, sub, lesson, logger)
	}()

	wg.Wait()
	logger.Info("Lesson socket ended")
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, lesson *orchestrator.Lesson, userID string, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				logger.Debug("WebSocket closed by client")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reject(ctx, ws, "malformed message")
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				logger.Debug("Failed to send pong", "error", err)
			}
			continue
		}

		ev, limited, err := toEvent(msg)
		if err != nil {
			logger.Debug("Ignoring client message", "error", err)
			h.reject(ctx, ws, "unknown message type")
			continue
		}
		if limited && h.limiter != nil && !h.limiter.Allow(userID) {
			h.reject(ctx, ws, "Too many requests. Please slow down.")
			continue
		}
		if err := lesson.Post(ctx, ev); err != nil {
			if errors.Is(err, orchestrator.ErrClosed) {
				logger.Info("Lesson session closed while socket open")
			}
			return
		}

		if limited {
			go h.touch(userID, logger)
		}
	}
}

// touch updates the learner's last-seen time for a long-lived socket.
func (h *WebSocketHandler) touch(userID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
		logger.Warn("Failed to update last seen", "error", err)
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, sub *realtime.Subscription, lesson *orchestrator.Lesson, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-lesson.Done():
			if err := ws.Close(websocket.StatusGoingAway, "lesson session ended"); err != nil {
				logger.Debug("Failed to close websocket", "error", err)
			}
			return
		case ev := <-sub.C():
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				if ctx.Err() == nil {
					logger.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

// reject tells the client a frame was refused without closing the socket.
func (h *WebSocketHandler) reject(ctx context.Context, ws *websocket.Conn, text string) {
	if err := h.writeEvent(ctx, ws, realtime.EventNotice, orchestrator.NoticePayload{Level: "error", Text: text}); err != nil {
		h.logger.Debug("Failed to send notice", "error", err)
	}
}

// writeEvent sends an unnumbered, local-only event.
func (h *WebSocketHandler) writeEvent(ctx context.Context, ws *websocket.Conn, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return h.writeJSON(ctx, ws, realtime.Event{Type: typ, Data: raw, Timestamp: time.Now()})
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
