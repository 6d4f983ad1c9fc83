//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/identity"
	"github.com/ashureev/lessonloop/internal/orchestrator"
	"github.com/ashureev/lessonloop/internal/realtime"
	"github.com/ashureev/lessonloop/internal/sessionctx"
	"github.com/ashureev/lessonloop/internal/store"
	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{sessionctx.ErrLessonNotFound, http.StatusNotFound},
		{fmt.Errorf("resolve: %w", sessionctx.ErrLessonNotInCourse), http.StatusNotFound},
		{orchestrator.ErrClosed, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

type testServer struct {
	*httptest.Server
	client   *http.Client
	repo     *store.SQLiteStore
	registry *orchestrator.Registry
	hub      *realtime.Hub
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedCatalog(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertCourse(ctx, &domain.Course{ID: "c1", Title: "Go Basics"}); err != nil {
		t.Fatalf("UpsertCourse: %v", err)
	}
	if err := s.UpsertModule(ctx, &domain.Module{ID: "m1", CourseID: "c1", Title: "First", Published: true}); err != nil {
		t.Fatalf("UpsertModule: %v", err)
	}
	lessons := []domain.Lesson{
		{ID: "l1", ModuleID: "m1", Title: "Intro", OrderIndex: 0, Published: true, DurationMs: 60000},
		{ID: "l2", ModuleID: "m1", Title: "Loops", OrderIndex: 1, Published: true, DurationMs: 90000},
	}
	for i := range lessons {
		if err := s.UpsertLesson(ctx, &lessons[i]); err != nil {
			t.Fatalf("UpsertLesson: %v", err)
		}
	}
}

func newTestServer(t *testing.T, limit int) *testServer {
	t.Helper()
	logger := quietLogger()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	seedCatalog(t, repo)

	hub := realtime.NewHub(50, logger)
	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Store:     repo,
		Publisher: hub,
		Logger:    logger,
	}, sessionctx.NewResolver(repo, logger), logger)
	t.Cleanup(registry.CloseAll)
	t.Cleanup(hub.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	base := NewHandler(repo, registry, hub, logger)
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewHealthHandler(repo, nil).RegisterHealth(r)
	NewLessonHandler(base, false).RegisterRoutes(r)
	r.Get("/ws/lesson", NewWebSocketHandler(base, NewRateLimiter(ctx, limit, time.Minute), "", true).ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{
		Server:   srv,
		client:   &http.Client{Jar: jar, Timeout: 5 * time.Second},
		repo:     repo,
		registry: registry,
		hub:      hub,
	}
}

func (s *testServer) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 10)

	resp, body := s.do(t, http.MethodGet, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "healthy" || got.Checks["database"] != "ok" || got.Checks["agent"] != "disabled" {
		t.Errorf("unexpected health report: %+v", got)
	}
}

func TestOpenSessionReturnsSnapshot(t *testing.T) {
	s := newTestServer(t, 10)

	resp, body := s.do(t, http.MethodPost, "/api/courses/c1/lessons/l2/session")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var snap orchestrator.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Session.LessonNumber != 2 || snap.Session.PrevLessonTitle != "Intro" {
		t.Errorf("unexpected session: %+v", snap.Session)
	}
	if snap.Session.SessionType != domain.SessionLessonWelcome {
		t.Errorf("expected lesson_welcome, got %s", snap.Session.SessionType)
	}
	if s.registry.Len() != 1 {
		t.Errorf("expected one live lesson, got %d", s.registry.Len())
	}

	resp, _ = s.do(t, http.MethodGet, "/api/courses/c1/lessons/l2/session")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected live session, got %d", resp.StatusCode)
	}
}

func TestOpenSessionUnknownLesson(t *testing.T) {
	s := newTestServer(t, 10)

	for _, path := range []string{
		"/api/courses/c1/lessons/missing/session",
		"/api/courses/other/lessons/l1/session",
	} {
		resp, body := s.do(t, http.MethodPost, path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("POST %s: expected 404, got %d: %s", path, resp.StatusCode, body)
		}
	}
}

func TestCloseSession(t *testing.T) {
	s := newTestServer(t, 10)

	if resp, _ := s.do(t, http.MethodPost, "/api/courses/c1/lessons/l1/session"); resp.StatusCode != http.StatusOK {
		t.Fatalf("open failed: %d", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodDelete, "/api/courses/c1/lessons/l1/session"); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodDelete, "/api/courses/c1/lessons/l1/session"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second close, got %d", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodGet, "/api/courses/c1/lessons/l1/session"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after close, got %d", resp.StatusCode)
	}
}

func TestListMessages(t *testing.T) {
	s := newTestServer(t, 10)

	resp, body := s.do(t, http.MethodGet, "/api/courses/c1/lessons/l1/messages")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var got struct {
		ConversationID string           `json:"conversation_id"`
		Messages       []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.ConversationID == "" {
		t.Error("expected a conversation id")
	}
	if len(got.Messages) != 0 {
		t.Errorf("expected empty history, got %d messages", len(got.Messages))
	}
}

func TestGetMeCreatesLearner(t *testing.T) {
	s := newTestServer(t, 10)

	resp, body := s.do(t, http.MethodGet, "/api/me")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var me map[string]string
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatal(err)
	}
	user, err := s.repo.GetUser(context.Background(), me["user_id"])
	if err != nil || user == nil {
		t.Fatalf("learner not stored: %v", err)
	}

	// The cookie keeps the same identity.
	_, body = s.do(t, http.MethodGet, "/api/me")
	var again map[string]string
	if err := json.Unmarshal(body, &again); err != nil {
		t.Fatal(err)
	}
	if again["user_id"] != me["user_id"] {
		t.Errorf("identity changed: %s != %s", again["user_id"], me["user_id"])
	}
}
