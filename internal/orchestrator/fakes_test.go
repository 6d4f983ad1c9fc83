package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/lessonloop/internal/agent"
	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/realtime"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu          sync.Mutex
	messages    []domain.Message
	attempts    []domain.Attempt
	upserts     []domain.Attempt
	progress    []domain.ProgressUpdate
	failCreates int
	nextID      int
}

func (s *fakeStore) EnsureEnrollment(context.Context, string, string) error { return nil }

func (s *fakeStore) CountLessonProgress(context.Context, string, string) (int, error) {
	return 0, nil
}

func (s *fakeStore) GetLessonProgress(context.Context, string, string) (*domain.LessonProgress, error) {
	return nil, nil
}

func (s *fakeStore) TouchLessonProgress(_ context.Context, userID, courseID, lessonID string, now time.Time) (*domain.LessonProgress, error) {
	return &domain.LessonProgress{UserID: userID, CourseID: courseID, LessonID: lessonID, LastAccessedAt: now}, nil
}

func (s *fakeStore) UpdateLessonProgress(_ context.Context, u domain.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, u)
	return nil
}

func (s *fakeStore) GetOrCreateConversation(_ context.Context, userID, lessonID string) (*domain.Conversation, error) {
	return &domain.Conversation{ID: "conv-" + userID + "-" + lessonID, UserID: userID, LessonID: lessonID}, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreates > 0 {
		s.failCreates--
		return nil, errors.New("disk full")
	}
	for _, m := range s.messages {
		if m.ConversationID == msg.ConversationID && m.Seq == msg.Seq {
			stored := m
			return &stored, nil
		}
	}
	s.nextID++
	msg.ID = fmt.Sprintf("msg-%d", s.nextID)
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) MaxMessageSeq(ctx context.Context, conversationID string) (int64, error) {
	msgs, _ := s.ListMessages(ctx, conversationID)
	var highest int64
	for _, m := range msgs {
		if m.Seq > highest {
			highest = m.Seq
		}
	}
	return highest, nil
}

func (s *fakeStore) InsertAttempt(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *fakeStore) UpsertAttempt(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, a)
	return nil
}

func (s *fakeStore) ListAttempts(context.Context, string, string) ([]domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(append([]domain.Attempt(nil), s.attempts...), s.upserts...), nil
}

func (s *fakeStore) snapshot() ([]domain.Message, []domain.Attempt, []domain.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...),
		append([]domain.Attempt(nil), s.attempts...),
		append([]domain.Attempt(nil), s.upserts...)
}

type fakeQuestions struct {
	warmup    []domain.Question
	bookmarks []domain.Bookmark
	triggers  []domain.InLessonTrigger
}

func (q fakeQuestions) Warmup(string) []domain.Question                  { return q.warmup }
func (q fakeQuestions) Bookmarks(string) []domain.Bookmark               { return q.bookmarks }
func (q fakeQuestions) InLessonTriggers(string) []domain.InLessonTrigger { return q.triggers }

type fakeAgent struct {
	mu          sync.Mutex
	deliver     func(*agent.Event)
	onLost      func(int, error)
	texts       []string
	assessments []agent.AssessmentRequest
	assessErr   error
	sendErr     error
}

func (a *fakeAgent) Run(ctx context.Context, _ agent.SubscribeRequest, deliver func(*agent.Event), onLost func(int, error)) {
	a.mu.Lock()
	a.deliver, a.onLost = deliver, onLost
	a.mu.Unlock()
	<-ctx.Done()
}

func (a *fakeAgent) SendText(_ context.Context, _, _, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.texts = append(a.texts, text)
	return nil
}

func (a *fakeAgent) StartAssessment(_ context.Context, _ string, req agent.AssessmentRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.assessErr != nil {
		return a.assessErr
	}
	a.assessments = append(a.assessments, req)
	return nil
}

// emit delivers an agent event once the subscription is running.
func (a *fakeAgent) emit(t *testing.T, ev *agent.Event) {
	t.Helper()
	var deliver func(*agent.Event)
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		deliver = a.deliver
		return deliver != nil
	}, time.Second, time.Millisecond)
	deliver(ev)
}

func (a *fakeAgent) assessed() []agent.AssessmentRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agent.AssessmentRequest(nil), a.assessments...)
}

func (a *fakeAgent) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

type published struct {
	typ  string
	data json.RawMessage
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	pruned int
}

func (p *fakePublisher) Publish(userID, lessonID, typ string, data any) (realtime.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return realtime.Event{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{typ: typ, data: raw})
	return realtime.Event{ID: int64(len(p.events)), UserID: userID, LessonID: lessonID, Type: typ, Data: raw}, nil
}

func (p *fakePublisher) Prune(string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruned++
}

func (p *fakePublisher) ofType(typ string) []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []json.RawMessage
	for _, e := range p.events {
		if e.typ == typ {
			out = append(out, e.data)
		}
	}
	return out
}

// decodeAll unmarshals every payload of typ into T.
func decodeAll[T any](t *testing.T, p *fakePublisher, typ string) []T {
	t.Helper()
	var out []T
	for _, raw := range p.ofType(typ) {
		var v T
		require.NoError(t, json.Unmarshal(raw, &v))
		out = append(out, v)
	}
	return out
}

func playerActions(t *testing.T, p *fakePublisher) []string {
	t.Helper()
	var out []string
	for _, c := range decodeAll[domain.PlayerCommand](t, p, realtime.EventPlayer) {
		out = append(out, c.Action)
	}
	return out
}

type fakeEvaluator struct {
	eval domain.Evaluation
	err  error
}

func (e fakeEvaluator) Evaluate(_ context.Context, req domain.EvaluationRequest) (domain.Evaluation, error) {
	if e.err != nil {
		return domain.Evaluation{}, e.err
	}
	ev := e.eval
	ev.QuestionID = req.QuestionID
	return ev, nil
}

type fakeResolver struct {
	err error
}

func (r fakeResolver) Resolve(_ context.Context, userID, courseID, lessonID string) (*domain.Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &domain.Session{
		UserID:             userID,
		CourseID:           courseID,
		LessonID:           lessonID,
		SessionType:        domain.SessionLessonWelcome,
		IsFirstLessonVisit: true,
		LessonNumber:       2,
		LessonTitle:        "Loops",
		CourseTitle:        "Go Basics",
		DurationMs:         60000,
	}, nil
}
