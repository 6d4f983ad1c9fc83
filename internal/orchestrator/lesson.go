// Package orchestrator runs one event loop per lesson visit. The loop owns
// the quiz engine, the transcript synchronizer and the video trigger engine;
// every side effect (storage, grading, agent calls) runs off the loop and
// reports back as a later event, so no handler ever blocks on I/O.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/lessonloop/internal/agent"
	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/grading"
	"github.com/ashureev/lessonloop/internal/quiz"
	"github.com/ashureev/lessonloop/internal/realtime"
	"github.com/ashureev/lessonloop/internal/sessionctx"
	"github.com/ashureev/lessonloop/internal/store"
	"github.com/ashureev/lessonloop/internal/transcript"
	"github.com/ashureev/lessonloop/internal/video"
	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when posting to a torn-down lesson.
	ErrClosed = errors.New("lesson session closed")

	// ErrAgentUnavailable is reported when no agent is configured.
	ErrAgentUnavailable = errors.New("conversational agent unavailable")
)

const (
	inboxSize      = 256
	effectTimeout  = 10 * time.Second
	persistRetries = 3
)

// Store is the persistence a lesson visit writes to.
type Store interface {
	store.ProgressStore
	store.MessageStore
	store.AttemptStore
}

// QuestionSource provides a lesson's static quiz material.
type QuestionSource interface {
	Warmup(lessonID string) []domain.Question
	Bookmarks(lessonID string) []domain.Bookmark
	InLessonTriggers(lessonID string) []domain.InLessonTrigger
}

// AgentService is the agent connection as the loop uses it.
type AgentService interface {
	Run(ctx context.Context, req agent.SubscribeRequest, deliver func(*agent.Event), onLost func(attempt int, err error))
	SendText(ctx context.Context, userID, sessionID, text string) error
	StartAssessment(ctx context.Context, userID string, req agent.AssessmentRequest) error
}

// Publisher delivers UI events.
type Publisher interface {
	Publish(userID, lessonID, typ string, data any) (realtime.Event, error)
}

// VideoConfig carries the video engine's timing knobs.
type VideoConfig struct {
	MinWatch          time.Duration
	ProgressInterval  time.Duration
	BookmarkTolerance time.Duration
	InLessonTolerance time.Duration
}

// Deps are the collaborators shared by every lesson visit. Agent and
// Evaluator may be nil.
type Deps struct {
	Store     Store
	Questions QuestionSource
	Evaluator grading.Evaluator
	Agent     AgentService
	Publisher Publisher
	Video     VideoConfig
	Logger    *slog.Logger
}

// Lesson is one learner's visit to one lesson.
type Lesson struct {
	session domain.Session
	conv    domain.Conversation
	visitID string
	deps    Deps
	logger  *slog.Logger

	// Owned by the loop goroutine.
	quiz       *quiz.Engine
	transcript *transcript.Synchronizer
	video      *video.Engine
	refs       []*domain.MessageRef
	byLocal    map[string]*domain.MessageRef
	offer      *domain.ActionOffer
	topics     map[string]string
	warmup     []domain.Question
	bookmarks  []domain.Bookmark
	agentUp    bool

	inbox     chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	inflight  atomic.Int64
	lastSeen  atomic.Int64
	closeOnce sync.Once
	now       func() time.Time
}

// newLesson builds a lesson around a resolved session. history is the
// conversation's stored messages in seq order.
func newLesson(deps Deps, sess domain.Session, conv domain.Conversation, history []domain.Message) *Lesson {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", sess.UserID, "lesson_id", sess.LessonID)

	var startSeq int64
	l := &Lesson{
		session: sess,
		conv:    conv,
		visitID: uuid.NewString(),
		deps:    deps,
		logger:  logger,
		byLocal: make(map[string]*domain.MessageRef),
		topics:  make(map[string]string),
		inbox:   make(chan Event, inboxSize),
		stopped: make(chan struct{}),
		now:     time.Now,
	}
	for _, m := range history {
		ref := &domain.MessageRef{LocalID: m.ID, RemoteID: m.ID, State: domain.Persisted, Message: m}
		l.refs = append(l.refs, ref)
		l.byLocal[ref.LocalID] = ref
		if m.Seq > startSeq {
			startSeq = m.Seq
		}
	}

	var triggers []domain.InLessonTrigger
	if deps.Questions != nil {
		l.warmup = deps.Questions.Warmup(sess.LessonID)
		l.bookmarks = deps.Questions.Bookmarks(sess.LessonID)
		triggers = deps.Questions.InLessonTriggers(sess.LessonID)
	}
	for _, bm := range l.bookmarks {
		l.topics[bm.ID] = bm.Topic
	}

	l.quiz = quiz.NewEngine(sess.UserID, sess.LessonID, logger)
	l.transcript = transcript.New(transcript.Config{
		ConversationID: conv.ID,
		SessionType:    sess.SessionType,
		StartSeq:       startSeq,
		Logger:         logger,
	})
	l.video = video.NewEngine(video.Config{
		UserID:            sess.UserID,
		LessonID:          sess.LessonID,
		Bookmarks:         l.bookmarks,
		Triggers:          triggers,
		DurationMs:        sess.DurationMs,
		ResumePositionMs:  sess.ResumePositionMs,
		MinWatch:          deps.Video.MinWatch,
		ProgressInterval:  deps.Video.ProgressInterval,
		BookmarkTolerance: deps.Video.BookmarkTolerance,
		InLessonTolerance: deps.Video.InLessonTolerance,
		Logger:            logger,
	})
	l.touch()
	return l
}

// start launches the event loop and, when configured, the agent subscription.
func (l *Lesson) start(parent context.Context) {
	l.ctx, l.cancel = context.WithCancel(parent)
	l.agentUp = l.deps.Agent != nil
	go l.run()

	if l.deps.Agent != nil {
		req := agent.SubscribeRequest{
			UserID:    l.session.UserID,
			SessionID: l.visitID,
			LessonID:  l.session.LessonID,
			Variables: sessionctx.AgentVariables(&l.session),
		}
		go l.deps.Agent.Run(l.ctx, req,
			func(ev *agent.Event) { l.post(agentEvent{ev: ev}) },
			func(attempt int, err error) { l.post(agentLost{attempt: attempt, err: err}) },
		)
	}
	l.logger.Info("[LESSON] session started",
		"session_type", l.session.SessionType, "visit_id", l.visitID, "history", len(l.refs))
}

func (l *Lesson) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.inbox:
			l.handle(ev)
		}
	}
}

// Session returns the resolved visit context.
func (l *Lesson) Session() domain.Session { return l.session }

// ConversationID returns the lesson's conversation id.
func (l *Lesson) ConversationID() string { return l.conv.ID }

// LastSeen is the time of the latest learner event.
func (l *Lesson) LastSeen() time.Time { return time.Unix(0, l.lastSeen.Load()) }

func (l *Lesson) touch() { l.lastSeen.Store(l.now().UnixNano()) }

// Post delivers a learner or player event to the loop.
func (l *Lesson) Post(ctx context.Context, ev Event) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	l.touch()
	select {
	case l.inbox <- ev:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is used by side effects; completions after teardown are dropped
// and post reports false.
func (l *Lesson) post(ev Event) bool {
	select {
	case l.inbox <- ev:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// async runs fn off the loop and posts its result. Storage writes use a
// context detached from the lesson so teardown does not cancel them. The
// effect counts as in flight until the loop has handled its result.
func (l *Lesson) async(fn func(ctx context.Context) Event) {
	l.inflight.Add(1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
		defer cancel()
		ev := fn(ctx)
		if ev == nil || !l.post(effectDone{ev: ev}) {
			l.inflight.Add(-1)
		}
	}()
}

// Snapshot returns the current UI state.
func (l *Lesson) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := l.Post(ctx, snapshotRequest{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-l.ctx.Done():
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Flush waits until every event posted so far and every side effect they
// started has been handled.
func (l *Lesson) Flush(ctx context.Context) error {
	for {
		for l.inflight.Load() > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.ctx.Done():
				return ErrClosed
			case <-time.After(time.Millisecond):
			}
		}
		b := barrier{done: make(chan struct{})}
		select {
		case l.inbox <- b:
		case <-l.ctx.Done():
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-b.done:
		case <-l.ctx.Done():
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
		if l.inflight.Load() == 0 {
			return nil
		}
	}
}

// Close tears down the visit. In-flight writes are left to finish.
func (l *Lesson) Close() {
	l.closeOnce.Do(func() {
		l.cancel()
		<-l.stopped
		l.logger.Info("[LESSON] session closed", "visit_id", l.visitID)
	})
}

// Done is closed once the loop has stopped.
func (l *Lesson) Done() <-chan struct{} { return l.stopped }

func (l *Lesson) publish(typ string, data any) {
	if l.deps.Publisher == nil {
		return
	}
	if _, err := l.deps.Publisher.Publish(l.session.UserID, l.session.LessonID, typ, data); err != nil {
		l.logger.Warn("[LESSON] publish failed", "type", typ, "error", err)
	}
}

func (l *Lesson) notice(level, text string) {
	l.publish(realtime.EventNotice, NoticePayload{Level: level, Text: text})
}

func (l *Lesson) handle(ev Event) {
	switch e := ev.(type) {
	case PlayerStarted:
		l.applyVideo(l.video.OnPlayerStarted())
	case PlayerStateChanged:
		l.applyVideo(l.video.OnPlayerStateChange(e.State))
	case PlayerTimeUpdate:
		l.applyVideo(l.video.OnTimeUpdate(e.PositionMs))
	case PlayerDuration:
		l.video.SetDuration(e.DurationMs)
	case SubmitAnswer:
		l.applyQuiz(l.quiz.SubmitAnswer(e.QuestionID, e.Answer))
	case SkipQuestion:
		l.applyQuiz(l.quiz.Skip(e.QuestionID))
	case CancelCampaign:
		l.applyQuiz(l.quiz.Cancel())
	case StartWarmup:
		l.startLocal(domain.AssessmentWarmup, l.warmup, "")
	case ChooseOffer:
		l.chooseOffer(e)
	case SendText:
		l.sendText(e.Text)
	case Reconcile:
		l.reconcile()
	case agentEvent:
		l.onAgentEvent(e.ev)
	case agentLost:
		l.onAgentLost(e)
	case persistResult:
		l.onPersisted(e)
	case evaluationResult:
		l.onEvaluation(e)
	case triggerFailed:
		l.onTriggerFailed(e)
	case agentSendFailed:
		l.notice("warning", "Your tutor didn't receive that. Please try again.")
	case snapshotRequest:
		e.reply <- l.snapshot()
	case barrier:
		close(e.done)
	case effectDone:
		l.handle(e.ev)
		l.inflight.Add(-1)
	default:
		l.logger.Warn("[LESSON] unknown event", "event", ev)
	}
}

func (l *Lesson) snapshot() Snapshot {
	s := Snapshot{
		Session:         l.session,
		Messages:        make([]MessagePayload, 0, len(l.refs)),
		Offer:           l.offer,
		WarmupAvailable: len(l.warmup) > 0,
		Bookmarks:       append([]domain.Bookmark(nil), l.bookmarks...),
		PositionMs:      l.video.PositionMs(),
		AgentConnected:  l.agentUp,
	}
	for _, ref := range l.refs {
		s.Messages = append(s.Messages, messagePayload(ref))
	}
	for i := range s.Bookmarks {
		s.Bookmarks[i].Triggered = l.video.Triggered(s.Bookmarks[i].ID)
	}
	if c := l.quiz.Active(); c != nil {
		s.Campaign = &CampaignPayload{
			CampaignID: c.ID,
			Type:       c.Type,
			TriggerID:  c.TriggerID,
			Status:     CampaignStatusStarted,
			Total:      len(c.Questions),
		}
	}
	if q, ok := l.quiz.CurrentQuestion(); ok {
		s.Question = &q
	}
	return s
}
