package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/metrics"
)

const sweepInterval = time.Minute

// Resolver computes the session context for a visit.
type Resolver interface {
	Resolve(ctx context.Context, userID, courseID, lessonID string) (*domain.Session, error)
}

// pruner is implemented by publishers that buffer per-lesson state.
type pruner interface {
	Prune(userID, lessonID string)
}

// Registry tracks live lesson visits. A learner has at most one live lesson;
// opening another closes the previous one.
type Registry struct {
	deps     Deps
	resolver Resolver
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lessons map[string]*Lesson // by user id
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps, resolver Resolver, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		resolver: resolver,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		lessons:  make(map[string]*Lesson),
	}
}

// Open resolves the visit and returns its live lesson, starting one if the
// learner has none for lessonID.
func (r *Registry) Open(ctx context.Context, userID, courseID, lessonID string) (*Lesson, error) {
	if l := r.Get(userID, lessonID); l != nil && sameVisit(l, courseID, lessonID) {
		l.touch()
		return l, nil
	}

	sess, err := r.resolver.Resolve(ctx, userID, courseID, lessonID)
	if err != nil {
		return nil, err
	}
	conv, err := r.deps.Store.GetOrCreateConversation(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	history, err := r.deps.Store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	l := newLesson(r.deps, *sess, *conv, history)

	r.mu.Lock()
	if cur, ok := r.lessons[userID]; ok && sameVisit(cur, courseID, lessonID) && !isDone(cur) {
		r.mu.Unlock()
		return cur, nil
	}
	prev := r.lessons[userID]
	r.lessons[userID] = l
	l.start(r.ctx)
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	if prev != nil {
		r.teardown(prev)
	}
	return l, nil
}

// Get returns the learner's live lesson for lessonID, or nil.
func (r *Registry) Get(userID, lessonID string) *Lesson {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lessons[userID]
	if !ok || l.Session().LessonID != lessonID || isDone(l) {
		return nil
	}
	return l
}

// Close ends the learner's lesson. It reports whether one was live.
func (r *Registry) Close(userID, lessonID string) bool {
	r.mu.Lock()
	l, ok := r.lessons[userID]
	if !ok || l.Session().LessonID != lessonID {
		r.mu.Unlock()
		return false
	}
	delete(r.lessons, userID)
	r.mu.Unlock()

	r.teardown(l)
	return true
}

func (r *Registry) teardown(l *Lesson) {
	l.Close()
	metrics.ActiveSessions.Dec()
	if p, ok := r.deps.Publisher.(pruner); ok {
		s := l.Session()
		p.Prune(s.UserID, s.LessonID)
	}
}

// CloseAll ends every lesson.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	lessons := make([]*Lesson, 0, len(r.lessons))
	for id, l := range r.lessons {
		lessons = append(lessons, l)
		delete(r.lessons, id)
	}
	r.mu.Unlock()

	for _, l := range lessons {
		r.teardown(l)
	}
	r.cancel()
	r.logger.Info("[REGISTRY] all lessons closed", "count", len(lessons))
}

// Len is the number of live lessons.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lessons)
}

// StartIdleSweeper closes lessons with no learner events for ttl.
func (r *Registry) StartIdleSweeper(ctx context.Context, ttl time.Duration) {
	r.startSweeper(ctx, ttl, sweepInterval)
}

func (r *Registry) startSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("[REGISTRY] idle sweeper started", "interval", interval, "ttl", ttl)
		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now(), ttl)
			case <-ctx.Done():
				r.logger.Info("[REGISTRY] idle sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Registry) sweep(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	var expired []*Lesson
	for id, l := range r.lessons {
		if now.Sub(l.LastSeen()) >= ttl || isDone(l) {
			expired = append(expired, l)
			delete(r.lessons, id)
		}
	}
	r.mu.Unlock()

	for _, l := range expired {
		s := l.Session()
		r.logger.Info("[REGISTRY] closing idle lesson", "user_id", s.UserID, "lesson_id", s.LessonID)
		r.teardown(l)
	}
	return len(expired)
}

func sameVisit(l *Lesson, courseID, lessonID string) bool {
	s := l.Session()
	return s.CourseID == courseID && s.LessonID == lessonID
}

func isDone(l *Lesson) bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}
