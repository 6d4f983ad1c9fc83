// Package sessionctx resolves the visit context for a learner entering a
// lesson: first course visit, intro lesson, first or returning lesson visit,
// and the welcome flavor that follows from them.
package sessionctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/store"
)

var (
	// ErrLessonNotFound means the lesson or its course does not exist.
	ErrLessonNotFound = errors.New("lesson not found")

	// ErrLessonNotInCourse means the lesson exists but is absent from the
	// course's published ordering.
	ErrLessonNotInCourse = errors.New("lesson not in published course ordering")
)

// Store is the subset of the repository the resolver needs.
type Store interface {
	store.CatalogStore
	store.ProgressStore
}

// Resolver computes a domain.Session once per lesson entry.
type Resolver struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(s Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: s, now: time.Now, logger: logger}
}

// Resolve computes the visit context. As a side effect it enrolls the learner,
// creates the lesson progress row if absent and bumps last_accessed_at.
func (r *Resolver) Resolve(ctx context.Context, userID, courseID, lessonID string) (*domain.Session, error) {
	course, err := r.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	lesson, err := r.store.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if course == nil || lesson == nil {
		return nil, ErrLessonNotFound
	}
	if lesson.CourseID != courseID {
		return nil, ErrLessonNotInCourse
	}

	ordering, err := r.store.ListPublishedLessons(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list published lessons: %w", err)
	}
	position := -1
	for i, ref := range ordering {
		if ref.LessonID == lessonID {
			position = i
			break
		}
	}
	if position < 0 {
		return nil, ErrLessonNotInCourse
	}

	// Both visit flags are read before the progress row is touched.
	progressRows, err := r.store.CountLessonProgress(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("count lesson progress: %w", err)
	}
	progress, err := r.store.GetLessonProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get lesson progress: %w", err)
	}

	firstModule, err := r.store.FirstPublishedModule(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("first published module: %w", err)
	}

	sess := &domain.Session{
		UserID:             userID,
		CourseID:           courseID,
		LessonID:           lessonID,
		IsFirstCourseVisit: progressRows == 0,
		IsIntroLesson:      firstModule != nil && lesson.ModuleID == firstModule.ID && lesson.OrderIndex == 0,
		IsFirstLessonVisit: progress == nil || progress.Status == domain.ProgressNotStarted,
		LessonNumber:       position + 1,
		LessonTitle:        lesson.Title,
		CourseTitle:        course.Title,
		DurationMs:         lesson.DurationMs,
	}
	if position > 0 {
		sess.PrevLessonTitle = ordering[position-1].Title
	}
	if progress != nil {
		sess.ResumePositionMs = progress.LastPositionMs
	}
	sess.SessionType = SessionTypeFor(sess.IsIntroLesson, sess.IsFirstCourseVisit, sess.IsFirstLessonVisit)

	if err := r.store.EnsureEnrollment(ctx, userID, courseID); err != nil {
		return nil, fmt.Errorf("ensure enrollment: %w", err)
	}
	if _, err := r.store.TouchLessonProgress(ctx, userID, courseID, lessonID, r.now()); err != nil {
		return nil, fmt.Errorf("touch lesson progress: %w", err)
	}

	r.logger.Info("[SESSION] resolved lesson visit",
		"user_id", userID,
		"lesson_id", lessonID,
		"session_type", sess.SessionType,
		"lesson_number", sess.LessonNumber,
	)
	return sess, nil
}

// SessionTypeFor applies the welcome decision table. The intro lesson always
// maps to a course-level welcome.
func SessionTypeFor(isIntroLesson, isFirstCourseVisit, isFirstLessonVisit bool) domain.SessionType {
	switch {
	case isIntroLesson && isFirstCourseVisit:
		return domain.SessionCourseWelcome
	case isIntroLesson:
		return domain.SessionCourseWelcomeBack
	case isFirstLessonVisit:
		return domain.SessionLessonWelcome
	default:
		return domain.SessionLessonWelcomeBack
	}
}

// AgentVariables renders the session as the dynamic variables sent to the
// conversational agent when a conversation starts.
func AgentVariables(s *domain.Session) map[string]string {
	return map[string]string{
		"user_id":               s.UserID,
		"course_id":             s.CourseID,
		"lesson_id":             s.LessonID,
		"session_type":          string(s.SessionType),
		"lesson_number":         strconv.Itoa(s.LessonNumber),
		"lesson_title":          s.LessonTitle,
		"course_title":          s.CourseTitle,
		"prev_lesson_title":     s.PrevLessonTitle,
		"is_first_course_visit": strconv.FormatBool(s.IsFirstCourseVisit),
		"is_intro_lesson":       strconv.FormatBool(s.IsIntroLesson),
		"is_first_lesson_visit": strconv.FormatBool(s.IsFirstLessonVisit),
	}
}
