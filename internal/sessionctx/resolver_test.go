package sessionctx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.UpsertCourse(ctx, &domain.Course{ID: "c1", Title: "Concurrency"}))
	require.NoError(t, s.UpsertCourse(ctx, &domain.Course{ID: "c2", Title: "Other"}))
	for _, m := range []domain.Module{
		{ID: "m0", CourseID: "c1", Title: "Draft", OrderIndex: 0, Published: false},
		{ID: "m1", CourseID: "c1", Title: "Basics", OrderIndex: 1, Published: true},
		{ID: "m2", CourseID: "c1", Title: "Patterns", OrderIndex: 2, Published: true},
		{ID: "m9", CourseID: "c2", Title: "Elsewhere", OrderIndex: 0, Published: true},
	} {
		m := m
		require.NoError(t, s.UpsertModule(ctx, &m))
	}
	for _, l := range []domain.Lesson{
		{ID: "draft", ModuleID: "m0", Title: "Draft intro", OrderIndex: 0, Published: true},
		{ID: "intro", ModuleID: "m1", Title: "Welcome", OrderIndex: 0, Published: true},
		{ID: "goroutines", ModuleID: "m1", Title: "Goroutines", OrderIndex: 1, Published: true},
		{ID: "pipelines", ModuleID: "m2", Title: "Pipelines", OrderIndex: 0, Published: true},
		{ID: "hidden", ModuleID: "m2", Title: "Hidden", OrderIndex: 1, Published: false},
		{ID: "foreign", ModuleID: "m9", Title: "Foreign", OrderIndex: 0, Published: true},
	} {
		l := l
		require.NoError(t, s.UpsertLesson(ctx, &l))
	}
	return s
}

func TestSessionTypeFor(t *testing.T) {
	tests := []struct {
		intro, firstCourse, firstLesson bool
		want                            domain.SessionType
	}{
		{true, true, true, domain.SessionCourseWelcome},
		{true, true, false, domain.SessionCourseWelcome},
		{true, false, true, domain.SessionCourseWelcomeBack},
		{true, false, false, domain.SessionCourseWelcomeBack},
		{false, true, true, domain.SessionLessonWelcome},
		{false, false, true, domain.SessionLessonWelcome},
		{false, true, false, domain.SessionLessonWelcomeBack},
		{false, false, false, domain.SessionLessonWelcomeBack},
	}
	for _, tt := range tests {
		got := SessionTypeFor(tt.intro, tt.firstCourse, tt.firstLesson)
		assert.Equal(t, tt.want, got, "intro=%v firstCourse=%v firstLesson=%v", tt.intro, tt.firstCourse, tt.firstLesson)
	}
}

func TestResolveIntroLessonFirstAndReturning(t *testing.T) {
	s := newCatalog(t)
	r := NewResolver(s, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "u1", "c1", "intro")
	require.NoError(t, err)
	assert.True(t, first.IsIntroLesson, "intro is order 0 of the first published module")
	assert.True(t, first.IsFirstCourseVisit)
	assert.True(t, first.IsFirstLessonVisit)
	assert.Equal(t, domain.SessionCourseWelcome, first.SessionType)
	assert.Equal(t, 1, first.LessonNumber)
	assert.Empty(t, first.PrevLessonTitle)

	progress, err := s.GetLessonProgress(ctx, "u1", "intro")
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, domain.ProgressInProgress, progress.Status)

	again, err := r.Resolve(ctx, "u1", "c1", "intro")
	require.NoError(t, err)
	assert.False(t, again.IsFirstCourseVisit)
	assert.False(t, again.IsFirstLessonVisit)
	assert.Equal(t, domain.SessionCourseWelcomeBack, again.SessionType)
}

func TestResolveEnrollmentAloneIsStillFirstCourseVisit(t *testing.T) {
	s := newCatalog(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureEnrollment(ctx, "u1", "c1"))

	sess, err := NewResolver(s, nil).Resolve(ctx, "u1", "c1", "intro")
	require.NoError(t, err)
	assert.True(t, sess.IsFirstCourseVisit)
}

func TestResolveRegularLesson(t *testing.T) {
	s := newCatalog(t)
	r := NewResolver(s, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "u1", "c1", "intro")
	require.NoError(t, err)

	sess, err := r.Resolve(ctx, "u1", "c1", "pipelines")
	require.NoError(t, err)
	assert.False(t, sess.IsIntroLesson)
	assert.False(t, sess.IsFirstCourseVisit)
	assert.True(t, sess.IsFirstLessonVisit)
	assert.Equal(t, domain.SessionLessonWelcome, sess.SessionType)
	assert.Equal(t, 3, sess.LessonNumber)
	assert.Equal(t, "Goroutines", sess.PrevLessonTitle)

	require.NoError(t, s.UpdateLessonProgress(ctx, domain.ProgressUpdate{
		UserID: "u1", LessonID: "pipelines", LastPositionMs: 42000, CompletionPercentage: 30,
	}))
	back, err := r.Resolve(ctx, "u1", "c1", "pipelines")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionLessonWelcomeBack, back.SessionType)
	assert.Equal(t, int64(42000), back.ResumePositionMs)
}

func TestResolveErrors(t *testing.T) {
	s := newCatalog(t)
	r := NewResolver(s, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "u1", "c1", "missing")
	assert.ErrorIs(t, err, ErrLessonNotFound)

	_, err = r.Resolve(ctx, "u1", "c1", "hidden")
	assert.ErrorIs(t, err, ErrLessonNotInCourse)

	_, err = r.Resolve(ctx, "u1", "c1", "draft")
	assert.ErrorIs(t, err, ErrLessonNotInCourse, "lessons in unpublished modules are not in the ordering")

	_, err = r.Resolve(ctx, "u1", "c1", "foreign")
	assert.ErrorIs(t, err, ErrLessonNotInCourse)

	n, err := s.CountLessonProgress(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Zero(t, n, "failed resolutions must not create progress")
}

func TestAgentVariables(t *testing.T) {
	vars := AgentVariables(&domain.Session{
		SessionType:     domain.SessionLessonWelcomeBack,
		LessonNumber:    4,
		PrevLessonTitle: "Channels",
		IsIntroLesson:   false,
	})
	assert.Equal(t, "lesson_welcome_back", vars["session_type"])
	assert.Equal(t, "4", vars["lesson_number"])
	assert.Equal(t, "Channels", vars["prev_lesson_title"])
	assert.Equal(t, "false", vars["is_intro_lesson"])
}
