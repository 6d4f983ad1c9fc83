// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
)

// Repository defines the interface for persisting learners, course structure,
// progress, conversations and attempts.
//
// Lookups return (nil, nil) when the record does not exist.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	CatalogStore
	ProgressStore
	MessageStore
	AttemptStore
}

// CatalogStore reads and writes course structure.
type CatalogStore interface {
	UpsertCourse(ctx context.Context, course *domain.Course) error
	UpsertModule(ctx context.Context, module *domain.Module) error
	UpsertLesson(ctx context.Context, lesson *domain.Lesson) error
	GetCourse(ctx context.Context, courseID string) (*domain.Course, error)
	GetLesson(ctx context.Context, lessonID string) (*domain.Lesson, error)

	// ListPublishedLessons returns the published lessons of a course ordered by
	// module order index, then lesson order index.
	ListPublishedLessons(ctx context.Context, courseID string) ([]domain.LessonRef, error)

	// FirstPublishedModule returns the published module with the lowest order index.
	FirstPublishedModule(ctx context.Context, courseID string) (*domain.Module, error)
}

// ProgressStore tracks enrollment and lesson progress.
type ProgressStore interface {
	EnsureEnrollment(ctx context.Context, userID, courseID string) error

	// CountLessonProgress counts progress rows for the user across the course.
	CountLessonProgress(ctx context.Context, userID, courseID string) (int, error)

	GetLessonProgress(ctx context.Context, userID, lessonID string) (*domain.LessonProgress, error)

	// TouchLessonProgress creates the progress row if absent, sets
	// last_accessed_at and flips not_started to in_progress.
	TouchLessonProgress(ctx context.Context, userID, courseID, lessonID string, now time.Time) (*domain.LessonProgress, error)

	UpdateLessonProgress(ctx context.Context, update domain.ProgressUpdate) error
}

// MessageStore persists conversations and their append-only messages.
type MessageStore interface {
	GetOrCreateConversation(ctx context.Context, userID, lessonID string) (*domain.Conversation, error)

	// CreateMessage stores a message. It is idempotent on (conversation_id, seq):
	// a repeated write returns the row stored first.
	CreateMessage(ctx context.Context, msg domain.Message) (*domain.Message, error)

	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	MaxMessageSeq(ctx context.Context, conversationID string) (int64, error)
}

// AttemptStore records quiz attempts.
type AttemptStore interface {
	// InsertAttempt appends an attempt (warmup and in-lesson campaigns).
	InsertAttempt(ctx context.Context, attempt domain.Attempt) error

	// UpsertAttempt writes an attempt keyed by (user_id, question_id)
	// (agent-hosted campaigns).
	UpsertAttempt(ctx context.Context, attempt domain.Attempt) error

	ListAttempts(ctx context.Context, userID, lessonID string) ([]domain.Attempt, error)
}
