package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/lessonloop/internal/domain"
)

// UpsertCourse creates or updates a course.
func (s *SQLiteStore) UpsertCourse(ctx context.Context, course *domain.Course) error {
	query := `
	INSERT INTO courses (course_id, title) VALUES (?, ?)
	ON CONFLICT(course_id) DO UPDATE SET title = excluded.title`
	if _, err := s.exec(ctx, query, course.ID, course.Title); err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

// UpsertModule creates or updates a module.
func (s *SQLiteStore) UpsertModule(ctx context.Context, module *domain.Module) error {
	query := `
	INSERT INTO modules (module_id, course_id, title, order_index, published)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(module_id) DO UPDATE SET
		course_id = excluded.course_id,
		title = excluded.title,
		order_index = excluded.order_index,
		published = excluded.published`
	_, err := s.exec(ctx, query, module.ID, module.CourseID, module.Title, module.OrderIndex, module.Published)
	if err != nil {
		return fmt.Errorf("upsert module: %w", err)
	}
	return nil
}

// UpsertLesson creates or updates a lesson.
func (s *SQLiteStore) UpsertLesson(ctx context.Context, lesson *domain.Lesson) error {
	query := `
	INSERT INTO lessons (lesson_id, module_id, title, order_index, published, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(lesson_id) DO UPDATE SET
		module_id = excluded.module_id,
		title = excluded.title,
		order_index = excluded.order_index,
		published = excluded.published,
		duration_ms = excluded.duration_ms`
	_, err := s.exec(ctx, query,
		lesson.ID, lesson.ModuleID, lesson.Title, lesson.OrderIndex, lesson.Published, lesson.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("upsert lesson: %w", err)
	}
	return nil
}

// GetCourse retrieves a course by ID.
func (s *SQLiteStore) GetCourse(ctx context.Context, courseID string) (*domain.Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT course_id, title FROM courses WHERE course_id = ?`, courseID)
	var c domain.Course
	err := row.Scan(&c.ID, &c.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan course row: %w", err)
	}
	return &c, nil
}

// GetLesson retrieves a lesson and its owning course ID.
func (s *SQLiteStore) GetLesson(ctx context.Context, lessonID string) (*domain.Lesson, error) {
	query := `
		SELECT l.lesson_id, l.module_id, m.course_id, l.title, l.order_index, l.published, l.duration_ms
		FROM lessons l JOIN modules m ON m.module_id = l.module_id
		WHERE l.lesson_id = ?`
	row := s.db.QueryRowContext(ctx, query, lessonID)

	var l domain.Lesson
	err := row.Scan(&l.ID, &l.ModuleID, &l.CourseID, &l.Title, &l.OrderIndex, &l.Published, &l.DurationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lesson row: %w", err)
	}
	return &l, nil
}

// ListPublishedLessons returns the published course ordering.
func (s *SQLiteStore) ListPublishedLessons(ctx context.Context, courseID string) ([]domain.LessonRef, error) {
	query := `
		SELECT l.lesson_id, l.title, m.module_id, m.order_index, l.order_index
		FROM lessons l JOIN modules m ON m.module_id = l.module_id
		WHERE m.course_id = ? AND m.published = 1 AND l.published = 1
		ORDER BY m.order_index ASC, l.order_index ASC`

	rows, err := s.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query published lessons: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close published lessons rows", "error", closeErr)
		}
	}()

	var refs []domain.LessonRef
	for rows.Next() {
		var ref domain.LessonRef
		if err := rows.Scan(&ref.LessonID, &ref.Title, &ref.ModuleID, &ref.ModuleOrderIndex, &ref.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan published lesson row: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published lessons: %w", err)
	}
	return refs, nil
}

// FirstPublishedModule returns the lowest-ordered published module.
func (s *SQLiteStore) FirstPublishedModule(ctx context.Context, courseID string) (*domain.Module, error) {
	query := `
		SELECT module_id, course_id, title, order_index, published
		FROM modules WHERE course_id = ? AND published = 1
		ORDER BY order_index ASC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, courseID)

	var m domain.Module
	err := row.Scan(&m.ID, &m.CourseID, &m.Title, &m.OrderIndex, &m.Published)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan module row: %w", err)
	}
	return &m, nil
}
