package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
)

// EnsureEnrollment records the enrollment if absent.
func (s *SQLiteStore) EnsureEnrollment(ctx context.Context, userID, courseID string) error {
	query := `
	INSERT INTO enrollments (user_id, course_id, created_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id, course_id) DO NOTHING`
	if _, err := s.exec(ctx, query, userID, courseID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("ensure enrollment: %w", err)
	}
	return nil
}

// CountLessonProgress counts progress rows for the user in the course.
func (s *SQLiteStore) CountLessonProgress(ctx context.Context, userID, courseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_progress WHERE user_id = ? AND course_id = ?`,
		userID, courseID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count lesson progress: %w", err)
	}
	return n, nil
}

// GetLessonProgress retrieves one progress row.
func (s *SQLiteStore) GetLessonProgress(ctx context.Context, userID, lessonID string) (*domain.LessonProgress, error) {
	return scanProgress(s.db.QueryRowContext(ctx, progressSelect+` WHERE user_id = ? AND lesson_id = ?`, userID, lessonID))
}

const progressSelect = `
	SELECT user_id, course_id, lesson_id, status, last_position_ms, completion_percentage,
	       video_ended, last_accessed_at, created_at, updated_at
	FROM lesson_progress`

func scanProgress(row *sql.Row) (*domain.LessonProgress, error) {
	var p domain.LessonProgress
	var status string
	var lastAccessed, createdAt, updatedAt int64
	err := row.Scan(
		&p.UserID, &p.CourseID, &p.LessonID, &status, &p.LastPositionMs, &p.CompletionPercentage,
		&p.VideoEnded, &lastAccessed, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lesson progress: %w", err)
	}
	p.Status = domain.ProgressStatus(status)
	p.LastAccessedAt = time.UnixMilli(lastAccessed)
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, nil
}

// TouchLessonProgress creates the row if absent, bumps last_accessed_at and
// moves not_started to in_progress.
func (s *SQLiteStore) TouchLessonProgress(ctx context.Context, userID, courseID, lessonID string, now time.Time) (*domain.LessonProgress, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ts := now.UnixMilli()
	query := `
	INSERT INTO lesson_progress (user_id, lesson_id, course_id, status, last_accessed_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, lesson_id) DO UPDATE SET
		last_accessed_at = excluded.last_accessed_at,
		updated_at = excluded.updated_at,
		status = CASE WHEN lesson_progress.status = ? THEN ? ELSE lesson_progress.status END`
	_, err := s.exec(ctx, query,
		userID, lessonID, courseID, string(domain.ProgressInProgress), ts, ts, ts,
		string(domain.ProgressNotStarted), string(domain.ProgressInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("touch lesson progress: %w", err)
	}
	return s.GetLessonProgress(ctx, userID, lessonID)
}

// UpdateLessonProgress applies a watch-progress report. Completion never
// moves backwards and an ended video marks the lesson completed.
func (s *SQLiteStore) UpdateLessonProgress(ctx context.Context, update domain.ProgressUpdate) error {
	query := `
	UPDATE lesson_progress SET
		last_position_ms = ?,
		completion_percentage = MAX(completion_percentage, ?),
		video_ended = MAX(video_ended, ?),
		status = CASE WHEN ? THEN ? ELSE status END,
		updated_at = ?
	WHERE user_id = ? AND lesson_id = ?`
	result, err := s.exec(ctx, query,
		update.LastPositionMs, update.CompletionPercentage, update.VideoEnded,
		update.VideoEnded, string(domain.ProgressCompleted),
		time.Now().UnixMilli(), update.UserID, update.LessonID,
	)
	if err != nil {
		return fmt.Errorf("update lesson progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lesson progress not found for user %s lesson %s", update.UserID, update.LessonID)
	}
	return nil
}
