package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
)

// InsertAttempt appends an attempt row.
func (s *SQLiteStore) InsertAttempt(ctx context.Context, a domain.Attempt) error {
	now := time.Now().UnixMilli()
	query := `
	INSERT INTO attempts (user_id, lesson_id, assessment_type, question_id, answer, is_correct, is_skipped, feedback, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query,
		a.UserID, a.LessonID, string(a.AssessmentType), a.QuestionID, a.Answer,
		nullableBool(a.IsCorrect), a.IsSkipped, a.Feedback, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// UpsertAttempt writes an agent-hosted attempt keyed by (user_id, question_id).
func (s *SQLiteStore) UpsertAttempt(ctx context.Context, a domain.Attempt) error {
	if a.AssessmentType != domain.AssessmentFormative {
		return fmt.Errorf("upsert attempt: assessment type %q is insert-only", a.AssessmentType)
	}
	now := time.Now().UnixMilli()
	query := `
	INSERT INTO attempts (user_id, lesson_id, assessment_type, question_id, answer, is_correct, is_skipped, feedback, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, question_id) WHERE assessment_type = 'formative' DO UPDATE SET
		answer = CASE WHEN excluded.answer <> '' THEN excluded.answer ELSE attempts.answer END,
		is_correct = COALESCE(excluded.is_correct, attempts.is_correct),
		is_skipped = excluded.is_skipped,
		feedback = CASE WHEN excluded.feedback <> '' THEN excluded.feedback ELSE attempts.feedback END,
		updated_at = excluded.updated_at`
	_, err := s.exec(ctx, query,
		a.UserID, a.LessonID, string(a.AssessmentType), a.QuestionID, a.Answer,
		nullableBool(a.IsCorrect), a.IsSkipped, a.Feedback, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// ListAttempts returns a learner's attempts for a lesson in write order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, userID, lessonID string) ([]domain.Attempt, error) {
	query := `
		SELECT user_id, lesson_id, assessment_type, question_id, answer, is_correct, is_skipped, feedback
		FROM attempts WHERE user_id = ? AND lesson_id = ? ORDER BY attempt_id ASC`
	rows, err := s.db.QueryContext(ctx, query, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close attempt rows", "error", closeErr)
		}
	}()

	var out []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var assessmentType string
		var isCorrect sql.NullBool
		if err := rows.Scan(&a.UserID, &a.LessonID, &assessmentType, &a.QuestionID, &a.Answer, &isCorrect, &a.IsSkipped, &a.Feedback); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a.AssessmentType = domain.AssessmentType(assessmentType)
		a.IsCorrect = boolPtr(isCorrect)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}
