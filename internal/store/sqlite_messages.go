package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/google/uuid"
)

// GetOrCreateConversation returns the learner's conversation for a lesson.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, userID, lessonID string) (*domain.Conversation, error) {
	insert := `
	INSERT INTO conversations (conversation_id, user_id, lesson_id, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, lesson_id) DO NOTHING`
	if _, err := s.exec(ctx, insert, uuid.NewString(), userID, lessonID, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, lesson_id, created_at FROM conversations WHERE user_id = ? AND lesson_id = ?`,
		userID, lessonID,
	)
	var c domain.Conversation
	var createdAt int64
	if err := row.Scan(&c.ID, &c.UserID, &c.LessonID, &createdAt); err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	return &c, nil
}

// CreateMessage stores a message, assigning its persistent id.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	insert := `
	INSERT INTO messages (message_id, conversation_id, seq, role, content, message_type, input_type, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, seq) DO NOTHING`
	_, err := s.exec(ctx, insert,
		uuid.NewString(), msg.ConversationID, msg.Seq, string(msg.Role), msg.Content,
		string(msg.MessageType), string(msg.InputType), msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	row := s.db.QueryRowContext(ctx, messageSelect+` WHERE conversation_id = ? AND seq = ?`, msg.ConversationID, msg.Seq)
	stored, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s/%d missing after insert", msg.ConversationID, msg.Seq)
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

const messageSelect = `
	SELECT message_id, conversation_id, seq, role, content, message_type, input_type, created_at
	FROM messages`

func scanMessage(scan func(dest ...any) error) (*domain.Message, error) {
	var m domain.Message
	var role, messageType, inputType string
	var createdAt int64
	if err := scan(&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &messageType, &inputType, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Role = domain.Role(role)
	m.MessageType = domain.MessageType(messageType)
	m.InputType = domain.InputType(inputType)
	m.CreatedAt = time.UnixMilli(createdAt)
	return &m, nil
}

// ListMessages returns a conversation's messages in sequence order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+` WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// MaxMessageSeq returns the highest stored sequence number, or 0.
func (s *SQLiteStore) MaxMessageSeq(ctx context.Context, conversationID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max message seq: %w", err)
	}
	return seq, nil
}
