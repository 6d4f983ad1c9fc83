package domain

import (
	"time"
)

// Role identifies the author of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType classifies a message for display and reply tagging.
type MessageType string

const (
	MessageGeneral    MessageType = "general"
	MessageFAIntro    MessageType = "fa-intro"
	MessageFAQuestion MessageType = "fa-question"
	MessageFAAnswer   MessageType = "fa-answer"
	MessageFAFeedback MessageType = "fa-feedback"
	MessageFAComplete MessageType = "fa-complete"
	MessageWarmup     MessageType = "warmup"
)

// InputType records how a user message was produced.
type InputType string

const (
	InputText  InputType = "text"
	InputVoice InputType = "voice"
)

// Conversation is the message thread for one learner in one lesson.
type Conversation struct {
	ID        string
	UserID    string
	LessonID  string
	CreatedAt time.Time
}

// Message is a persisted chat message. Messages are append-only and
// ordered by Seq within a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Seq            int64       `json:"seq"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type"`
	InputType      InputType   `json:"input_type,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// PersistState tracks whether a locally created message has been stored.
type PersistState int

const (
	// Pending messages carry only a local id.
	Pending PersistState = iota
	// Persisted messages carry the storage-assigned id.
	Persisted
	// Failed messages await a reconciliation pass.
	Failed
)

func (s PersistState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Persisted:
		return "persisted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MessageRef is a message in the local log, addressed by its local id until
// storage confirms it and by its remote id afterwards.
type MessageRef struct {
	LocalID  string       `json:"local_id"`
	RemoteID string       `json:"remote_id,omitempty"`
	State    PersistState `json:"-"`
	Message  Message      `json:"message"`
}

// ID returns the identity currently visible to the UI.
func (r *MessageRef) ID() string {
	if r.State == Persisted && r.RemoteID != "" {
		return r.RemoteID
	}
	return r.LocalID
}

// ActionOffer is a UI prompt rendered as buttons next to a message.
type ActionOffer struct {
	Type            string         `json:"type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	AnchorMessageID string         `json:"anchor_message_id"`
}

// Action offer types and choices.
const (
	OfferFAIntro = "fa_intro"

	ChoiceStartCheck = "start"
	ChoiceSkipCheck  = "skip"
)
