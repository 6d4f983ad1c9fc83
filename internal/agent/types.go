// Package agent connects lesson sessions to the remote conversational agent.
package agent

import (
	"github.com/ashureev/lessonloop/internal/domain"
)

// EventKind classifies an inbound agent event.
type EventKind string

const (
	// EventAgentTranscript carries a segment of the agent's speech.
	EventAgentTranscript EventKind = "agent_transcript"
	// EventUserTranscript carries the agent's recognition of learner speech.
	EventUserTranscript EventKind = "user_transcript"
	// EventFAResponse carries a structured formative-assessment update.
	EventFAResponse EventKind = "fa_response"
	// EventIntroComplete signals the agent finished introducing a topic.
	EventIntroComplete EventKind = "fa_intro_complete"
	// EventError is an agent-side error for the conversation.
	EventError EventKind = "error"
)

// Event is one message on the agent's conversation stream.
type Event struct {
	Kind      EventKind
	Segment   domain.TranscriptSegment
	User      domain.UserTranscription
	FA        domain.FAResponse
	Topic     string
	IntroText string
	Error     string
}

// SubscribeRequest opens the agent conversation for a lesson visit.
type SubscribeRequest struct {
	UserID    string
	SessionID string
	LessonID  string
	// Variables select the agent's welcome script.
	Variables map[string]string
}

// AssessmentRequest asks the agent to run a formative check on a topic.
type AssessmentRequest struct {
	SessionID string
	TriggerID string
	Topic     string
}

// Stats contains client statistics.
type Stats struct {
	Subscriptions int64 `json:"subscriptions"`
	SentTexts     int64 `json:"sent_texts"`
	Reconnects    int64 `json:"reconnects"`
}
