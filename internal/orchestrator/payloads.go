package orchestrator

import (
	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/quiz"
)

// MessagePayload is a chat message as the UI sees it. ID is the local id
// until storage confirms the write and the remote id afterwards.
type MessagePayload struct {
	ID       string         `json:"id"`
	LocalID  string         `json:"local_id"`
	RemoteID string         `json:"remote_id,omitempty"`
	State    string         `json:"state"`
	Message  domain.Message `json:"message"`
}

func messagePayload(ref *domain.MessageRef) MessagePayload {
	return MessagePayload{
		ID:       ref.ID(),
		LocalID:  ref.LocalID,
		RemoteID: ref.RemoteID,
		State:    ref.State.String(),
		Message:  ref.Message,
	}
}

// TypingPayload renders a live, not yet final, utterance.
type TypingPayload struct {
	SegmentID string      `json:"segment_id,omitempty"`
	Role      domain.Role `json:"role"`
	Text      string      `json:"text"`
}

// WelcomePayload is a transient welcome-back greeting.
type WelcomePayload struct {
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	First     bool   `json:"first"`
}

// OfferPayload shows or dismisses an action offer.
type OfferPayload struct {
	Offer     *domain.ActionOffer `json:"offer,omitempty"`
	Dismissed bool                `json:"dismissed,omitempty"`
	Choice    string              `json:"choice,omitempty"`
}

// Campaign statuses.
const (
	CampaignStatusStarted   = "started"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
)

// CampaignPayload reports a campaign lifecycle change.
type CampaignPayload struct {
	CampaignID string                `json:"campaign_id"`
	Type       domain.AssessmentType `json:"type"`
	TriggerID  string                `json:"trigger_id,omitempty"`
	Status     string                `json:"status"`
	Total      int                   `json:"total,omitempty"`
	Stats      *quiz.Stats           `json:"stats,omitempty"`
	Summary    string                `json:"summary,omitempty"`
	Tier       quiz.Tier             `json:"tier,omitempty"`
}

// QuestionPayload shows a presented or resolved question.
type QuestionPayload struct {
	CampaignID string                `json:"campaign_id"`
	Type       domain.AssessmentType `json:"type"`
	Status     string                `json:"status"`
	Index      int                   `json:"index"`
	Question   domain.Question       `json:"question"`
}

// NoticePayload is a toast-style notice.
type NoticePayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Snapshot is the full UI state of a lesson visit.
type Snapshot struct {
	Session         domain.Session      `json:"session"`
	Messages        []MessagePayload    `json:"messages"`
	Campaign        *CampaignPayload    `json:"campaign,omitempty"`
	Question        *domain.Question    `json:"question,omitempty"`
	Offer           *domain.ActionOffer `json:"offer,omitempty"`
	WarmupAvailable bool                `json:"warmup_available"`
	Bookmarks       []domain.Bookmark   `json:"bookmarks"`
	PositionMs      int64               `json:"position_ms"`
	AgentConnected  bool                `json:"agent_connected"`
}
