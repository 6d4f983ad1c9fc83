// Package realtime fans lesson session events out to connected UIs.
//
// Every event gets a per-session, monotonically increasing id and is kept in
// a bounded replay queue so a reconnecting client can ask for what it missed.
package realtime

import (
	"encoding/json"
	"time"
)

// UI event types.
const (
	EventSession       = "session"
	EventMessage       = "message"
	EventMessageUpdate = "message_update"
	EventTyping        = "typing"
	EventWelcome       = "welcome"
	EventOffer         = "offer"
	EventCampaign      = "campaign"
	EventQuestion      = "question"
	EventPlayer        = "player"
	EventNotice        = "notice"
)

// Event is one UI-bound event for a learner's lesson session.
type Event struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	LessonID  string          `json:"lesson_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"ts"`
	// Origin identifies the publishing instance on the shared bus.
	Origin string `json:"origin,omitempty"`
}

func sessionKey(userID, lessonID string) string {
	return userID + ":" + lessonID
}
