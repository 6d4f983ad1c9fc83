package domain

// TranscriptSegment is one chunk of streaming speech-to-text output.
type TranscriptSegment struct {
	ID                string `json:"id"`
	Text              string `json:"text"`
	IsFinal           bool   `json:"is_final"`
	IsAgentOriginated bool   `json:"is_agent_originated"`
}

// UserTranscription is a learner utterance or typed message.
type UserTranscription struct {
	Text        string      `json:"text"`
	IsFinal     bool        `json:"is_final"`
	InputType   InputType   `json:"input_type"`
	MessageType MessageType `json:"message_type,omitempty"`
}

// FAResponse is a structured formative-assessment event from the agent.
type FAResponse struct {
	QuestionNumber    *int     `json:"question_number,omitempty"`
	QuestionText      string   `json:"question_text,omitempty"`
	Options           []string `json:"options,omitempty"`
	IsMCQ             bool     `json:"is_mcq,omitempty"`
	FeedbackType      string   `json:"feedback_type,omitempty"`
	FeedbackText      string   `json:"feedback_text,omitempty"`
	IsComplete        bool     `json:"is_complete,omitempty"`
	CompletionSummary string   `json:"completion_summary,omitempty"`
}

// Feedback types reported by the agent.
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
	FeedbackPartial   = "partial"
)
