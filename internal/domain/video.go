package domain

// Bookmark marks a formative-assessment point on the video timeline.
type Bookmark struct {
	ID        string `json:"id" yaml:"id"`
	OffsetMs  int64  `json:"offset_ms" yaml:"offset_ms"`
	Topic     string `json:"topic" yaml:"topic"`
	Triggered bool   `json:"triggered" yaml:"-"`
}

// InLessonTrigger marks a local question set on the video timeline.
type InLessonTrigger struct {
	ID        string     `json:"id" yaml:"id"`
	OffsetMs  int64      `json:"offset_ms" yaml:"offset_ms"`
	Questions []Question `json:"questions" yaml:"questions"`
	Triggered bool       `json:"triggered" yaml:"-"`
}

// PlayerState mirrors the embedded player's state machine.
type PlayerState string

const (
	PlayerUnstarted PlayerState = "unstarted"
	PlayerPlaying   PlayerState = "playing"
	PlayerPaused    PlayerState = "paused"
	PlayerEnded     PlayerState = "ended"
	PlayerBuffering PlayerState = "buffering"
	PlayerCued      PlayerState = "cued"
)

// PlayerCommand is an instruction for the player widget.
type PlayerCommand struct {
	Action string `json:"action"`
	SeekMs int64  `json:"seek_ms,omitempty"`
}

// Player command actions.
const (
	PlayerPause = "pause"
	PlayerPlay  = "play"
	PlayerSeek  = "seek"
)
