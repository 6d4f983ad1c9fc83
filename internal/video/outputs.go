package video

import "github.com/ashureev/lessonloop/internal/domain"

// Output is an event emitted by the Engine.
type Output interface {
	videoOutput()
}

// PausePlayer asks the player to pause.
type PausePlayer struct{}

// ResumePlayer asks the player to play after a trigger's campaign.
type ResumePlayer struct {
	TriggerID string
	// Recovered is set when the resume follows a failed trigger.
	Recovered bool
}

// SeekPlayer asks the player to jump to a position.
type SeekPlayer struct {
	PositionMs int64
}

// RequestFormativeStart asks the owner to start an agent-hosted check.
type RequestFormativeStart struct {
	Bookmark domain.Bookmark
}

// RequestInLessonStart asks the owner to start a local in-lesson campaign.
type RequestInLessonStart struct {
	Trigger domain.InLessonTrigger
}

// ProgressReport carries a watch-progress update for storage.
type ProgressReport struct {
	Update domain.ProgressUpdate
}

func (PausePlayer) videoOutput()           {}
func (ResumePlayer) videoOutput()          {}
func (SeekPlayer) videoOutput()            {}
func (RequestFormativeStart) videoOutput() {}
func (RequestInLessonStart) videoOutput()  {}
func (ProgressReport) videoOutput()        {}
