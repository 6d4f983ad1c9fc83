package transcript

import (
	"github.com/ashureev/lessonloop/internal/domain"
)

// Output is an event emitted by the Synchronizer.
type Output interface {
	transcriptOutput()
}

// PersistMessage is a new message in Pending state, to be stored in Seq order.
type PersistMessage struct {
	Ref domain.MessageRef
}

// TypingUpdate renders live, unpersisted text.
type TypingUpdate struct {
	SegmentID string
	Role      domain.Role
	Text      string
}

// TransientWelcome is a greeting shown to returning learners but never stored.
type TransientWelcome struct {
	SegmentID string
	Text      string
	// First is set for the segment that captured the welcome.
	First bool
}

// OfferAction asks the UI to render buttons anchored to a message.
type OfferAction struct {
	Offer domain.ActionOffer
}

// FASignalKind identifies a formative-assessment signal.
type FASignalKind int

const (
	FAQuestion FASignalKind = iota
	FAFeedback
	FAComplete
)

// FASignal forwards a structured agent event to the quiz engine.
type FASignal struct {
	Kind     FASignalKind
	Response domain.FAResponse
}

func (PersistMessage) transcriptOutput()   {}
func (TypingUpdate) transcriptOutput()     {}
func (TransientWelcome) transcriptOutput() {}
func (OfferAction) transcriptOutput()      {}
func (FASignal) transcriptOutput()         {}
