package orchestrator

import (
	"time"

	"github.com/ashureev/lessonloop/internal/agent"
	"github.com/ashureev/lessonloop/internal/domain"
)

// Event is an input to a lesson's event loop. UI events are posted by the
// transport; completion events are posted by the loop's own side effects.
type Event interface {
	lessonEvent()
}

// PlayerStarted reports the player's first start.
type PlayerStarted struct{}

// PlayerStateChanged reports a player state transition.
type PlayerStateChanged struct {
	State domain.PlayerState
}

// PlayerTimeUpdate is a timeline tick.
type PlayerTimeUpdate struct {
	PositionMs int64
}

// PlayerDuration reports the duration resolved by the player.
type PlayerDuration struct {
	DurationMs int64
}

// SubmitAnswer answers the current question.
type SubmitAnswer struct {
	QuestionID string
	Answer     string
}

// SkipQuestion skips the current question.
type SkipQuestion struct {
	QuestionID string
}

// CancelCampaign abandons the active campaign.
type CancelCampaign struct{}

// StartWarmup starts the lesson's warmup questions.
type StartWarmup struct{}

// ChooseOffer answers an action offer.
type ChooseOffer struct {
	AnchorMessageID string
	Choice          string
}

// SendText is typed learner chat.
type SendText struct {
	Text string
}

// Reconcile re-submits failed message writes.
type Reconcile struct{}

type agentEvent struct {
	ev *agent.Event
}

type agentLost struct {
	attempt int
	err     error
}

type persistResult struct {
	localID string
	stored  *domain.Message
	err     error
}

type evaluationResult struct {
	campaignID string
	questionID string
	eval       domain.Evaluation
	err        error
	elapsed    time.Duration
}

// triggerFailed reports that a trigger's campaign could not be started on
// the agent side. campaignID is set when a local campaign must be unwound.
type triggerFailed struct {
	triggerID  string
	campaignID string
	err        error
}

type agentSendFailed struct {
	err error
}

type snapshotRequest struct {
	reply chan Snapshot
}

type barrier struct {
	done chan struct{}
}

// effectDone wraps a side effect's completion. The effect stays in flight
// until the loop has handled ev.
type effectDone struct {
	ev Event
}

func (PlayerStarted) lessonEvent()      {}
func (PlayerStateChanged) lessonEvent() {}
func (PlayerTimeUpdate) lessonEvent()   {}
func (PlayerDuration) lessonEvent()     {}
func (SubmitAnswer) lessonEvent()       {}
func (SkipQuestion) lessonEvent()       {}
func (CancelCampaign) lessonEvent()     {}
func (StartWarmup) lessonEvent()        {}
func (ChooseOffer) lessonEvent()        {}
func (SendText) lessonEvent()           {}
func (Reconcile) lessonEvent()          {}
func (agentEvent) lessonEvent()         {}
func (agentLost) lessonEvent()          {}
func (persistResult) lessonEvent()      {}
func (evaluationResult) lessonEvent()   {}
func (triggerFailed) lessonEvent()      {}
func (agentSendFailed) lessonEvent()    {}
func (snapshotRequest) lessonEvent()    {}
func (barrier) lessonEvent()            {}
func (effectDone) lessonEvent()         {}
