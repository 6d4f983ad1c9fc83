package quiz

import (
	"github.com/ashureev/lessonloop/internal/domain"
)

// Output is an event emitted by the Engine. The owner of the engine turns
// outputs into UI updates and side effects; the engine never performs I/O.
type Output interface {
	quizOutput()
}

// CampaignStarted announces a new active campaign.
type CampaignStarted struct {
	CampaignID string
	Type       domain.AssessmentType
	TriggerID  string
	Total      int
}

// QuestionPresented makes a question the current pending one.
type QuestionPresented struct {
	CampaignID string
	Type       domain.AssessmentType
	Question   domain.Question
	Index      int
}

// QuestionResolved reports a question's new state after an answer, a skip,
// or a late evaluation.
type QuestionResolved struct {
	CampaignID string
	Type       domain.AssessmentType
	Question   domain.Question
}

// EvaluationRequested asks the owner to grade a free-text answer remotely.
type EvaluationRequested struct {
	CampaignID string
	Request    domain.EvaluationRequest
}

// AttemptRecorded asks the owner to persist an attempt. Upsert is set for
// agent-hosted campaigns.
type AttemptRecorded struct {
	Attempt domain.Attempt
	Upsert  bool
}

// ForwardToAgent carries a formative answer or skip to the agent.
type ForwardToAgent struct {
	CampaignID string
	QuestionID string
	Text       string
	Skipped    bool
}

// CampaignCompleted is emitted once when the last question resolves or the
// agent reports completion.
type CampaignCompleted struct {
	CampaignID string
	Type       domain.AssessmentType
	TriggerID  string
	Stats      Stats
	Summary    string
}

// CampaignCancelled is emitted when the learner abandons the campaign.
type CampaignCancelled struct {
	CampaignID string
	Type       domain.AssessmentType
	TriggerID  string
}

func (CampaignStarted) quizOutput()     {}
func (QuestionPresented) quizOutput()   {}
func (QuestionResolved) quizOutput()    {}
func (EvaluationRequested) quizOutput() {}
func (AttemptRecorded) quizOutput()     {}
func (ForwardToAgent) quizOutput()      {}
func (CampaignCompleted) quizOutput()   {}
func (CampaignCancelled) quizOutput()   {}
