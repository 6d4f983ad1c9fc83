// Package quiz drives a single active quiz campaign through its questions.
//
// Warmup and in-lesson multiple-choice questions are graded locally; free
// text answers are marked answered optimistically and graded remotely.
// Formative campaigns are hosted by the agent: the engine only forwards
// answers and appends the questions, feedback and completion the agent sends.
//
// An Engine is not safe for concurrent use. It is owned by one event loop.
package quiz

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrCampaignActive is returned when a campaign is started while another
	// is still active.
	ErrCampaignActive = errors.New("a quiz campaign is already active")

	// ErrNoActiveCampaign is returned by agent-hosted updates that arrive
	// with no formative campaign running.
	ErrNoActiveCampaign = errors.New("no active quiz campaign")

	// ErrNoQuestions is returned when a local campaign has nothing to ask.
	ErrNoQuestions = errors.New("campaign has no questions")
)

// Feedback templates for locally graded questions.
const (
	correctFeedback   = "Great job! That's correct."
	incorrectFeedback = "Not quite right. The correct answer is %s."

	skipAgentText = "I'd like to skip this question."
)

// Stats tallies question outcomes within a campaign.
type Stats struct {
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
	Skipped   int `json:"skipped"`
	// Ungraded counts answers whose evaluation had not arrived.
	Ungraded int `json:"ungraded"`
}

// Total is the number of resolved questions.
func (s Stats) Total() int {
	return s.Correct + s.Incorrect + s.Skipped + s.Ungraded
}

// Campaign is one run of a quiz type through its question list.
type Campaign struct {
	ID           string
	Type         domain.AssessmentType
	TriggerID    string
	Questions    []domain.Question
	CurrentIndex int
}

func (c *Campaign) current() *domain.Question {
	if c.CurrentIndex < 0 || c.CurrentIndex >= len(c.Questions) {
		return nil
	}
	q := &c.Questions[c.CurrentIndex]
	if q.Status != domain.QuestionPending {
		return nil
	}
	return q
}

func (c *Campaign) find(questionID string) *domain.Question {
	for i := range c.Questions {
		if c.Questions[i].ID == questionID {
			return &c.Questions[i]
		}
	}
	return nil
}

func (c *Campaign) stats() Stats {
	var s Stats
	for _, q := range c.Questions {
		switch {
		case q.Status == domain.QuestionSkipped:
			s.Skipped++
		case q.Status != domain.QuestionAnswered:
		case q.IsCorrect == nil:
			s.Ungraded++
		case *q.IsCorrect:
			s.Correct++
		default:
			s.Incorrect++
		}
	}
	return s
}

// pendingKey scopes an outstanding grade to its campaign, since question
// ids repeat when a campaign is re-run.
type pendingKey struct {
	campaignID string
	questionID string
}

// Engine owns the active campaign and every question's mutable state.
type Engine struct {
	userID   string
	lessonID string
	active   *Campaign
	pending  map[pendingKey]*Campaign
	newID    func() string
	logger   *slog.Logger
}

// NewEngine creates an engine for one learner in one lesson.
func NewEngine(userID, lessonID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		userID:   userID,
		lessonID: lessonID,
		pending:  make(map[pendingKey]*Campaign),
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// Active returns a copy of the active campaign, or nil.
func (e *Engine) Active() *Campaign {
	if e.active == nil {
		return nil
	}
	c := *e.active
	c.Questions = make([]domain.Question, len(e.active.Questions))
	copy(c.Questions, e.active.Questions)
	return &c
}

// CurrentQuestion returns a copy of the pending question, if any.
func (e *Engine) CurrentQuestion() (domain.Question, bool) {
	if e.active == nil {
		return domain.Question{}, false
	}
	q := e.active.current()
	if q == nil {
		return domain.Question{}, false
	}
	return *q, true
}

// Start begins a campaign. Formative campaigns start empty and are filled by
// ApplyAgentQuestion. A start while a campaign is active is rejected and the
// active campaign is left untouched.
func (e *Engine) Start(typ domain.AssessmentType, questions []domain.Question, triggerID string) ([]Output, error) {
	if e.active != nil {
		return nil, ErrCampaignActive
	}
	if !typ.IsAgentHosted() && len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	c := &Campaign{ID: e.newID(), Type: typ, TriggerID: triggerID}
	for _, q := range questions {
		c.Questions = append(c.Questions, q.Clone())
	}
	e.active = c

	e.logger.Info("[QUIZ] campaign started",
		"campaign_id", c.ID, "type", typ, "trigger_id", triggerID, "questions", len(c.Questions))

	out := []Output{CampaignStarted{CampaignID: c.ID, Type: typ, TriggerID: triggerID, Total: len(c.Questions)}}
	if len(c.Questions) > 0 {
		out = append(out, e.present(c))
	}
	return out, nil
}

func (e *Engine) present(c *Campaign) Output {
	return QuestionPresented{
		CampaignID: c.ID,
		Type:       c.Type,
		Question:   c.Questions[c.CurrentIndex],
		Index:      c.CurrentIndex,
	}
}

// currentFor returns the pending question if it matches questionID, logging
// a warning otherwise.
func (e *Engine) currentFor(questionID, op string) *domain.Question {
	if e.active == nil {
		e.logger.Warn("[QUIZ] "+op+" with no active campaign", "question_id", questionID)
		return nil
	}
	q := e.active.current()
	if q == nil || q.ID != questionID {
		current := ""
		if q != nil {
			current = q.ID
		}
		e.logger.Warn("[QUIZ] "+op+" for a question that is not pending",
			"campaign_id", e.active.ID, "question_id", questionID, "current_question_id", current)
		return nil
	}
	return q
}

// SubmitAnswer answers the current pending question. Any other question id
// is a no-op.
func (e *Engine) SubmitAnswer(questionID, answer string) []Output {
	q := e.currentFor(questionID, "answer")
	if q == nil {
		return nil
	}
	c := e.active
	answer = strings.TrimSpace(answer)
	q.UserAnswer = answer
	q.Status = domain.QuestionAnswered

	if c.Type.IsAgentHosted() {
		return []Output{
			ForwardToAgent{CampaignID: c.ID, QuestionID: q.ID, Text: answer},
			QuestionResolved{CampaignID: c.ID, Type: c.Type, Question: *q},
			AttemptRecorded{Attempt: e.attempt(c, q), Upsert: true},
		}
	}

	var out []Output
	if q.LocallyEvaluable() {
		correct := answer == q.CorrectOption
		q.IsCorrect = &correct
		switch {
		case q.CustomFeedback != "":
			q.Feedback = q.CustomFeedback
		case correct:
			q.Feedback = correctFeedback
		default:
			q.Feedback = fmt.Sprintf(incorrectFeedback, q.CorrectOption)
		}
		out = append(out,
			QuestionResolved{CampaignID: c.ID, Type: c.Type, Question: *q},
			AttemptRecorded{Attempt: e.attempt(c, q)},
		)
	} else {
		e.pending[pendingKey{c.ID, q.ID}] = c
		out = append(out,
			QuestionResolved{CampaignID: c.ID, Type: c.Type, Question: *q},
			EvaluationRequested{CampaignID: c.ID, Request: domain.EvaluationRequest{
				QuestionID:   q.ID,
				QuestionText: q.Text,
				Answer:       answer,
			}},
		)
	}
	return append(out, e.advance()...)
}

// Skip skips the current pending question. Any other question id is a no-op.
func (e *Engine) Skip(questionID string) []Output {
	q := e.currentFor(questionID, "skip")
	if q == nil {
		return nil
	}
	c := e.active
	q.Status = domain.QuestionSkipped

	out := []Output{
		QuestionResolved{CampaignID: c.ID, Type: c.Type, Question: *q},
		AttemptRecorded{Attempt: e.attempt(c, q), Upsert: c.Type.IsAgentHosted()},
	}
	if c.Type.IsAgentHosted() {
		return append([]Output{ForwardToAgent{CampaignID: c.ID, QuestionID: q.ID, Text: skipAgentText, Skipped: true}}, out...)
	}
	return append(out, e.advance()...)
}

// advance moves a local campaign to the next question or completes it.
func (e *Engine) advance() []Output {
	c := e.active
	if c.CurrentIndex+1 < len(c.Questions) {
		c.CurrentIndex++
		return []Output{e.present(c)}
	}
	return []Output{e.complete("")}
}

func (e *Engine) complete(summary string) Output {
	c := e.active
	e.active = nil
	stats := c.stats()
	e.logger.Info("[QUIZ] campaign completed",
		"campaign_id", c.ID, "type", c.Type,
		"correct", stats.Correct, "incorrect", stats.Incorrect, "skipped", stats.Skipped)
	return CampaignCompleted{
		CampaignID: c.ID,
		Type:       c.Type,
		TriggerID:  c.TriggerID,
		Stats:      stats,
		Summary:    summary,
	}
}

// HandleRemoteEvaluation fills in a free-text grade. Results are matched by
// campaign and question id and still apply after the campaign has ended.
func (e *Engine) HandleRemoteEvaluation(campaignID string, ev domain.Evaluation) []Output {
	key := pendingKey{campaignID, ev.QuestionID}
	c, ok := e.pending[key]
	if !ok {
		e.logger.Warn("[QUIZ] evaluation for unknown question",
			"campaign_id", campaignID, "question_id", ev.QuestionID)
		return nil
	}
	delete(e.pending, key)

	q := c.find(ev.QuestionID)
	if q == nil {
		return nil
	}
	correct := ev.IsCorrect
	q.IsCorrect = &correct
	q.Feedback = ev.Feedback
	return []Output{
		QuestionResolved{CampaignID: c.ID, Type: c.Type, Question: *q},
		AttemptRecorded{Attempt: e.attempt(c, q)},
	}
}

// HandleEvaluationFailure records a free-text answer as ungraded.
func (e *Engine) HandleEvaluationFailure(campaignID, questionID string, err error) []Output {
	key := pendingKey{campaignID, questionID}
	c, ok := e.pending[key]
	if !ok {
		return nil
	}
	delete(e.pending, key)
	e.logger.Warn("[QUIZ] evaluation failed, answer left ungraded",
		"campaign_id", campaignID, "question_id", questionID, "error", err)

	q := c.find(questionID)
	if q == nil {
		return nil
	}
	return []Output{AttemptRecorded{Attempt: e.attempt(c, q)}}
}

// PendingEvaluations reports how many free-text grades are outstanding.
func (e *Engine) PendingEvaluations() int {
	return len(e.pending)
}

// Cancel abandons the active campaign.
func (e *Engine) Cancel() []Output {
	if e.active == nil {
		return nil
	}
	c := e.active
	e.active = nil
	e.logger.Info("[QUIZ] campaign cancelled", "campaign_id", c.ID, "type", c.Type)
	return []Output{CampaignCancelled{CampaignID: c.ID, Type: c.Type, TriggerID: c.TriggerID}}
}

func (e *Engine) attempt(c *Campaign, q *domain.Question) domain.Attempt {
	return domain.Attempt{
		UserID:         e.userID,
		LessonID:       e.lessonID,
		AssessmentType: c.Type,
		QuestionID:     q.ID,
		Answer:         q.UserAnswer,
		IsCorrect:      q.IsCorrect,
		IsSkipped:      q.Status == domain.QuestionSkipped,
		Feedback:       q.Feedback,
	}
}
