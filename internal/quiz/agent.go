package quiz

import (
	"fmt"

	"github.com/ashureev/lessonloop/internal/domain"
)

// formativeQuestionID derives a stable id so repeated agent deliveries upsert
// the same attempt row.
func formativeQuestionID(triggerID string, n int) string {
	if triggerID == "" {
		triggerID = "adhoc"
	}
	return fmt.Sprintf("fa-%s-q%d", triggerID, n)
}

func (e *Engine) formative() (*Campaign, error) {
	if e.active == nil || !e.active.Type.IsAgentHosted() {
		return nil, ErrNoActiveCampaign
	}
	return e.active, nil
}

// ApplyAgentQuestion appends a question generated by the agent and makes it
// current. A redelivered question number is ignored.
func (e *Engine) ApplyAgentQuestion(resp domain.FAResponse) ([]Output, error) {
	c, err := e.formative()
	if err != nil {
		return nil, err
	}
	n := len(c.Questions) + 1
	if resp.QuestionNumber != nil && *resp.QuestionNumber > 0 {
		n = *resp.QuestionNumber
	}
	id := formativeQuestionID(c.TriggerID, n)
	if c.find(id) != nil {
		e.logger.Debug("[QUIZ] duplicate agent question ignored", "campaign_id", c.ID, "question_id", id)
		return nil, nil
	}

	q := domain.Question{
		ID:     id,
		Text:   resp.QuestionText,
		Type:   domain.QuestionFreeText,
		Status: domain.QuestionPending,
	}
	if resp.IsMCQ && len(resp.Options) > 0 {
		q.Type = domain.QuestionMultipleChoice
		q.Options = append([]string(nil), resp.Options...)
	}

	// An unanswered earlier question is superseded by the new one.
	if prev := c.current(); prev != nil {
		prev.Status = domain.QuestionSkipped
	}
	c.Questions = append(c.Questions, q)
	c.CurrentIndex = len(c.Questions) - 1
	return []Output{e.present(c)}, nil
}

// ApplyAgentFeedback grades the most recent answered question without feedback.
func (e *Engine) ApplyAgentFeedback(resp domain.FAResponse) ([]Output, error) {
	c, err := e.formative()
	if err != nil {
		return nil, err
	}
	var target *domain.Question
	for i := len(c.Questions) - 1; i >= 0; i-- {
		q := &c.Questions[i]
		if q.Status == domain.QuestionAnswered && q.Feedback == "" {
			target = q
			break
		}
	}
	if target == nil {
		e.logger.Warn("[QUIZ] agent feedback with no answered question", "campaign_id", c.ID)
		return nil, nil
	}

	switch resp.FeedbackType {
	case domain.FeedbackCorrect:
		v := true
		target.IsCorrect = &v
	case domain.FeedbackIncorrect, domain.FeedbackPartial:
		v := false
		target.IsCorrect = &v
	}
	target.Feedback = resp.FeedbackText
	return []Output{
		QuestionResolved{CampaignID: c.ID, Type: c.Type, Question: *target},
		AttemptRecorded{Attempt: e.attempt(c, target), Upsert: true},
	}, nil
}

// ApplyAgentCompletion ends the formative campaign.
func (e *Engine) ApplyAgentCompletion(resp domain.FAResponse) ([]Output, error) {
	if _, err := e.formative(); err != nil {
		return nil, err
	}
	return []Output{e.complete(resp.CompletionSummary)}, nil
}
