package quiz

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := NewEngine("u1", "l1", logger)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("camp-%d", n)
	}
	return e, &buf
}

func mcq(id, correct string) domain.Question {
	return domain.Question{
		ID:            id,
		Text:          "Question " + id,
		Type:          domain.QuestionMultipleChoice,
		Options:       []string{"A", "B", "C"},
		CorrectOption: correct,
	}
}

func freeText(id string) domain.Question {
	return domain.Question{ID: id, Text: "Explain " + id, Type: domain.QuestionFreeText}
}

func outputsOf[T Output](out []Output) []T {
	var got []T
	for _, o := range out {
		if v, ok := o.(T); ok {
			got = append(got, v)
		}
	}
	return got
}

func TestSingleActiveCampaign(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Start(domain.AssessmentWarmup, []domain.Question{mcq("q1", "A"), mcq("q2", "B")}, "")
	require.NoError(t, err)
	before := e.Active()

	for _, typ := range []domain.AssessmentType{domain.AssessmentWarmup, domain.AssessmentInLesson, domain.AssessmentFormative} {
		out, err := e.Start(typ, []domain.Question{mcq("x", "A")}, "t9")
		assert.ErrorIs(t, err, ErrCampaignActive)
		assert.Nil(t, out)
	}

	after := e.Active()
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Questions, after.Questions)
	assert.Equal(t, 0, after.CurrentIndex)
}

func TestStartRequiresQuestionsForLocalCampaigns(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(domain.AssessmentInLesson, nil, "t1")
	assert.ErrorIs(t, err, ErrNoQuestions)
	assert.Nil(t, e.Active())

	out, err := e.Start(domain.AssessmentFormative, nil, "b1")
	require.NoError(t, err)
	assert.Len(t, outputsOf[CampaignStarted](out), 1)
	assert.Empty(t, outputsOf[QuestionPresented](out))
}

func TestWarmupPartialTier(t *testing.T) {
	e, _ := newTestEngine(t)
	out, err := e.Start(domain.AssessmentWarmup, []domain.Question{mcq("q1", "A"), mcq("q2", "B"), mcq("q3", "C")}, "")
	require.NoError(t, err)
	require.Len(t, outputsOf[QuestionPresented](out), 1)

	var all []Output
	all = append(all, e.SubmitAnswer("q1", "A")...)
	all = append(all, e.SubmitAnswer("q2", "C")...)
	all = append(all, e.SubmitAnswer("q3", "C")...)

	done := outputsOf[CampaignCompleted](all)
	require.Len(t, done, 1)
	assert.Equal(t, Stats{Correct: 2, Incorrect: 1}, done[0].Stats)
	assert.Equal(t, TierPartial, TierFor(done[0].Stats))
	assert.Nil(t, e.Active())

	attempts := outputsOf[AttemptRecorded](all)
	require.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.False(t, a.Upsert)
		assert.Equal(t, domain.AssessmentWarmup, a.Attempt.AssessmentType)
	}
	assert.Equal(t, "Not quite right. The correct answer is B.", attempts[1].Attempt.Feedback)
	assert.Equal(t, "Great job! That's correct.", attempts[0].Attempt.Feedback)
}

func TestCustomFeedbackOverridesTemplate(t *testing.T) {
	e, _ := newTestEngine(t)
	q := mcq("q1", "A")
	q.CustomFeedback = "A is the zero value."
	_, err := e.Start(domain.AssessmentInLesson, []domain.Question{q}, "t1")
	require.NoError(t, err)

	out := e.SubmitAnswer("q1", "B")
	resolved := outputsOf[QuestionResolved](out)
	require.Len(t, resolved, 1)
	assert.Equal(t, "A is the zero value.", resolved[0].Question.Feedback)
	require.NotNil(t, resolved[0].Question.IsCorrect)
	assert.False(t, *resolved[0].Question.IsCorrect)

	done := outputsOf[CampaignCompleted](out)
	require.Len(t, done, 1)
	assert.Equal(t, "t1", done[0].TriggerID)
}

func TestAnswerForNonPendingQuestionIsNoOp(t *testing.T) {
	e, logs := newTestEngine(t)
	_, err := e.Start(domain.AssessmentWarmup, []domain.Question{mcq("q1", "A"), mcq("q2", "B")}, "")
	require.NoError(t, err)

	assert.Nil(t, e.SubmitAnswer("q2", "B"))
	assert.Nil(t, e.Skip("q2"))
	assert.Contains(t, logs.String(), "not pending")

	cur, ok := e.CurrentQuestion()
	require.True(t, ok)
	assert.Equal(t, "q1", cur.ID)
	assert.Equal(t, domain.QuestionPending, cur.Status)
	assert.Equal(t, domain.QuestionPending, e.Active().Questions[1].Status)
}

func TestAnswerWithoutCampaignIsNoOp(t *testing.T) {
	e, logs := newTestEngine(t)
	assert.Nil(t, e.SubmitAnswer("q1", "A"))
	assert.Nil(t, e.Cancel())
	assert.Contains(t, logs.String(), "no active campaign")
}

func TestFreeTextAdvancesWithoutEvaluation(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(domain.AssessmentWarmup, []domain.Question{freeText("f1"), mcq("q2", "A")}, "")
	require.NoError(t, err)

	out := e.SubmitAnswer("f1", "  a typed channel  ")
	reqs := outputsOf[EvaluationRequested](out)
	require.Len(t, reqs, 1)
	assert.Equal(t, "a typed channel", reqs[0].Request.Answer)
	assert.Empty(t, outputsOf[AttemptRecorded](out), "attempt waits for the grade")

	presented := outputsOf[QuestionPresented](out)
	require.Len(t, presented, 1)
	assert.Equal(t, "q2", presented[0].Question.ID)

	c := e.Active()
	assert.Equal(t, domain.QuestionAnswered, c.Questions[0].Status)
	assert.Nil(t, c.Questions[0].IsCorrect)
	assert.Equal(t, 1, e.PendingEvaluations())

	done := outputsOf[CampaignCompleted](e.Skip("q2"))
	require.Len(t, done, 1)
	assert.Equal(t, Stats{Skipped: 1, Ungraded: 1}, done[0].Stats)
	assert.Equal(t, TierMixed, TierFor(done[0].Stats))
}

func TestLateEvaluationAfterCompletion(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(domain.AssessmentWarmup, []domain.Question{freeText("f1")}, "")
	require.NoError(t, err)
	out := e.SubmitAnswer("f1", "buffered")
	require.Len(t, outputsOf[CampaignCompleted](out), 1)

	late := e.HandleRemoteEvaluation("camp-1", domain.Evaluation{QuestionID: "f1", IsCorrect: true, Feedback: "Spot on"})
	attempts := outputsOf[AttemptRecorded](late)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].Attempt.IsCorrect)
	assert.True(t, *attempts[0].Attempt.IsCorrect)
	assert.Equal(t, "buffered", attempts[0].Attempt.Answer)
	assert.Zero(t, e.PendingEvaluations())

	assert.Nil(t, e.HandleRemoteEvaluation("camp-1", domain.Evaluation{QuestionID: "f1"}), "duplicate results are ignored")
}

func TestEvaluationScopedToCampaign(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(domain.AssessmentWarmup, []domain.Question{freeText("f1")}, "")
	require.NoError(t, err)
	e.SubmitAnswer("f1", "first run")

	// The warmup is re-run while the first grade is still outstanding.
	_, err = e.Start(domain.AssessmentWarmup, []domain.Question{freeText("f1")}, "")
	require.NoError(t, err)
	e.SubmitAnswer("f1", "second run")
	assert.Equal(t, 2, e.PendingEvaluations())

	late := outputsOf[AttemptRecorded](e.HandleRemoteEvaluation("camp-1", domain.Evaluation{QuestionID: "f1", IsCorrect: false}))
	require.Len(t, late, 1)
	assert.Equal(t, "first run", late[0].Attempt.Answer)

	current := outputsOf[AttemptRecorded](e.HandleRemoteEvaluation("camp-2", domain.Evaluation{QuestionID: "f1", IsCorrect: true}))
	require.Len(t, current, 1)
	assert.Equal(t, "second run", current[0].Attempt.Answer)
	require.NotNil(t, current[0].Attempt.IsCorrect)
	assert.True(t, *current[0].Attempt.IsCorrect)
	assert.Zero(t, e.PendingEvaluations())
}

func TestEvaluationFailureRecordsUngradedAttempt(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(domain.AssessmentInLesson, []domain.Question{freeText("f1"), freeText("f2")}, "t1")
	require.NoError(t, err)
	e.SubmitAnswer("f1", "x")

	out := e.HandleEvaluationFailure("camp-1", "f1", errors.New("timeout"))
	attempts := outputsOf[AttemptRecorded](out)
	require.Len(t, attempts, 1)
	assert.Nil(t, attempts[0].Attempt.IsCorrect)

	cur, ok := e.CurrentQuestion()
	require.True(t, ok)
	assert.Equal(t, "f2", cur.ID)
}

func TestCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(domain.AssessmentInLesson, []domain.Question{mcq("q1", "A")}, "t7")
	require.NoError(t, err)

	out := e.Cancel()
	cancelled := outputsOf[CampaignCancelled](out)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "t7", cancelled[0].TriggerID)
	assert.Nil(t, e.Active())

	_, err = e.Start(domain.AssessmentWarmup, []domain.Question{mcq("q1", "A")}, "")
	assert.NoError(t, err)
}

func TestFormativeCampaign(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(domain.AssessmentFormative, nil, "b1")
	require.NoError(t, err)

	one := 1
	out, err := e.ApplyAgentQuestion(domain.FAResponse{
		QuestionNumber: &one, QuestionText: "What does close do?", IsMCQ: true, Options: []string{"x", "y"},
	})
	require.NoError(t, err)
	presented := outputsOf[QuestionPresented](out)
	require.Len(t, presented, 1)
	assert.Equal(t, "fa-b1-q1", presented[0].Question.ID)
	assert.Equal(t, domain.QuestionMultipleChoice, presented[0].Question.Type)

	out, err = e.ApplyAgentQuestion(domain.FAResponse{QuestionNumber: &one, QuestionText: "dup"})
	require.NoError(t, err)
	assert.Empty(t, out)

	out = e.SubmitAnswer("fa-b1-q1", "x")
	fwd := outputsOf[ForwardToAgent](out)
	require.Len(t, fwd, 1)
	assert.Equal(t, "x", fwd[0].Text)
	attempts := outputsOf[AttemptRecorded](out)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Upsert)
	assert.Empty(t, outputsOf[CampaignCompleted](out), "agent decides when the campaign ends")
	assert.NotNil(t, e.Active())

	out, err = e.ApplyAgentFeedback(domain.FAResponse{FeedbackType: domain.FeedbackCorrect, FeedbackText: "Yes!"})
	require.NoError(t, err)
	attempts = outputsOf[AttemptRecorded](out)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].Attempt.IsCorrect)
	assert.True(t, *attempts[0].Attempt.IsCorrect)
	assert.Equal(t, "Yes!", attempts[0].Attempt.Feedback)

	_, err = e.ApplyAgentQuestion(domain.FAResponse{QuestionText: "Second?"})
	require.NoError(t, err)
	out = e.Skip("fa-b1-q2")
	fwd = outputsOf[ForwardToAgent](out)
	require.Len(t, fwd, 1)
	assert.True(t, fwd[0].Skipped)

	out, err = e.ApplyAgentCompletion(domain.FAResponse{IsComplete: true, CompletionSummary: "Well done"})
	require.NoError(t, err)
	done := outputsOf[CampaignCompleted](out)
	require.Len(t, done, 1)
	assert.Equal(t, Stats{Correct: 1, Skipped: 1}, done[0].Stats)
	assert.Equal(t, "Well done", done[0].Summary)
	assert.Equal(t, "b1", done[0].TriggerID)

	_, err = e.ApplyAgentCompletion(domain.FAResponse{IsComplete: true})
	assert.ErrorIs(t, err, ErrNoActiveCampaign)
}

func TestAgentUpdatesRequireFormativeCampaign(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ApplyAgentQuestion(domain.FAResponse{QuestionText: "?"})
	assert.ErrorIs(t, err, ErrNoActiveCampaign)

	_, err = e.Start(domain.AssessmentWarmup, []domain.Question{mcq("q1", "A")}, "")
	require.NoError(t, err)
	_, err = e.ApplyAgentFeedback(domain.FAResponse{FeedbackType: domain.FeedbackCorrect})
	assert.ErrorIs(t, err, ErrNoActiveCampaign)
}

func TestWarmupClosingTiers(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
		want  Tier
	}{
		{"all correct", Stats{Correct: 3}, TierAllCorrect},
		{"partial", Stats{Correct: 2, Incorrect: 1}, TierPartial},
		{"all wrong is partial", Stats{Incorrect: 3}, TierPartial},
		{"all skipped", Stats{Skipped: 3}, TierAllSkipped},
		{"mixed", Stats{Correct: 1, Skipped: 2}, TierMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, msg := WarmupClosing(tt.stats)
			assert.Equal(t, tt.want, tier)
			assert.NotEmpty(t, msg)
		})
	}
}
