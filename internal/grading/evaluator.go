// Package grading evaluates free-text quiz answers with a language model.
package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/llm"
)

const systemPrompt = `You grade short free-text answers in an online video course.
Judge whether the learner's answer is substantially correct for the question.
Be lenient about wording and spelling, strict about meaning.
Reply with one or two encouraging sentences of feedback addressed to the learner.`

var gradeSchema = &llm.Schema{
	Name:        "free-text-grade",
	Description: "Correctness verdict and feedback for a learner answer",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_correct": map[string]any{"type": "boolean"},
			"feedback":   map[string]any{"type": "string"},
		},
		"required":             []any{"is_correct", "feedback"},
		"additionalProperties": false,
	},
}

// Evaluator grades one free-text answer.
type Evaluator interface {
	Evaluate(ctx context.Context, req domain.EvaluationRequest) (domain.Evaluation, error)
}

// LLMEvaluator grades answers with an llm.Provider.
type LLMEvaluator struct {
	provider llm.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewLLMEvaluator creates an evaluator. A zero timeout means no deadline
// beyond the caller's context.
func NewLLMEvaluator(p llm.Provider, timeout time.Duration, logger *slog.Logger) *LLMEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMEvaluator{provider: p, timeout: timeout, logger: logger}
}

type grade struct {
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback"`
}

// Evaluate grades req. Errors are transient: the caller leaves the answer ungraded.
func (e *LLMEvaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest) (domain.Evaluation, error) {
	if strings.TrimSpace(req.Answer) == "" {
		return domain.Evaluation{
			QuestionID: req.QuestionID,
			IsCorrect:  false,
			Feedback:   "It looks like the answer was empty. Give it a try next time!",
		}, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.provider.Generate(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Question: %s\nLearner answer: %s", req.QuestionText, req.Answer),
		}},
		Schema:    gradeSchema,
		MaxTokens: 300,
	})
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("evaluate %s: %w", req.QuestionID, err)
	}

	var g grade
	if err := json.Unmarshal(resp.Content, &g); err != nil {
		return domain.Evaluation{}, fmt.Errorf("decode grade for %s: %w", req.QuestionID, err)
	}
	e.logger.Debug("[GRADING] answer graded",
		"question_id", req.QuestionID, "is_correct", g.IsCorrect, "model", resp.Model)
	return domain.Evaluation{
		QuestionID: req.QuestionID,
		IsCorrect:  g.IsCorrect,
		Feedback:   strings.TrimSpace(g.Feedback),
	}, nil
}
