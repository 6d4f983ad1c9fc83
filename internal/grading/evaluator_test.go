package grading

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateParsesGrade(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{
		Content: json.RawMessage(`{"is_correct":true,"feedback":"  Exactly, channels synchronise goroutines. "}`),
	})
	ev := NewLLMEvaluator(mock, time.Second, nil)

	got, err := ev.Evaluate(context.Background(), domain.EvaluationRequest{
		QuestionID: "f1", QuestionText: "What is a channel?", Answer: "a pipe between goroutines",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Evaluation{
		QuestionID: "f1", IsCorrect: true, Feedback: "Exactly, channels synchronise goroutines.",
	}, got)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.Contains(calls[0].Messages[0].Content, "a pipe between goroutines"))
	assert.Equal(t, "free-text-grade", calls[0].Schema.Name)
}

func TestEvaluateEmptyAnswerSkipsProvider(t *testing.T) {
	mock := llm.NewMockProvider()
	got, err := NewLLMEvaluator(mock, 0, nil).Evaluate(context.Background(), domain.EvaluationRequest{QuestionID: "f1", Answer: "  "})
	require.NoError(t, err)
	assert.False(t, got.IsCorrect)
	assert.Empty(t, mock.Calls())
}

func TestEvaluateProviderErrors(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("down")}},
		llm.MockResponse{Content: json.RawMessage(`{"verdict":"yes"}`)},
	)
	ev := NewLLMEvaluator(mock, time.Second, nil)
	req := domain.EvaluationRequest{QuestionID: "f1", QuestionText: "?", Answer: "x"}

	_, err := ev.Evaluate(context.Background(), req)
	var unavailable *llm.ErrProviderUnavailable
	assert.ErrorAs(t, err, &unavailable)

	_, err = ev.Evaluate(context.Background(), req)
	var invalid *llm.ErrInvalidResponse
	assert.ErrorAs(t, err, &invalid)
}
