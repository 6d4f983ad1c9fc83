package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockResponse is a canned MockProvider result.
type MockResponse struct {
	Content json.RawMessage
	Err     error
}

// MockProvider returns canned responses in FIFO order and records requests.
// With an empty queue it falls back to Fallback, or fails as unavailable.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     []Request

	// Fallback, when set, answers requests once the queue is drained.
	Fallback func(Request) (json.RawMessage, error)
}

// NewMockProvider creates a MockProvider.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	var next *MockResponse
	if len(m.responses) > 0 {
		next = &m.responses[0]
		m.responses = m.responses[1:]
	}
	fallback := m.Fallback
	m.mu.Unlock()

	var content json.RawMessage
	switch {
	case next != nil && next.Err != nil:
		return nil, next.Err
	case next != nil:
		content = next.Content
	case fallback != nil:
		c, err := fallback(req)
		if err != nil {
			return nil, err
		}
		content = c
	default:
		return nil, &ErrProviderUnavailable{}
	}

	if err := validateResponse(req.Schema, content); err != nil {
		return nil, err
	}
	return &Response{Content: content, Model: "mock", StopReason: "end"}, nil
}

func (m *MockProvider) ModelID() string { return "mock" }

// AddResponse queues a canned response.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// Calls returns a copy of the recorded requests.
func (m *MockProvider) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
