// Package llm wraps the language-model providers used to grade free-text
// answers. Every provider returns JSON validated against the request schema.
package llm

import (
	"context"
	"encoding/json"
)

// Provider generates a structured response for a prompt.
type Provider interface {
	// Generate sends the request and returns the model output. When
	// req.Schema is set the content is JSON that passed schema validation.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the configured model identifier.
	ModelID() string
}

// Request is a single-turn or multi-turn prompt.
type Request struct {
	System      string
	Messages    []Message
	Schema      *Schema
	MaxTokens   int
	Temperature float64
}

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Role is the sender of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema is the JSON Schema a response must satisfy. Name doubles as the
// cache key for the compiled schema.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Response is a model output.
type Response struct {
	Content    json.RawMessage
	Usage      Usage
	Model      string
	StopReason string
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
