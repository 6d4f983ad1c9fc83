package llm

import (
	"fmt"
	"time"
)

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string

	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GeminiAPIKey    string

	Retry RetryConfig
}

// RetryConfig tunes the retry decorator.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetry is used when Config.Retry is zero.
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Multiplier:  2.0,
}

// Validate checks the selected provider has credentials.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic evaluator")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai evaluator")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini evaluator")
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown evaluator provider: %q", c.Provider)
	}
	return nil
}
