package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// NewProvider builds the configured provider wrapped as
// caller -> retry -> logging -> provider.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var base Provider
	var err error
	switch cfg.Provider {
	case ProviderAnthropic:
		base, err = NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.Model)
	case ProviderOpenAI:
		base, err = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model)
	case ProviderGemini:
		base, err = NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.Model)
	case ProviderMock:
		return NewMockProvider(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetry
	}
	return WithRetry(WithLogging(base, logger), retry), nil
}

// resolveModel maps a friendly name to a model id, passing unknown names through.
func resolveModel(name, fallback string, models map[string]string) string {
	if name == "" {
		name = fallback
	}
	if id, ok := models[name]; ok {
		return id
	}
	return name
}
