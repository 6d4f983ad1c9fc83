package llm

import (
	"context"
	"log/slog"
	"time"
)

// LoggingProvider logs every request's latency and outcome.
type LoggingProvider struct {
	inner  Provider
	logger *slog.Logger
}

// WithLogging wraps p with request logging.
func WithLogging(p Provider, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingProvider{inner: p, logger: logger}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)

	attrs := []any{
		"model", l.inner.ModelID(),
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if req.Schema != nil {
		attrs = append(attrs, "schema", req.Schema.Name)
	}
	if err != nil {
		l.logger.Warn("[LLM] request failed", append(attrs, "error", err)...)
		return nil, err
	}
	l.logger.Debug("[LLM] request complete",
		append(attrs, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)...)
	return resp, nil
}

func (l *LoggingProvider) ModelID() string { return l.inner.ModelID() }
