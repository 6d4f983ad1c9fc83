// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	QuestionBankPath string
	AgentAddr        string
	SessionIdleTTL   time.Duration
	ReplayBuffer     int
	Redis            RedisConfig
	Evaluator        EvaluatorConfig
	Video            VideoConfig
	RateLimit        RateLimitConfig
	ConversationLog  ConversationLogConfig
}

// RedisConfig enables the optional cross-instance event bus.
type RedisConfig struct {
	Addr    string
	Channel string
}

// EvaluatorConfig selects and configures the free-text grading provider.
type EvaluatorConfig struct {
	Provider        string
	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	Timeout         time.Duration
}

// VideoConfig holds trigger windows and progress gating.
type VideoConfig struct {
	MinWatch          time.Duration
	ProgressInterval  time.Duration
	BookmarkTolerance time.Duration
	InLessonTolerance time.Duration
}

// RateLimitConfig bounds inbound learner actions per learner.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/lessonloop.db"),
		QuestionBankPath: getEnv("QUESTION_BANK_PATH", "./data/questions"),
		AgentAddr:        getEnv("AGENT_ADDR", ""),
		SessionIdleTTL:   getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		ReplayBuffer:     getEnvInt("WS_REPLAY_BUFFER", 200),
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", ""),
			Channel: getEnv("REDIS_CHANNEL", "lessonloop-events"),
		},
		Evaluator: EvaluatorConfig{
			Provider:        getEnv("EVALUATOR_PROVIDER", "mock"),
			Model:           getEnv("EVALUATOR_MODEL", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			Timeout:         getEnvDuration("EVALUATOR_TIMEOUT", 20*time.Second),
		},
		Video: VideoConfig{
			MinWatch:          getEnvDuration("VIDEO_MIN_WATCH", 5*time.Second),
			ProgressInterval:  getEnvDuration("VIDEO_PROGRESS_INTERVAL", 15*time.Second),
			BookmarkTolerance: getEnvDuration("BOOKMARK_TOLERANCE", 500*time.Millisecond),
			InLessonTolerance: getEnvDuration("IN_LESSON_TOLERANCE", time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.QuestionBankPath == "" {
		return fmt.Errorf("QUESTION_BANK_PATH cannot be empty")
	}
	if c.ReplayBuffer <= 0 {
		return fmt.Errorf("WS_REPLAY_BUFFER must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	switch c.Evaluator.Provider {
	case "mock", "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("EVALUATOR_PROVIDER %q is not supported", c.Evaluator.Provider)
	}
	if c.Evaluator.Timeout <= 0 {
		return fmt.Errorf("EVALUATOR_TIMEOUT must be > 0")
	}
	if c.Video.MinWatch < 0 || c.Video.ProgressInterval <= 0 {
		return fmt.Errorf("VIDEO_MIN_WATCH must be >= 0 and VIDEO_PROGRESS_INTERVAL > 0")
	}
	if c.Video.BookmarkTolerance <= 0 || c.Video.InLessonTolerance <= 0 {
		return fmt.Errorf("trigger tolerances must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AgentEnabled reports whether a conversational agent endpoint is configured.
func (c *Config) AgentEnabled() bool {
	return c.AgentAddr != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
