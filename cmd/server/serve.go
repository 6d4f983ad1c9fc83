package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/lessonloop/internal/agent"
	"github.com/ashureev/lessonloop/internal/api"
	"github.com/ashureev/lessonloop/internal/config"
	"github.com/ashureev/lessonloop/internal/grading"
	"github.com/ashureev/lessonloop/internal/identity"
	"github.com/ashureev/lessonloop/internal/llm"
	"github.com/ashureev/lessonloop/internal/metrics"
	"github.com/ashureev/lessonloop/internal/middleware"
	"github.com/ashureev/lessonloop/internal/orchestrator"
	"github.com/ashureev/lessonloop/internal/questionbank"
	"github.com/ashureev/lessonloop/internal/realtime"
	"github.com/ashureev/lessonloop/internal/sessionctx"
	"github.com/ashureev/lessonloop/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := slog.Default()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	bank, err := questionbank.Load(cfg.QuestionBankPath)
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}
	slog.Info("Question bank loaded", "path", cfg.QuestionBankPath, "lessons", len(bank.Lessons()))

	evaluator, err := newEvaluator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Agent (optional).
	var agentSvc *agent.Service
	var agentPinger api.Pinger
	if cfg.AgentEnabled() {
		slog.Info("Connecting to agent service via gRPC", "address", cfg.AgentAddr)
		grpcClient, err := agent.NewGrpcClient(cfg.AgentAddr, logger)
		if err != nil {
			slog.Warn("Failed to connect to agent, tutoring features will be disabled", "error", err)
		} else {
			convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig{
				Enabled:       cfg.ConversationLog.Enabled,
				Dir:           cfg.ConversationLog.Dir,
				GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
				GlobalPath:    cfg.ConversationLog.GlobalPath,
				QueueSize:     cfg.ConversationLog.QueueSize,
			}, logger)
			if err != nil {
				grpcClient.Close()
				return fmt.Errorf("initialize conversation logger: %w", err)
			}
			agentSvc = agent.NewService(grpcClient, convLog, logger)
			agentPinger = grpcClient
			defer agentSvc.Close()
		}
	}
	if agentSvc == nil {
		slog.Info("Tutoring agent disabled (AGENT_ADDR not set or connection failed)")
	}

	// Realtime. The hub owns the bus once attached.
	hub := realtime.NewHub(cfg.ReplayBuffer, logger)
	defer hub.Close()
	if cfg.Redis.Addr != "" {
		bus, err := realtime.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Channel, logger)
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		if err := hub.AttachBus(ctx, bus); err != nil {
			_ = bus.Close()
			return err
		}
	}

	deps := orchestrator.Deps{
		Store:     repo,
		Questions: bank,
		Publisher: hub,
		Video: orchestrator.VideoConfig{
			MinWatch:          cfg.Video.MinWatch,
			ProgressInterval:  cfg.Video.ProgressInterval,
			BookmarkTolerance: cfg.Video.BookmarkTolerance,
			InLessonTolerance: cfg.Video.InLessonTolerance,
		},
		Evaluator: evaluator,
		Logger:    logger,
	}
	if agentSvc != nil {
		deps.Agent = agentSvc
	}
	registry := orchestrator.NewRegistry(deps, sessionctx.NewResolver(repo, logger), logger)
	defer registry.CloseAll()
	registry.StartIdleSweeper(ctx, cfg.SessionIdleTTL)

	// Handlers.
	base := api.NewHandler(repo, registry, hub, logger)
	limiter := api.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	wsHandler := api.NewWebSocketHandler(base, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Probes carry no identity.
	r.Handle("/metrics", metrics.Handler())
	api.NewHealthHandler(repo, agentPinger).RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		api.NewLessonHandler(base, agentSvc != nil).RegisterRoutes(r)
		r.Get("/ws/lesson", wsHandler.ServeHTTP)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// newEvaluator builds the free-text grader. The mock provider disables
// grading, so free-text answers are recorded ungraded.
func newEvaluator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (grading.Evaluator, error) {
	if cfg.Evaluator.Provider == llm.ProviderMock {
		slog.Info("Free-text grading disabled (EVALUATOR_PROVIDER=mock)")
		return nil, nil
	}
	provider, err := llm.NewProvider(ctx, llm.Config{
		Provider:        cfg.Evaluator.Provider,
		Model:           cfg.Evaluator.Model,
		AnthropicAPIKey: cfg.Evaluator.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.Evaluator.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.Evaluator.OpenAIBaseURL,
		GeminiAPIKey:    cfg.Evaluator.GeminiAPIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize evaluator: %w", err)
	}
	slog.Info("Free-text grading enabled", "provider", cfg.Evaluator.Provider, "model", provider.ModelID())
	return grading.NewLLMEvaluator(provider, cfg.Evaluator.Timeout, logger), nil
}
