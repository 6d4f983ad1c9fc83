package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Agent service methods. Messages are google.protobuf.Struct on the wire.
const (
	methodConverse        = "/lessonloop.agent.v1.AgentService/Converse"
	methodSendText        = "/lessonloop.agent.v1.AgentService/SendText"
	methodStartAssessment = "/lessonloop.agent.v1.AgentService/StartAssessment"
	methodHealth          = "/lessonloop.agent.v1.AgentService/Health"
)

var converseStream = grpc.StreamDesc{
	StreamName:    "Converse",
	ServerStreams: true,
}

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errAgentRejected            = errors.New("agent rejected request")
)

// GrpcClient provides a gRPC client to the conversational agent service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	cfg    GrpcClientConfig
	logger *slog.Logger

	subscriptions atomic.Int64
	sentTexts     atomic.Int64
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          getEnv("AGENT_ADDR", "localhost:50051"),
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   15 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient creates a new gRPC client to the agent service.
func NewGrpcClient(addr string, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad agent endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks if the agent service is healthy.
func (c *GrpcClient) Health(ctx context.Context) error {
	_, err := c.unary(ctx, methodHealth, map[string]any{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// GetStats returns client statistics.
func (c *GrpcClient) GetStats() Stats {
	return Stats{
		Subscriptions: c.subscriptions.Load(),
		SentTexts:     c.sentTexts.Load(),
	}
}

// Subscribe opens the server-streaming conversation for a lesson visit.
func (c *GrpcClient) Subscribe(ctx context.Context, req SubscribeRequest) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		vars := make(map[string]any, len(req.Variables))
		for k, v := range req.Variables {
			vars[k] = v
		}
		msg, err := structpb.NewStruct(map[string]any{
			"user_id":    req.UserID,
			"session_id": req.SessionID,
			"lesson_id":  req.LessonID,
			"variables":  vars,
		})
		if err != nil {
			yield(nil, fmt.Errorf("encode subscribe request: %w", err))
			return
		}

		stream, err := c.conn.NewStream(ctx, &converseStream, methodConverse)
		if err != nil {
			yield(nil, fmt.Errorf("converse request failed: %w", err))
			return
		}
		if err := stream.SendMsg(msg); err != nil {
			yield(nil, fmt.Errorf("converse send failed: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("converse close send failed: %w", err))
			return
		}
		c.subscriptions.Add(1)
		c.logger.Debug("Agent conversation opened", "user_id", req.UserID, "session_id", req.SessionID)

		for {
			resp := new(structpb.Struct)
			err := stream.RecvMsg(resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("converse stream error: %w", err))
				return
			}

			ev, err := eventFromStruct(resp)
			if err != nil {
				c.logger.Warn("dropping malformed agent event", "error", err, "session_id", req.SessionID)
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// SendText delivers learner text to the agent.
func (c *GrpcClient) SendText(ctx context.Context, sessionID, text string) error {
	resp, err := c.unary(ctx, methodSendText, map[string]any{
		"session_id": sessionID,
		"text":       text,
	})
	if err != nil {
		c.logger.Warn("SendText failed", "error", err, "session_id", sessionID)
		return err
	}
	c.sentTexts.Add(1)
	return checkOK(resp)
}

// StartAssessment asks the agent to begin a formative check.
func (c *GrpcClient) StartAssessment(ctx context.Context, req AssessmentRequest) error {
	resp, err := c.unary(ctx, methodStartAssessment, map[string]any{
		"session_id": req.SessionID,
		"trigger_id": req.TriggerID,
		"topic":      req.Topic,
	})
	if err != nil {
		c.logger.Warn("StartAssessment failed", "error", err, "session_id", req.SessionID, "trigger_id", req.TriggerID)
		return err
	}
	return checkOK(resp)
}

func (c *GrpcClient) unary(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// checkOK reads the logical ok flag; the agent answers ok=false on
// validation failures.
func checkOK(resp *structpb.Struct) error {
	fields := resp.GetFields()
	ok, present := fields["ok"]
	if !present || ok.GetBoolValue() {
		return nil
	}
	status := fields["status"].GetStringValue()
	if status == "" {
		return errAgentRejected
	}
	return fmt.Errorf("%w: %s", errAgentRejected, status)
}

// eventFromStruct decodes one conversation stream message.
func eventFromStruct(s *structpb.Struct) (*Event, error) {
	f := s.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	flag := func(k string) bool { return f[k].GetBoolValue() }

	ev := &Event{Kind: EventKind(str("type"))}
	switch ev.Kind {
	case EventAgentTranscript:
		ev.Segment = domain.TranscriptSegment{
			ID:                str("id"),
			Text:              str("text"),
			IsFinal:           flag("is_final"),
			IsAgentOriginated: true,
		}
	case EventUserTranscript:
		ev.User = domain.UserTranscription{
			Text:      str("text"),
			IsFinal:   flag("is_final"),
			InputType: domain.InputVoice,
		}
	case EventFAResponse:
		fa := domain.FAResponse{
			QuestionText:      str("question_text"),
			IsMCQ:             flag("is_mcq"),
			FeedbackType:      str("feedback_type"),
			FeedbackText:      str("feedback_text"),
			IsComplete:        flag("is_complete"),
			CompletionSummary: str("completion_summary"),
		}
		if v, ok := f["question_number"]; ok {
			n := int(v.GetNumberValue())
			fa.QuestionNumber = &n
		}
		for _, opt := range f["options"].GetListValue().GetValues() {
			fa.Options = append(fa.Options, opt.GetStringValue())
		}
		ev.FA = fa
	case EventIntroComplete:
		ev.Topic = str("topic")
		ev.IntroText = str("intro_text")
	case EventError:
		ev.Error = str("message")
	default:
		return nil, fmt.Errorf("unknown agent event type %q", ev.Kind)
	}
	return ev, nil
}

// Helper function.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
