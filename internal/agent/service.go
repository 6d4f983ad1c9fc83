package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStreamClosed reports that the agent ended the conversation stream.
var ErrStreamClosed = errors.New("agent conversation stream closed")

// Backoff configures subscription reconnects.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff returns the reconnect schedule: 500ms doubling to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for i := 1; i < n && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Service keeps a lesson visit subscribed to the agent and records the
// exchange in the conversation log.
type Service struct {
	channel Channel
	log     ConversationLogger
	backoff Backoff
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates an agent service over a channel.
func NewService(channel Channel, convLog ConversationLogger, logger *slog.Logger) *Service {
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		channel: channel,
		log:     convLog,
		backoff: DefaultBackoff(),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// WithBackoff overrides the reconnect schedule.
func (s *Service) WithBackoff(b Backoff) *Service {
	s.backoff = b
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run delivers conversation events until ctx ends. When the stream fails
// or closes, onLost is called with the consecutive failure count and the
// subscription is reopened after a backoff. A delivered event resets the
// count.
func (s *Service) Run(ctx context.Context, req SubscribeRequest, deliver func(*Event), onLost func(attempt int, err error)) {
	attempt := 0
	for ctx.Err() == nil {
		streamErr := ErrStreamClosed
		for ev, err := range s.channel.Subscribe(ctx, req) {
			if err != nil {
				streamErr = err
				break
			}
			attempt = 0
			s.record(req.UserID, req.SessionID, ev)
			deliver(ev)
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		delay := s.backoff.Delay(attempt)
		s.logger.Warn("[AGENT] conversation lost, reconnecting",
			"user_id", req.UserID, "session_id", req.SessionID,
			"attempt", attempt, "retry_in", delay, "error", streamErr)
		if onLost != nil {
			onLost(attempt, streamErr)
		}
		if err := s.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// SendText forwards learner text to the agent.
func (s *Service) SendText(ctx context.Context, userID, sessionID, text string) error {
	s.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "agent_grpc",
		Direction:  "outbound",
		EventType:  "learner_text",
		ContentRaw: text,
	})
	return s.channel.SendText(ctx, sessionID, text)
}

// StartAssessment asks the agent to begin a formative check.
func (s *Service) StartAssessment(ctx context.Context, userID string, req AssessmentRequest) error {
	s.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  req.SessionID,
		Channel:    "agent_grpc",
		Direction:  "outbound",
		EventType:  "assessment_start",
		ContentRaw: req.Topic,
		Meta:       map[string]any{"trigger_id": req.TriggerID},
	})
	return s.channel.StartAssessment(ctx, req)
}

func (s *Service) record(userID, sessionID string, ev *Event) {
	event := ConversationLogEvent{
		UserID:    userID,
		SessionID: sessionID,
		Channel:   "agent_grpc",
		Direction: "inbound",
		EventType: string(ev.Kind),
	}
	switch ev.Kind {
	case EventAgentTranscript:
		if !ev.Segment.IsFinal {
			return
		}
		event.ContentRaw = ev.Segment.Text
		event.Meta = map[string]any{"segment_id": ev.Segment.ID}
	case EventUserTranscript:
		if !ev.User.IsFinal {
			return
		}
		event.ContentRaw = ev.User.Text
	case EventFAResponse:
		event.ContentRaw = ev.FA.QuestionText + ev.FA.FeedbackText + ev.FA.CompletionSummary
		event.Meta = map[string]any{
			"feedback_type": ev.FA.FeedbackType,
			"is_complete":   ev.FA.IsComplete,
		}
	case EventIntroComplete:
		event.ContentRaw = ev.IntroText
		event.Meta = map[string]any{"topic": ev.Topic}
	case EventError:
		event.ContentRaw = ev.Error
	}
	s.log.Log(event)
}

// Close releases the channel and flushes the conversation log.
func (s *Service) Close() {
	if s.channel != nil {
		s.channel.Close()
	}
	if err := s.log.Close(); err != nil {
		s.logger.Warn("failed to close conversation logger", "error", err)
	}
}
