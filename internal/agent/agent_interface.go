package agent

import (
	"context"
	"iter"
)

// Channel is the remote agent connection used by a lesson session.
// It is implemented by the gRPC client.
type Channel interface {
	// Subscribe streams conversation events until ctx ends or the stream fails.
	Subscribe(ctx context.Context, req SubscribeRequest) iter.Seq2[*Event, error]

	// SendText delivers learner text (typed chat or a quiz answer) to the agent.
	SendText(ctx context.Context, sessionID, text string) error

	// StartAssessment asks the agent to begin a formative check.
	StartAssessment(ctx context.Context, req AssessmentRequest) error

	// Close releases resources
	Close()
}

// Ensure GrpcClient implements Channel.
var _ Channel = (*GrpcClient)(nil)
