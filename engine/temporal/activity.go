package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/gadgetrun/agentcore/conversation"
	"github.com/gadgetrun/agentcore/loop"
)

const heartbeatInterval = 10 * time.Second

// agentActivity binds a fixed Orchestrator to the Temporal activity
// function RunAgentActivity registers.
type agentActivity struct {
	orch *loop.Orchestrator
}

// RunAgentActivity drives one agent run to completion (or to
// StateAwaitingInput) outside of workflow determinism constraints: it calls
// the model, parses gadget calls, and executes gadgets, none of which are
// safe to run directly in workflow code. It heartbeats periodically so
// Temporal can detect a stuck worker during long runs.
func (a *agentActivity) RunAgentActivity(ctx context.Context, input AgentRunInput) (AgentRunResult, error) {
	stop := make(chan struct{})
	defer close(stop)
	go a.heartbeat(ctx, stop)

	conv := conversation.New(input.Messages...)
	result, err := a.orch.Run(ctx, loop.RunInput{
		RunID:        input.RunID,
		Conversation: conv,
		Request:      input.Request,
	}, nil)
	if result == nil {
		return AgentRunResult{ErrMessage: errString(err), Messages: conv.Messages()}, err
	}
	return toAgentRunResult(result, conv.Messages()), err
}

func (a *agentActivity) heartbeat(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			activity.RecordHeartbeat(ctx)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
