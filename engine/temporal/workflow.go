package temporal

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/gadgetrun/agentcore/loop"
	"github.com/gadgetrun/agentcore/model"
)

// defaultActivityOptions bounds a single RunAgentActivity call. Retries
// handle transient model/provider failures; StartToCloseTimeout bounds one
// activity call (one Run up to a terminal state or StateAwaitingInput)
// rather than the whole run, since a run that parks on
// StateAwaitingInput may span many activity calls separated by a wait on
// HumanInputSignal that can take arbitrarily long.
var defaultActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 15 * time.Minute,
	RetryPolicy: &sdktemporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    5,
	},
}

// AgentWorkflow runs an agent loop to completion, parking on HumanInputSignal
// whenever RunAgentActivity reports loop.StateAwaitingInput and resuming the
// loop with the signaled reply appended to the conversation. It only
// schedules activities and waits on signals, so it stays deterministic and
// replay-safe across worker restarts.
func AgentWorkflow(ctx workflow.Context, input AgentRunInput) (AgentRunResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions)

	current := input
	for {
		var result AgentRunResult
		if err := workflow.ExecuteActivity(ctx, runAgentActivityName, current).Get(ctx, &result); err != nil {
			return AgentRunResult{ErrMessage: err.Error()}, err
		}
		if result.State != loop.StateAwaitingInput {
			return result, nil
		}

		var reply HumanInputReply
		workflow.GetSignalChannel(ctx, HumanInputSignal).Receive(ctx, &reply)

		messages := append([]*model.Message{}, result.Messages...)
		messages = append(messages, model.NewTextMessage(model.RoleUser, reply.Text))
		current = AgentRunInput{
			RunID:    input.RunID,
			Messages: messages,
			Request:  input.Request,
		}
	}
}
