package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/gadgetrun/agentcore/loop"
	"github.com/gadgetrun/agentcore/model"
)

func TestAgentWorkflowReturnsOnFinish(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()

	env.OnActivity(runAgentActivityName, mock.Anything, mock.Anything).Return(AgentRunResult{
		State:     loop.StateFinished,
		FinalText: "done",
	}, nil)

	input := AgentRunInput{
		RunID:    "run-1",
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, "hi")},
		Request:  &model.Request{},
	}
	env.ExecuteWorkflow(AgentWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result AgentRunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, loop.StateFinished, result.State)
	require.Equal(t, "done", result.FinalText)
}

func TestAgentWorkflowResumesAfterHumanInputSignal(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()

	calls := 0
	env.OnActivity(runAgentActivityName, mock.Anything, mock.Anything).Return(
		func(_ interface{}, in AgentRunInput) (AgentRunResult, error) {
			calls++
			if calls == 1 {
				return AgentRunResult{
					State:    loop.StateAwaitingInput,
					Question: "what city?",
					Messages: in.Messages,
				}, nil
			}
			require.Len(t, in.Messages, 2)
			return AgentRunResult{State: loop.StateFinished, FinalText: "Boston, got it"}, nil
		},
	)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(HumanInputSignal, HumanInputReply{Text: "Boston"})
	}, time.Millisecond)

	input := AgentRunInput{
		RunID:    "run-2",
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, "where should I go?")},
		Request:  &model.Request{},
	}
	env.ExecuteWorkflow(AgentWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result AgentRunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, loop.StateFinished, result.State)
	require.Equal(t, 2, calls)
}
