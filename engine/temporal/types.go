package temporal

import (
	"github.com/gadgetrun/agentcore/loop"
	"github.com/gadgetrun/agentcore/model"
)

// AgentRunInput is the serializable payload Temporal persists in workflow
// history to start and, on replay, reconstruct a run. Unlike loop.RunInput
// it carries plain messages and request parameters rather than a live
// conversation.Manager, since workflow input must round-trip through
// Temporal's data converter.
type AgentRunInput struct {
	// RunID identifies the run across the workflow, the execution tree,
	// and the approval store.
	RunID string
	// Messages seeds the conversation (system prompt plus any prior
	// turns). Required, non-empty.
	Messages []*model.Message
	// Request carries the fixed sampling parameters (model, temperature,
	// tools, thinking, cache) reused every iteration.
	Request *model.Request
}

// AgentRunResult mirrors loop.Result in a form safe to return from a
// Temporal workflow: Err is flattened to a string since error values don't
// round-trip through the data converter. Messages carries the conversation
// as it stood when the run returned, so a workflow parked on
// loop.StateAwaitingInput can append the human reply and resume the loop
// from the right point on the next activity call.
type AgentRunResult struct {
	State      loop.TerminationState
	FinalText  string
	Question   string
	CostUSD    float64
	Iterations int
	ErrMessage string
	Messages   []*model.Message
}

// HumanInputReply is the signal payload AgentWorkflow waits for after a run
// parks in loop.StateAwaitingInput.
type HumanInputReply struct {
	Text string
}

func toAgentRunResult(r *loop.Result, messages []*model.Message) AgentRunResult {
	out := AgentRunResult{
		FinalText:  r.FinalText,
		Question:   r.Question,
		CostUSD:    r.CostUSD,
		Iterations: r.Iterations,
		State:      r.State,
		Messages:   messages,
	}
	if r.Err != nil {
		out.ErrMessage = r.Err.Error()
	}
	return out
}
