package loop

import (
	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
)

// EventType classifies one item of the loop's emitted event sequence
// (§4.3 "Event emission").
type EventType string

const (
	EventIterationStart   EventType = "iteration_start"
	EventIterationEnd     EventType = "iteration_end"
	EventLLMCallStart     EventType = "llm_call_start"
	EventLLMCallComplete  EventType = "llm_call_complete"
	EventText             EventType = "text"
	EventThinking         EventType = "thinking"
	EventGadgetCall       EventType = "gadget_call"
	EventGadgetResult     EventType = "gadget_result"
	EventParseError       EventType = "parse_error"
	EventFinish           EventType = "finish"
)

// Event is one item the loop emits to callers iterating a run. Only the
// fields relevant to Type are populated.
type Event struct {
	Type EventType

	Iteration     int
	MaxIterations int

	Text     string // EventText
	Thinking string // EventThinking

	Call   *gadget.Call   // EventGadgetCall
	Result *gadget.Result // EventGadgetResult

	Usage *model.TokenUsage // EventLLMCallComplete
	Err   error             // EventLLMCallComplete, EventFinish (non-nil on failure)

	ParseErrorReason string // EventParseError
	ParseErrorText   string

	FinishState TerminationState // EventFinish
}

// TerminationState is the specific reason a run stopped, evaluated by S7
// in the order listed in §4.3. StateAwaitingInput is a supplement beyond
// the five states §4.3 names, for the human-input-required gadget signal
// (gadget.SignalHumanInputRequired): the run suspends rather than failing,
// and a caller resumes it by starting a new Run whose conversation history
// carries the human's answer as a tool result for the pausing invocation.
type TerminationState string

const (
	StateCancelled         TerminationState = "cancelled"
	StateCompletedBySignal TerminationState = "completed-by-signal"
	StateBudgetExhausted   TerminationState = "budget-exhausted"
	StateFinished          TerminationState = "finished"
	StateIterationsExhausted TerminationState = "iterations-exhausted"
	StateAwaitingInput     TerminationState = "awaiting-input"
	StateFailed            TerminationState = "failed"
)

// Result is a run's terminal summary, returned once the event sequence is
// exhausted.
type Result struct {
	State      TerminationState
	FinalText  string
	Question   string // set when State is StateAwaitingInput
	Usage      model.TokenUsage
	CostUSD    float64
	Iterations int
	Err        error
}
