// Package hooks implements the agent loop's extension surface: observers
// (fire-and-forget), interceptors (pure chainable transforms), and
// controllers (flow-affecting, return a tagged Decision) consulted at the
// fixed lifecycle points of §4.3/§4.4. Multiple hook Sets compose:
// observers all fire, interceptors apply in registration order, and for
// controllers the first non-passthrough Decision wins.
package hooks

import (
	"context"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
)

// Verb is the tagged decision a controller hook returns.
type Verb string

const (
	// VerbProceed continues with the (possibly modified) default behavior.
	VerbProceed Verb = "proceed"
	// VerbContinue is VerbProceed's spelling for after_llm_call/
	// after_gadget_execution controllers, matching §4.3's vocabulary.
	VerbContinue Verb = "continue"
	// VerbRetry re-enters the state from its start (S0 for LLM-call
	// controllers, the gadget dispatch for gadget controllers).
	VerbRetry Verb = "retry"
	// VerbSkip treats the step as a no-op (empty LLM output, or the
	// gadget call is skipped entirely).
	VerbSkip Verb = "skip"
	// VerbFail surfaces Decision.Err as the run's terminal error.
	VerbFail Verb = "fail"
	// VerbAppendMessages injects Decision.Messages before gadget dispatch.
	VerbAppendMessages Verb = "append_messages"
	// VerbRecover substitutes Decision.FallbackText/FallbackResult for an
	// error outcome and continues the run.
	VerbRecover Verb = "recover"
)

// Decision is returned by every controller hook. Only the fields relevant
// to Verb are read by the loop.
type Decision struct {
	Verb Verb

	// ModifiedRequest overrides the outbound request when Verb is
	// VerbProceed from a beforeLLMCall controller.
	ModifiedRequest *model.Request

	// Err populates VerbFail.
	Err error

	// Messages populates VerbAppendMessages.
	Messages []*model.Message

	// FallbackText populates VerbRecover for an LLM-call error.
	FallbackText string

	// FallbackResult populates VerbRecover for a gadget execution error.
	FallbackResult *gadget.Result
}

// Proceed is the zero-cost passthrough decision every controller point
// defaults to when no hook intervenes.
func Proceed() Decision { return Decision{Verb: VerbProceed} }

// Continue is Proceed's spelling for after_llm_call/after_gadget_execution
// controllers.
func Continue() Decision { return Decision{Verb: VerbContinue} }

// isPassthrough reports whether d represents "no opinion" for merge
// purposes: VerbProceed/VerbContinue with no side payload.
func (d Decision) isPassthrough() bool {
	return (d.Verb == VerbProceed || d.Verb == VerbContinue) && d.ModifiedRequest == nil
}

type (
	// BeforeLLMCall runs at S1. Controllers may proceed (optionally with a
	// modified request), retry (re-enter S0), skip (treat as empty LLM
	// output), or fail.
	BeforeLLMCall func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision

	// AfterLLMCall runs at S4 on a successful stream. Controllers may
	// continue, append_messages, or retry.
	AfterLLMCall func(ctx context.Context, snap *RunSnapshot, result *LLMResult) Decision

	// AfterLLMError runs at S4 when the stream/provider call failed.
	// Controllers may retry or recover with fallback text.
	AfterLLMError func(ctx context.Context, snap *RunSnapshot, err error) Decision

	// BeforeGadgetExecution runs once per call during S5. Controllers may
	// proceed, skip, or fail.
	BeforeGadgetExecution func(ctx context.Context, snap *RunSnapshot, call *gadget.Call) Decision

	// AfterGadgetExecution runs once per call during S5. Controllers may
	// continue, recover with a fallback result, or retry.
	AfterGadgetExecution func(ctx context.Context, snap *RunSnapshot, result *gadget.Result) Decision
)

// LLMResult summarizes one completed stream_llm step, passed to the
// AfterLLMCall controller and the OnLLMCallComplete observer.
type LLMResult struct {
	Text       string
	Calls      []*gadget.Call
	Usage      model.TokenUsage
	StopReason string
}

// RunSnapshot is a read-only view of the run state available to
// controller and observer hooks.
type RunSnapshot struct {
	RunID         string
	Iteration     int
	MaxIterations int
	CumulativeUSD float64
	BudgetUSD     *float64
}

type (
	// OnIterationStart/End fire around each loop iteration.
	OnIterationStart func(ctx context.Context, snap *RunSnapshot)
	OnIterationEnd   func(ctx context.Context, snap *RunSnapshot)

	// OnLLMCallStart/Complete fire around S2; err is non-nil on failure.
	OnLLMCallStart    func(ctx context.Context, snap *RunSnapshot, req *model.Request)
	OnLLMCallComplete func(ctx context.Context, snap *RunSnapshot, result *LLMResult, err error)

	// OnGadgetExecutionStart/Complete fire around one gadget dispatch.
	OnGadgetExecutionStart    func(ctx context.Context, snap *RunSnapshot, call *gadget.Call)
	OnGadgetExecutionComplete func(ctx context.Context, snap *RunSnapshot, result *gadget.Result)
)

type (
	// InterceptTextChunk transforms one text delta. Must be deterministic
	// and side-effect free; it runs on the hot path for every chunk.
	InterceptTextChunk func(chunk string) string

	// InterceptGadgetResult transforms a gadget result before it is
	// appended to history.
	InterceptGadgetResult func(result *gadget.Result) *gadget.Result
)

// Set is one bundle of hook handlers — a preset, or a caller's ad hoc
// registration. Any field may be nil. Multiple Sets compose via NewDispatcher.
type Set struct {
	OnIterationStart          OnIterationStart
	OnIterationEnd            OnIterationEnd
	OnLLMCallStart            OnLLMCallStart
	OnLLMCallComplete         OnLLMCallComplete
	OnGadgetExecutionStart    OnGadgetExecutionStart
	OnGadgetExecutionComplete OnGadgetExecutionComplete

	InterceptTextChunk    InterceptTextChunk
	InterceptGadgetResult InterceptGadgetResult

	BeforeLLMCall         BeforeLLMCall
	AfterLLMCall          AfterLLMCall
	AfterLLMError         AfterLLMError
	BeforeGadgetExecution BeforeGadgetExecution
	AfterGadgetExecution  AfterGadgetExecution
}
