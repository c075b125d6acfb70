package hooks

import (
	"context"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
)

// Dispatcher merges a fixed list of Sets, registered in order, and exposes
// one call per lifecycle point implementing §4.4's merge semantics:
// observers all fire (exceptions/panics are caught and logged, never
// affecting the loop); interceptors apply as a functional composition in
// registration order; controllers chain until the first non-passthrough
// Decision, ties broken by registration order.
type Dispatcher struct {
	sets   []Set
	logger gadget.Logger
}

// NewDispatcher builds a Dispatcher over sets, applied in the given order.
func NewDispatcher(logger gadget.Logger, sets ...Set) *Dispatcher {
	return &Dispatcher{sets: sets, logger: logger}
}

// DispatchOnIterationStart invokes every registered OnIterationStart
// observer.
func (d *Dispatcher) DispatchOnIterationStart(ctx context.Context, snap *RunSnapshot) {
	for _, s := range d.sets {
		if s.OnIterationStart != nil {
			d.safeObserve(ctx, "on_iteration_start", func() { s.OnIterationStart(ctx, snap) })
		}
	}
}

// DispatchOnIterationEnd invokes every registered OnIterationEnd observer.
func (d *Dispatcher) DispatchOnIterationEnd(ctx context.Context, snap *RunSnapshot) {
	for _, s := range d.sets {
		if s.OnIterationEnd != nil {
			d.safeObserve(ctx, "on_iteration_end", func() { s.OnIterationEnd(ctx, snap) })
		}
	}
}

// DispatchOnLLMCallStart invokes every registered OnLLMCallStart observer.
func (d *Dispatcher) DispatchOnLLMCallStart(ctx context.Context, snap *RunSnapshot, req *model.Request) {
	for _, s := range d.sets {
		if s.OnLLMCallStart != nil {
			d.safeObserve(ctx, "on_llm_call_start", func() { s.OnLLMCallStart(ctx, snap, req) })
		}
	}
}

// DispatchOnLLMCallComplete invokes every registered OnLLMCallComplete
// observer.
func (d *Dispatcher) DispatchOnLLMCallComplete(ctx context.Context, snap *RunSnapshot, result *LLMResult, err error) {
	for _, s := range d.sets {
		if s.OnLLMCallComplete != nil {
			d.safeObserve(ctx, "on_llm_call_complete", func() { s.OnLLMCallComplete(ctx, snap, result, err) })
		}
	}
}

// DispatchOnGadgetExecutionStart invokes every registered observer.
func (d *Dispatcher) DispatchOnGadgetExecutionStart(ctx context.Context, snap *RunSnapshot, call *gadget.Call) {
	for _, s := range d.sets {
		if s.OnGadgetExecutionStart != nil {
			d.safeObserve(ctx, "on_gadget_execution_start", func() { s.OnGadgetExecutionStart(ctx, snap, call) })
		}
	}
}

// DispatchOnGadgetExecutionComplete invokes every registered observer.
func (d *Dispatcher) DispatchOnGadgetExecutionComplete(ctx context.Context, snap *RunSnapshot, result *gadget.Result) {
	for _, s := range d.sets {
		if s.OnGadgetExecutionComplete != nil {
			d.safeObserve(ctx, "on_gadget_execution_complete", func() { s.OnGadgetExecutionComplete(ctx, snap, result) })
		}
	}
}

// InterceptTextChunk applies every registered interceptor in registration
// order, each consuming the prior one's output.
func (d *Dispatcher) InterceptTextChunk(chunk string) string {
	for _, s := range d.sets {
		if s.InterceptTextChunk != nil {
			chunk = s.InterceptTextChunk(chunk)
		}
	}
	return chunk
}

// InterceptGadgetResult applies every registered interceptor in
// registration order.
func (d *Dispatcher) InterceptGadgetResult(result *gadget.Result) *gadget.Result {
	for _, s := range d.sets {
		if s.InterceptGadgetResult != nil {
			result = s.InterceptGadgetResult(result)
		}
	}
	return result
}

// DispatchBeforeLLMCall returns the first non-passthrough Decision from a
// registered BeforeLLMCall controller, in registration order, or Proceed
// if every controller passes through (or none is registered).
func (d *Dispatcher) DispatchBeforeLLMCall(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision {
	for _, s := range d.sets {
		if s.BeforeLLMCall == nil {
			continue
		}
		if dec := s.BeforeLLMCall(ctx, snap, req); !dec.isPassthrough() {
			return dec
		}
	}
	return Proceed()
}

// DispatchAfterLLMCall returns the first non-passthrough Decision.
func (d *Dispatcher) DispatchAfterLLMCall(ctx context.Context, snap *RunSnapshot, result *LLMResult) Decision {
	for _, s := range d.sets {
		if s.AfterLLMCall == nil {
			continue
		}
		if dec := s.AfterLLMCall(ctx, snap, result); !dec.isPassthrough() {
			return dec
		}
	}
	return Continue()
}

// DispatchAfterLLMError returns the first non-passthrough Decision.
func (d *Dispatcher) DispatchAfterLLMError(ctx context.Context, snap *RunSnapshot, err error) Decision {
	for _, s := range d.sets {
		if s.AfterLLMError == nil {
			continue
		}
		if dec := s.AfterLLMError(ctx, snap, err); !dec.isPassthrough() {
			return dec
		}
	}
	return Decision{Verb: VerbFail, Err: err}
}

// DispatchBeforeGadgetExecution returns the first non-passthrough
// Decision.
func (d *Dispatcher) DispatchBeforeGadgetExecution(ctx context.Context, snap *RunSnapshot, call *gadget.Call) Decision {
	for _, s := range d.sets {
		if s.BeforeGadgetExecution == nil {
			continue
		}
		if dec := s.BeforeGadgetExecution(ctx, snap, call); !dec.isPassthrough() {
			return dec
		}
	}
	return Proceed()
}

// DispatchAfterGadgetExecution returns the first non-passthrough Decision.
func (d *Dispatcher) DispatchAfterGadgetExecution(ctx context.Context, snap *RunSnapshot, result *gadget.Result) Decision {
	for _, s := range d.sets {
		if s.AfterGadgetExecution == nil {
			continue
		}
		if dec := s.AfterGadgetExecution(ctx, snap, result); !dec.isPassthrough() {
			return dec
		}
	}
	return Continue()
}

// safeObserve runs an observer callback, recovering from panics so a
// misbehaving observer never affects the loop (§4.4).
func (d *Dispatcher) safeObserve(ctx context.Context, point string, fn func()) {
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error(ctx, "hook observer panicked", "point", point, "recover", r)
		}
	}()
	fn()
}
