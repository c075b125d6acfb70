package loop

import (
	"context"
	"fmt"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/hooks"
	"github.com/gadgetrun/agentcore/tree"
)

// dispatchGadgets runs S5 dispatch_gadgets: a BeforeGadgetExecution
// controller per call (which may skip or fail it before it ever reaches
// the executor), a batch Dispatch for everything not skipped, and an
// AfterGadgetExecution controller per result (which may recover with a
// fallback result or force a bounded local re-dispatch). The returned
// slice is in the same order as calls.
func (o *Orchestrator) dispatchGadgets(ctx context.Context, runID string, tr *tree.Tree, parentNodeID string, calls []*gadget.Call, snap *hooks.RunSnapshot, events chan<- Event) ([]*gadget.Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	toRun := make([]*gadget.Call, 0, len(calls))
	skipped := make(map[string]*gadget.Result, len(calls))
	for _, call := range calls {
		o.dispatcher.DispatchOnGadgetExecutionStart(ctx, snap, call)
		dec := o.dispatcher.DispatchBeforeGadgetExecution(ctx, snap, call)
		switch dec.Verb {
		case hooks.VerbFail:
			return nil, dec.Err
		case hooks.VerbSkip:
			skipped[call.InvocationID] = &gadget.Result{
				InvocationID: call.InvocationID,
				Name:         call.Name,
				State:        gadget.StateAborted,
				Payload:      gadget.ErrorEnvelope(fmt.Sprintf("gadget %q skipped by hook", call.Name)),
			}
		default:
			toRun = append(toRun, call)
		}
	}

	var dispatched []*gadget.Result
	if len(toRun) > 0 {
		dispatched = o.exec.Dispatch(ctx, runID, tr, parentNodeID, toRun)
	}
	byID := make(map[string]*gadget.Result, len(dispatched))
	for _, r := range dispatched {
		byID[r.InvocationID] = r
	}

	out := make([]*gadget.Result, 0, len(calls))
	for _, call := range calls {
		r, ok := skipped[call.InvocationID]
		if !ok {
			r = byID[call.InvocationID]
		}
		r = o.afterGadgetExecution(ctx, runID, tr, parentNodeID, call, r, snap)
		r = o.dispatcher.InterceptGadgetResult(r)
		emit(ctx, events, Event{Type: EventGadgetResult, Result: r})
		o.dispatcher.DispatchOnGadgetExecutionComplete(ctx, snap, r)
		out = append(out, r)
	}
	return out, nil
}

// afterGadgetExecution applies the AfterGadgetExecution controller,
// honoring a bounded number of VerbRetry re-dispatches for this one call
// before giving up and returning its last result.
func (o *Orchestrator) afterGadgetExecution(ctx context.Context, runID string, tr *tree.Tree, parentNodeID string, call *gadget.Call, r *gadget.Result, snap *hooks.RunSnapshot) *gadget.Result {
	for attempt := 0; attempt < maxGadgetHookRetries; attempt++ {
		dec := o.dispatcher.DispatchAfterGadgetExecution(ctx, snap, r)
		switch dec.Verb {
		case hooks.VerbRecover:
			if dec.FallbackResult != nil {
				return dec.FallbackResult
			}
			return r
		case hooks.VerbRetry:
			results := o.exec.Dispatch(ctx, runID, tr, parentNodeID, []*gadget.Call{call})
			r = results[0]
		default:
			return r
		}
	}
	return r
}
