package hooks

import (
	"context"
	"testing"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
	"github.com/stretchr/testify/require"
)

func TestDispatcherObserversAllFire(t *testing.T) {
	var order []string
	a := Set{OnIterationStart: func(ctx context.Context, snap *RunSnapshot) { order = append(order, "a") }}
	b := Set{OnIterationStart: func(ctx context.Context, snap *RunSnapshot) { order = append(order, "b") }}
	c := Set{OnIterationStart: func(ctx context.Context, snap *RunSnapshot) { order = append(order, "c") }}

	d := NewDispatcher(nil, a, b, c)
	d.DispatchOnIterationStart(context.Background(), &RunSnapshot{RunID: "r1"})

	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDispatcherObserverPanicIsCaughtAndOthersStillFire(t *testing.T) {
	var fired []string
	panicking := Set{OnIterationStart: func(ctx context.Context, snap *RunSnapshot) {
		fired = append(fired, "panicking")
		panic("boom")
	}}
	after := Set{OnIterationStart: func(ctx context.Context, snap *RunSnapshot) { fired = append(fired, "after") }}

	d := NewDispatcher(nil, panicking, after)
	require.NotPanics(t, func() {
		d.DispatchOnIterationStart(context.Background(), &RunSnapshot{RunID: "r1"})
	})
	require.Equal(t, []string{"panicking", "after"}, fired)
}

func TestDispatcherInterceptorsComposeInRegistrationOrder(t *testing.T) {
	upper := Set{InterceptTextChunk: func(s string) string { return s + "[1]" }}
	lower := Set{InterceptTextChunk: func(s string) string { return s + "[2]" }}

	d := NewDispatcher(nil, upper, lower)
	require.Equal(t, "hi[1][2]", d.InterceptTextChunk("hi"))
}

func TestDispatcherControllerFirstNonPassthroughWins(t *testing.T) {
	passthrough := Set{BeforeLLMCall: func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision {
		return Proceed()
	}}
	deciding := Set{BeforeLLMCall: func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision {
		return Decision{Verb: VerbSkip}
	}}
	neverReached := Set{BeforeLLMCall: func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision {
		t.Fatal("should not be reached once a prior controller decided")
		return Proceed()
	}}

	d := NewDispatcher(nil, passthrough, deciding, neverReached)
	dec := d.DispatchBeforeLLMCall(context.Background(), &RunSnapshot{RunID: "r1"}, &model.Request{})

	require.Equal(t, VerbSkip, dec.Verb)
}

func TestDispatcherControllerAllPassthroughDefaultsToProceed(t *testing.T) {
	a := Set{BeforeLLMCall: func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision { return Proceed() }}
	b := Set{BeforeLLMCall: func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision { return Proceed() }}

	d := NewDispatcher(nil, a, b)
	dec := d.DispatchBeforeLLMCall(context.Background(), &RunSnapshot{RunID: "r1"}, &model.Request{})

	require.Equal(t, VerbProceed, dec.Verb)
}

func TestDispatcherNoRegisteredControllerDefaultsPerPoint(t *testing.T) {
	d := NewDispatcher(nil)
	snap := &RunSnapshot{RunID: "r1"}

	require.Equal(t, VerbProceed, d.DispatchBeforeLLMCall(context.Background(), snap, &model.Request{}).Verb)
	require.Equal(t, VerbContinue, d.DispatchAfterLLMCall(context.Background(), snap, &LLMResult{}).Verb)
	require.Equal(t, VerbProceed, d.DispatchBeforeGadgetExecution(context.Background(), snap, &gadget.Call{}).Verb)
	require.Equal(t, VerbContinue, d.DispatchAfterGadgetExecution(context.Background(), snap, &gadget.Result{}).Verb)

	dec := d.DispatchAfterLLMError(context.Background(), snap, assertErr{})
	require.Equal(t, VerbFail, dec.Verb)
	require.Error(t, dec.Err)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
