package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/approval"
	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/tree"
)

func registryWith(t *testing.T, d *gadget.Descriptor) *gadget.Registry {
	t.Helper()
	r := gadget.NewRegistry()
	require.NoError(t, r.Register(d))
	return r
}

func TestDispatchSuccessfulCallReturnsCompletedResult(t *testing.T) {
	r := registryWith(t, &gadget.Descriptor{
		Name: "echo",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.Result("ok"), nil
		},
	})
	e := New(r)

	results := e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
		{InvocationID: "inv-1", Name: "echo"},
	})

	require.Len(t, results, 1)
	require.Equal(t, gadget.StateCompleted, results[0].State)
	require.Contains(t, results[0].Payload, "ok")
}

func TestDispatchUnknownGadgetFails(t *testing.T) {
	r := gadget.NewRegistry()
	e := New(r)

	results := e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
		{InvocationID: "inv-1", Name: "missing"},
	})

	require.Equal(t, gadget.StateFailed, results[0].State)
	require.NotNil(t, results[0].RetryHint)
	require.Equal(t, gadget.RetryReasonGadgetUnavailable, results[0].RetryHint.Reason)
}

func TestDispatchSchemaValidationFailure(t *testing.T) {
	r := registryWith(t, &gadget.Descriptor{
		Name: "needs_city",
		Params: &gadget.Schema{
			Kind:     gadget.KindObject,
			Fields:   map[string]*gadget.Schema{"city": {Kind: gadget.KindString}},
			Required: []string{"city"},
		},
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.Result("unreachable"), nil
		},
	})
	e := New(r)

	results := e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
		{InvocationID: "inv-1", Name: "needs_city", Parameters: map[string]any{}},
	})

	require.Equal(t, gadget.StateFailed, results[0].State)
	require.Equal(t, gadget.RetryReasonInvalidArguments, results[0].RetryHint.Reason)
}

func TestDispatchApprovalDeniedShortCircuitsExecution(t *testing.T) {
	executed := false
	r := registryWith(t, &gadget.Descriptor{
		Name: "dangerous",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			executed = true
			return gadget.Result("should not run"), nil
		},
	})
	gate := approval.New(approval.Policy{"*": approval.ModeDeny}, nil)
	e := New(r, WithApprovalGate(gate))

	results := e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
		{InvocationID: "inv-1", Name: "dangerous"},
	})

	require.Equal(t, gadget.StateApprovalDenied, results[0].State)
	require.False(t, executed)
}

func TestDispatchPerGadgetConcurrencyIsSerializedAcrossBatch(t *testing.T) {
	var running int32
	var maxObserved int32
	r := registryWith(t, &gadget.Descriptor{
		Name:          "serial",
		MaxConcurrent: 1,
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return gadget.Result("done"), nil
		},
	})
	e := New(r)

	calls := make([]*gadget.Call, 5)
	for i := range calls {
		calls[i] = &gadget.Call{InvocationID: "inv", Name: "serial"}
	}

	results := e.Dispatch(context.Background(), "run-1", nil, "", calls)

	require.Len(t, results, 5)
	for _, res := range results {
		require.Equal(t, gadget.StateCompleted, res.State)
	}
	require.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(1))
}

func TestDispatchTimeoutEnforced(t *testing.T) {
	r := registryWith(t, &gadget.Descriptor{
		Name:    "slow",
		Timeout: 5 * time.Millisecond,
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			select {
			case <-time.After(time.Second):
				return gadget.Result("too slow"), nil
			case <-ctx.Done():
				return gadget.Outcome{}, ctx.Err()
			}
		},
	})
	e := New(r)

	results := e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
		{InvocationID: "inv-1", Name: "slow"},
	})

	require.Equal(t, gadget.StateTimedOut, results[0].State)
}

func TestDispatchRecoversFromPanickingGadget(t *testing.T) {
	r := registryWith(t, &gadget.Descriptor{
		Name: "panics",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			panic("boom")
		},
	})
	e := New(r)

	var results []*gadget.Result
	require.NotPanics(t, func() {
		results = e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
			{InvocationID: "inv-1", Name: "panics"},
		})
	})

	require.Equal(t, gadget.StateFailed, results[0].State)
	require.Contains(t, results[0].Payload, "panicked")
}

func TestDispatchOutcomeVariantsMapToExpectedStates(t *testing.T) {
	cases := []struct {
		name    string
		outcome gadget.Outcome
		want    gadget.TerminalState
	}{
		{"result", gadget.Result("ok"), gadget.StateCompleted},
		{"task_complete", gadget.TaskComplete("done"), gadget.StateCompleted},
		{"human_input", gadget.HumanInputRequired("which one?"), gadget.StateCompleted},
		{"abort", gadget.Abort(errors.New("gave up")), gadget.StateAborted},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := registryWith(t, &gadget.Descriptor{
				Name: tc.name,
				Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
					return tc.outcome, nil
				},
			})
			e := New(r)

			results := e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
				{InvocationID: "inv-1", Name: tc.name},
			})

			require.Equal(t, tc.want, results[0].State)
		})
	}
}

func TestDispatchBatchPreservesOrderAndRecordsTreeNodes(t *testing.T) {
	r := registryWith(t, &gadget.Descriptor{
		Name: "identity",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.Result(params["n"].(string)), nil
		},
	})
	e := New(r)
	tr := tree.New()
	root := tr.StartLLMCall("")

	calls := []*gadget.Call{
		{InvocationID: "1", Name: "identity", Parameters: map[string]any{"n": "a"}},
		{InvocationID: "2", Name: "identity", Parameters: map[string]any{"n": "b"}},
		{InvocationID: "3", Name: "identity", Parameters: map[string]any{"n": "c"}},
	}

	results := e.Dispatch(context.Background(), "run-1", tr, root, calls)

	require.Len(t, results, 3)
	require.Contains(t, results[0].Payload, "a")
	require.Contains(t, results[1].Payload, "b")
	require.Contains(t, results[2].Payload, "c")
	require.Len(t, tr.Children(root), 3)
}

func TestDispatchRequireApprovalConsultsApprover(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	approver := func(ctx context.Context, req approval.Request) (approval.Decision, error) {
		mu.Lock()
		seen[req.GadgetName] = true
		mu.Unlock()
		return approval.Decision{Approved: true}, nil
	}
	r := registryWith(t, &gadget.Descriptor{
		Name: "needs_approval",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.Result("ok"), nil
		},
	})
	gate := approval.New(approval.Policy{"*": approval.ModeRequireApproval}, approver)
	e := New(r, WithApprovalGate(gate))

	results := e.Dispatch(context.Background(), "run-1", nil, "", []*gadget.Call{
		{InvocationID: "inv-1", Name: "needs_approval"},
	})

	require.Equal(t, gadget.StateCompleted, results[0].State)
	require.True(t, seen["needs_approval"])
}
