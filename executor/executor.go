// Package executor dispatches a batch of parsed gadget calls: validating
// parameters against each gadget's schema, consulting the approval gate,
// throttling concurrency (globally across the batch, and per gadget name
// via the registry's serialization semaphore), enforcing per-call
// timeouts, and converting each gadget's Outcome into a terminal Result.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gadgetrun/agentcore/approval"
	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/telemetry"
	"github.com/gadgetrun/agentcore/tree"
)

// maxParallelDispatch bounds how many gadget calls from one batch run
// concurrently, independent of any per-gadget-name semaphore.
const maxParallelDispatch = 8

// Executor dispatches gadget calls against a fixed Registry.
type Executor struct {
	registry       *gadget.Registry
	approvalGate   *approval.Gate
	logger         telemetry.Logger
	tracer         telemetry.Tracer
	defaultTimeout time.Duration
	agentSpawner   gadget.AgentSpawner

	validatorsMu sync.Mutex
	validators   map[string]*gadget.Validator
}

// Option configures an Executor.
type Option func(*Executor)

// WithApprovalGate installs an approval gate consulted before every call.
// Without one, every call proceeds unconditionally.
func WithApprovalGate(g *approval.Gate) Option {
	return func(e *Executor) { e.approvalGate = g }
}

// WithLogger installs a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer installs a tracer; each call gets its own span.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithDefaultTimeout sets the timeout applied to calls whose Descriptor
// leaves Timeout unset. Zero means no default (calls run unbounded
// unless the descriptor itself sets one).
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithAgentSpawner installs the factory subagent-style gadgets use to
// start and block on a child agent run. Without one, ExecutionContext.
// SpawnAgent is nil and such gadgets must fail gracefully.
func WithAgentSpawner(spawn gadget.AgentSpawner) Option {
	return func(e *Executor) { e.agentSpawner = spawn }
}

// New builds an Executor over registry.
func New(registry *gadget.Registry, opts ...Option) *Executor {
	e := &Executor{registry: registry, validators: make(map[string]*gadget.Validator)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch runs every call in the batch, respecting concurrency limits,
// and returns one Result per call in the same order as calls. tr and
// parentNodeID are optional; when tr is non-nil each call is recorded as
// a node under parentNodeID.
func (e *Executor) Dispatch(ctx context.Context, runID string, tr *tree.Tree, parentNodeID string, calls []*gadget.Call) []*gadget.Result {
	if len(calls) == 1 {
		return []*gadget.Result{e.dispatchOne(ctx, runID, tr, parentNodeID, calls[0])}
	}

	results := make([]*gadget.Result, len(calls))
	workCh := make(chan int, len(calls))
	for i := range calls {
		workCh <- i
	}
	close(workCh)

	numWorkers := maxParallelDispatch
	if len(calls) < numWorkers {
		numWorkers = len(calls)
	}
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range workCh {
				if ctx.Err() != nil {
					results[idx] = &gadget.Result{
						InvocationID: calls[idx].InvocationID,
						Name:         calls[idx].Name,
						Payload:      gadget.ErrorEnvelope(ctx.Err().Error()),
						State:        gadget.StateAborted,
					}
					continue
				}
				results[idx] = e.dispatchOne(ctx, runID, tr, parentNodeID, calls[idx])
			}
		}()
	}
	wg.Wait()
	return results
}

func (e *Executor) dispatchOne(ctx context.Context, runID string, tr *tree.Tree, parentNodeID string, call *gadget.Call) *gadget.Result {
	start := time.Now()
	var nodeID string
	if tr != nil {
		nodeID = tr.StartGadgetCall(parentNodeID, call.Name)
	}

	if e.tracer != nil {
		var span telemetry.Span
		ctx, span = e.tracer.Start(ctx, "gadget."+call.Name)
		defer span.End()
	}

	result := e.run(ctx, runID, nodeID, call)
	result.Elapsed = time.Since(start)

	if tr != nil {
		tr.CompleteGadgetCall(nodeID, result.CostUSD, result.Media, resultErr(result))
	}
	if e.logger != nil {
		e.logger.Info(ctx, "gadget dispatched", "gadget", call.Name, "state", result.State, "elapsed", result.Elapsed)
	}
	return result
}

func resultErr(r *gadget.Result) error {
	if r.State == gadget.StateCompleted {
		return nil
	}
	return fmt.Errorf("gadget %s ended in state %s", r.Name, r.State)
}

// run validates, approves, throttles, and executes a single call,
// recovering from a panicking Execute closure the way a misbehaving
// gadget's bug should never take down the whole batch.
func (e *Executor) run(ctx context.Context, runID, nodeID string, call *gadget.Call) (result *gadget.Result) {
	result = &gadget.Result{InvocationID: call.InvocationID, Name: call.Name}

	descriptor, ok := e.registry.Lookup(call.Name)
	if !ok {
		gerr := gadget.Errorf("gadget %q is not registered", call.Name)
		result.State = gadget.StateFailed
		result.Payload = gadget.ErrorEnvelope(gerr.Error())
		result.RetryHint = &gadget.RetryHint{Reason: gadget.RetryReasonGadgetUnavailable, Message: result.Payload}
		return result
	}

	if descriptor.Params != nil {
		if vErr := e.validateParams(descriptor, call.Parameters); vErr != nil {
			gerr := gadget.FromError(vErr)
			result.State = gadget.StateFailed
			result.Payload = gadget.ErrorEnvelope(gerr.Error())
			result.RetryHint = &gadget.RetryHint{
				Reason:        gadget.RetryReasonInvalidArguments,
				MissingFields: fieldPaths(vErr),
				Message:       gerr.Error(),
			}
			return result
		}
	}

	if e.approvalGate != nil {
		outcome, err := e.approvalGate.Check(ctx, runID, call)
		if err != nil {
			gerr := gadget.NewWithCause(fmt.Sprintf("gadget %q approval check failed", call.Name), err)
			result.State = gadget.StateFailed
			result.Payload = gadget.ErrorEnvelope(gerr.Error())
			return result
		}
		if !outcome.Allowed {
			result.State = gadget.StateApprovalDenied
			result.Payload = outcome.DeniedPayload
			return result
		}
	}

	if sem := e.registry.Semaphore(call.Name); sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			gerr := gadget.NewWithCause(fmt.Sprintf("gadget %q aborted waiting for its concurrency slot", call.Name), ctx.Err())
			result.State = gadget.StateAborted
			result.Payload = gadget.ErrorEnvelope(gerr.Error())
			return result
		}
	}

	timeout := descriptor.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}
	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return e.execute(execCtx, runID, nodeID, descriptor, call)
}

func (e *Executor) execute(ctx context.Context, runID, nodeID string, descriptor *gadget.Descriptor, call *gadget.Call) (result *gadget.Result) {
	result = &gadget.Result{InvocationID: call.InvocationID, Name: call.Name}

	defer func() {
		if p := recover(); p != nil {
			gerr := gadget.Errorf("gadget %q panicked: %v", call.Name, p)
			result.State = gadget.StateFailed
			result.Payload = gadget.ErrorEnvelope(gerr.Error())
		}
	}()

	var (
		costMu sync.Mutex
		cost   float64
	)
	reportCost := func(usd float64) {
		costMu.Lock()
		cost += usd
		costMu.Unlock()
	}
	execCtx := &gadget.ExecutionContext{
		Context:      ctx,
		InvocationID: call.InvocationID,
		RunID:        runID,
		ParentNodeID: nodeID,
		Logger:       e.gadgetLogger(),
		ReportCost:   reportCost,
		SpawnAgent:   e.agentSpawner,
	}

	outcome, err := descriptor.Execute(execCtx, call.Parameters)
	if ctx.Err() != nil {
		gerr := gadget.NewWithCause(fmt.Sprintf("gadget %q timed out", call.Name), ctx.Err())
		result.State = gadget.StateTimedOut
		result.Payload = gadget.ErrorEnvelope(gerr.Error())
		result.RetryHint = &gadget.RetryHint{Reason: gadget.RetryReasonTimeout, Message: gerr.Error()}
		return result
	}
	if err != nil {
		gerr := gadget.NewWithCause(fmt.Sprintf("gadget %q failed", call.Name), err)
		result.State = gadget.StateFailed
		result.Payload = gadget.ErrorEnvelope(gerr.Error())
		return result
	}

	costMu.Lock()
	result.CostUSD = cost
	costMu.Unlock()
	return e.applyOutcome(result, outcome)
}

func (e *Executor) applyOutcome(result *gadget.Result, outcome gadget.Outcome) *gadget.Result {
	switch {
	case outcome.IsResult():
		result.State = gadget.StateCompleted
		result.Payload = gadget.SuccessEnvelope(outcome.Result)
		result.Media = outcome.Media
		result.CostUSD += outcome.Cost
	case outcome.IsTaskComplete():
		result.State = gadget.StateCompleted
		result.Signal = gadget.SignalTaskComplete
		result.Payload = gadget.SuccessEnvelope(outcome.Message)
	case outcome.IsHumanInputRequired():
		result.State = gadget.StateCompleted
		result.Signal = gadget.SignalHumanInputRequired
		result.Payload = gadget.SuccessEnvelope(outcome.Question)
	case outcome.IsAbort():
		result.State = gadget.StateAborted
		msg := "aborted"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		result.Payload = gadget.ErrorEnvelope(msg)
	default:
		result.State = gadget.StateFailed
		result.Payload = gadget.ErrorEnvelope("gadget returned an unrecognized outcome")
	}
	return result
}

func (e *Executor) validateParams(descriptor *gadget.Descriptor, params map[string]any) error {
	v, err := e.validatorFor(descriptor)
	if err != nil {
		return err
	}
	if issues := v.Validate(params); len(issues) > 0 {
		return &gadget.ValidationError{Issues: issues}
	}
	return nil
}

func (e *Executor) validatorFor(descriptor *gadget.Descriptor) (*gadget.Validator, error) {
	e.validatorsMu.Lock()
	defer e.validatorsMu.Unlock()
	if v, ok := e.validators[descriptor.Name]; ok {
		return v, nil
	}
	v, err := gadget.CompileValidator(descriptor.Name, descriptor.Params)
	if err != nil {
		return nil, err
	}
	e.validators[descriptor.Name] = v
	return v, nil
}

// gadgetLogger adapts the executor's telemetry.Logger into the gadget
// package's structurally identical Logger interface for ExecutionContext,
// falling back to a no-op when none was configured.
func (e *Executor) gadgetLogger() gadget.Logger {
	if e.logger == nil {
		return noopLogger{}
	}
	return e.logger
}

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, kv ...any) {}
func (noopLogger) Info(ctx context.Context, msg string, kv ...any)  {}
func (noopLogger) Warn(ctx context.Context, msg string, kv ...any)  {}
func (noopLogger) Error(ctx context.Context, msg string, kv ...any) {}

func fieldPaths(err error) []string {
	ve, ok := err.(*gadget.ValidationError)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ve.Issues))
	for _, iss := range ve.Issues {
		out = append(out, iss.Path)
	}
	return out
}
