// Package loop implements the agent execution core's central state
// machine: each call to Run drives one conversation through repeated
// iterations of preparing messages, calling the model, parsing its
// output, dispatching any gadget calls it requested, and deciding
// whether to terminate or loop back for another turn.
package loop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gadgetrun/agentcore/approval"
	"github.com/gadgetrun/agentcore/compaction"
	"github.com/gadgetrun/agentcore/conversation"
	"github.com/gadgetrun/agentcore/executor"
	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/hooks"
	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/stream"
	"github.com/gadgetrun/agentcore/telemetry"
	"github.com/gadgetrun/agentcore/tree"
)

// maxGadgetHookRetries bounds how many times a single gadget call may be
// re-dispatched in response to a VerbRetry AfterGadgetExecution decision,
// guarding against a misbehaving hook looping the run forever.
const maxGadgetHookRetries = 3

// Orchestrator runs the S0-S7 agent loop over a fixed model client and
// gadget registry. Build one with New and reuse it across runs; all
// per-run state lives in RunInput and the Orchestrator's internal call.
type Orchestrator struct {
	client   model.Client
	registry *gadget.Registry
	exec     *executor.Executor
	dispatcher *hooks.Dispatcher

	hookSets     []hooks.Set
	approvalGate *approval.Gate
	logger       telemetry.Logger
	tracer       telemetry.Tracer
	cfg          Config
	subagents    Subagents
}

// New builds an Orchestrator. client and registry are required; every
// other dependency is optional and defaults to a no-op/zero-value
// behavior via the With* Options.
func New(client model.Client, registry *gadget.Registry, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidConfig)
	}

	o := &Orchestrator{client: client, registry: registry, cfg: defaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("%w: MaxIterations must be positive", ErrInvalidConfig)
	}

	o.dispatcher = hooks.NewDispatcher(o.logger, o.hookSets...)

	execOpts := []executor.Option{}
	if o.approvalGate != nil {
		execOpts = append(execOpts, executor.WithApprovalGate(o.approvalGate))
	}
	if o.logger != nil {
		execOpts = append(execOpts, executor.WithLogger(o.logger))
	}
	if o.tracer != nil {
		execOpts = append(execOpts, executor.WithTracer(o.tracer))
	}
	if o.cfg.DefaultGadgetTimeout > 0 {
		execOpts = append(execOpts, executor.WithDefaultTimeout(o.cfg.DefaultGadgetTimeout))
	}
	if spawn := o.spawner(); spawn != nil {
		execOpts = append(execOpts, executor.WithAgentSpawner(spawn))
	}
	o.exec = executor.New(registry, execOpts...)

	return o, nil
}

// RunInput is everything one call to Run needs beyond the Orchestrator's
// fixed configuration.
type RunInput struct {
	// RunID identifies this run across the execution tree, approval
	// store, and rate limiter.
	RunID string
	// Conversation holds the base + history the loop reads from and
	// appends to. Required.
	Conversation *conversation.Manager
	// Request carries the fixed sampling parameters (model, temperature,
	// tools, thinking, cache) reused every iteration; its Messages and
	// Stream fields are overwritten by the loop each turn.
	Request *model.Request
	// Tree is the execution tree this run's nodes are recorded into. A
	// fresh Tree is created if nil.
	Tree *tree.Tree
	// ParentNodeID parents this run's nodes under an enclosing node,
	// used when Run is invoked to service a spawn-agent gadget call.
	ParentNodeID string
}

// llmOutput is the internal accumulation of one stream_llm/parse_events
// pass: hookResult feeds the AfterLLMCall controller and observer, while
// parts preserves the exact text/gadget-call interleaving for the
// assistant history message built in append_results.
type llmOutput struct {
	hookResult *hooks.LLMResult
	parts      []model.Part
}

// Run drives input's conversation through the S0-S7 loop until a
// termination rule fires, blocking until the run ends. If events is
// non-nil, Run sends every lifecycle event to it and closes it exactly
// once before returning; callers that want to observe a run live should
// invoke Run from its own goroutine and range over events concurrently.
func (o *Orchestrator) Run(ctx context.Context, in RunInput, events chan<- Event) (*Result, error) {
	if events != nil {
		defer close(events)
	}
	if in.Conversation == nil {
		err := fmt.Errorf("%w: Conversation is required", ErrInvalidConfig)
		return &Result{State: StateFailed, Err: err}, err
	}
	if in.Request == nil {
		err := fmt.Errorf("%w: Request is required", ErrInvalidConfig)
		return &Result{State: StateFailed, Err: err}, err
	}

	tr := in.Tree
	if tr == nil {
		tr = tree.New()
	}
	conv := in.Conversation
	var totalUsage model.TokenUsage
	var lastText string

	for iteration := 0; ; iteration++ {
		snap := &hooks.RunSnapshot{
			RunID:         in.RunID,
			Iteration:     iteration,
			MaxIterations: o.cfg.MaxIterations,
			CumulativeUSD: tr.TotalCostUSD(),
			BudgetUSD:     o.cfg.BudgetUSD,
		}
		o.dispatcher.DispatchOnIterationStart(ctx, snap)
		emit(ctx, events, Event{Type: EventIterationStart, Iteration: iteration, MaxIterations: o.cfg.MaxIterations})

		if ctx.Err() != nil {
			return o.finish(ctx, events, StateCancelled, lastText, totalUsage, tr, iteration, ctx.Err())
		}

		iterCtx := ctx
		var iterSpan telemetry.Span
		if o.tracer != nil {
			iterCtx, iterSpan = o.tracer.Start(ctx, "loop.iteration")
		}
		out, terminal, err := o.runIteration(iterCtx, in, conv, tr, snap, events)
		if iterSpan != nil {
			iterSpan.End()
		}
		if err != nil {
			return o.fail(ctx, events, totalUsage, tr, iteration, err)
		}
		if out != nil && out.hookResult.Text != "" {
			lastText = out.hookResult.Text
		}
		if out != nil {
			totalUsage = accumulate(totalUsage, out.hookResult.Usage)
		}

		o.dispatcher.DispatchOnIterationEnd(ctx, snap)
		emit(ctx, events, Event{Type: EventIterationEnd, Iteration: iteration})

		if terminal != nil {
			terminal.usage = totalUsage
			terminal.iteration = iteration
			return o.finishTerminal(ctx, events, tr, terminal)
		}

		if iteration+1 >= o.cfg.MaxIterations {
			return o.finish(ctx, events, StateIterationsExhausted, lastText, totalUsage, tr, iteration, nil)
		}
	}
}

// terminalSignal carries the S7 decision out of runIteration so Run can
// apply iteration/usage bookkeeping uniformly before returning.
type terminalSignal struct {
	state     TerminationState
	text      string
	question  string
	usage     model.TokenUsage
	iteration int
}

// runIteration executes one pass of S0 through S6 and evaluates every S7
// rule except iteration-exhaustion, which Run checks itself since it
// alone tracks the loop bound. A non-nil terminalSignal return means the
// run should stop after this iteration; a nil one means loop back to S0.
func (o *Orchestrator) runIteration(ctx context.Context, in RunInput, conv *conversation.Manager, tr *tree.Tree, snap *hooks.RunSnapshot, events chan<- Event) (*llmOutput, *terminalSignal, error) {
	for {
		// S0: prepare_messages.
		history := conv.History()
		newHistory, cErr := compaction.Maybe(ctx, history, o.cfg.CompactionTrigger, o.cfg.CompactionStrategy)
		if cErr != nil {
			if o.logger != nil {
				o.logger.Warn(ctx, "compaction strategy failed", "err", cErr)
			}
		} else {
			conv.ReplaceHistory(newHistory)
		}

		messages := conv.Messages()
		if o.cfg.TrailingMessage != nil {
			if text := o.cfg.TrailingMessage(snap.Iteration, snap.MaxIterations); text != "" {
				messages = append(messages, model.NewTextMessage(model.RoleUser, text))
			}
		}
		req := o.buildRequest(in.Request, in.RunID, messages)

		// S1: before_llm_call.
		dec := o.dispatcher.DispatchBeforeLLMCall(ctx, snap, req)
		switch dec.Verb {
		case hooks.VerbFail:
			return nil, nil, dec.Err
		case hooks.VerbRetry:
			continue
		case hooks.VerbSkip:
			out := &llmOutput{hookResult: &hooks.LLMResult{}}
			return o.afterLLM(ctx, in, conv, tr, snap, events, out)
		default:
			if dec.ModifiedRequest != nil {
				req = dec.ModifiedRequest
			}
		}

		// S2 + S3: stream_llm, parse_events.
		out, streamErr := o.streamAndParse(ctx, in.RunID, tr, in.ParentNodeID, req, events, snap)
		if streamErr != nil {
			errDec := o.dispatcher.DispatchAfterLLMError(ctx, snap, streamErr)
			switch errDec.Verb {
			case hooks.VerbRetry:
				continue
			case hooks.VerbRecover:
				out = &llmOutput{hookResult: &hooks.LLMResult{Text: errDec.FallbackText}}
				if errDec.FallbackText != "" {
					out.parts = []model.Part{model.TextPart{Text: errDec.FallbackText}}
				}
			default:
				failErr := errDec.Err
				if failErr == nil {
					failErr = streamErr
				}
				return nil, nil, failErr
			}
			return o.afterLLM(ctx, in, conv, tr, snap, events, out)
		}

		// S4: after_llm_call.
		afterDec := o.dispatcher.DispatchAfterLLMCall(ctx, snap, out.hookResult)
		switch afterDec.Verb {
		case hooks.VerbRetry:
			continue
		case hooks.VerbFail:
			return nil, nil, afterDec.Err
		case hooks.VerbAppendMessages:
			conv.Append(afterDec.Messages...)
		}

		return o.afterLLM(ctx, in, conv, tr, snap, events, out)
	}
}

// afterLLM runs S5 dispatch_gadgets, S6 append_results, and every S7 rule
// except iteration-exhaustion, given a completed (or hook-synthesized)
// llmOutput.
func (o *Orchestrator) afterLLM(ctx context.Context, in RunInput, conv *conversation.Manager, tr *tree.Tree, snap *hooks.RunSnapshot, events chan<- Event, out *llmOutput) (*llmOutput, *terminalSignal, error) {
	results, err := o.dispatchGadgets(ctx, in.RunID, tr, in.ParentNodeID, out.hookResult.Calls, snap, events)
	if err != nil {
		return nil, nil, err
	}

	o.appendResults(conv, out, results)

	if ctx.Err() != nil {
		return out, &terminalSignal{state: StateCancelled, text: out.hookResult.Text}, nil
	}
	for _, r := range results {
		switch r.Signal {
		case gadget.SignalTaskComplete:
			return out, &terminalSignal{state: StateCompletedBySignal, text: extractEnvelopeData(r.Payload)}, nil
		case gadget.SignalHumanInputRequired:
			return out, &terminalSignal{state: StateAwaitingInput, question: extractEnvelopeData(r.Payload)}, nil
		}
	}
	if o.cfg.BudgetUSD != nil && tr.TotalCostUSD() >= *o.cfg.BudgetUSD {
		return out, &terminalSignal{state: StateBudgetExhausted, text: out.hookResult.Text}, nil
	}
	if len(out.hookResult.Calls) == 0 {
		return out, &terminalSignal{state: StateFinished, text: out.hookResult.Text}, nil
	}
	return out, nil, nil
}

func (o *Orchestrator) buildRequest(base *model.Request, runID string, messages []*model.Message) *model.Request {
	return &model.Request{
		RunID:       runID,
		Model:       base.Model,
		ModelClass:  base.ModelClass,
		Messages:    messages,
		Temperature: base.Temperature,
		MaxTokens:   base.MaxTokens,
		Tools:       base.Tools,
		ToolChoice:  base.ToolChoice,
		Stream:      true,
		Thinking:    base.Thinking,
		Cache:       base.Cache,
	}
}

// appendResults builds the assistant message (preserving the exact
// text/gadget-call interleaving stream_llm produced) and, if any calls
// were dispatched, the following tool-result message. Media outputs are
// persisted to the configured store and referenced by opaque id rather
// than entering history as raw bytes.
func (o *Orchestrator) appendResults(conv *conversation.Manager, out *llmOutput, results []*gadget.Result) {
	if len(out.parts) > 0 {
		conv.Append(&model.Message{Role: model.RoleAssistant, Parts: out.parts})
	}
	if len(results) == 0 {
		return
	}
	resultParts := make([]model.Part, 0, len(results))
	for _, r := range results {
		resultParts = append(resultParts, model.ToolResultPart{
			InvocationID: r.InvocationID,
			Result:       o.renderResultText(r),
			IsError:      r.State != gadget.StateCompleted,
		})
	}
	conv.Append(&model.Message{Role: model.RoleUser, Parts: resultParts})
}

// renderResultText persists any media a result carries and folds the
// issued ids into the payload text, so raw bytes never enter history.
func (o *Orchestrator) renderResultText(r *gadget.Result) string {
	if len(r.Media) == 0 || o.cfg.MediaStore == nil {
		return r.Payload
	}
	ids := make([]string, 0, len(r.Media))
	for _, m := range r.Media {
		id, err := o.cfg.MediaStore.Put(r.Name, m.MediaType, m.Bytes)
		if err != nil {
			if o.logger != nil {
				o.logger.Error(context.Background(), "mediastore put failed", "gadget", r.Name, "err", err)
			}
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return r.Payload
	}
	return attachMediaRefs(r.Payload, ids)
}

func attachMediaRefs(payload string, ids []string) string {
	var env map[string]any
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env == nil {
		env = map[string]any{"data": payload}
	}
	env["media_ids"] = ids
	b, err := json.Marshal(env)
	if err != nil {
		return payload
	}
	return string(b)
}

func extractEnvelopeData(payload string) string {
	var env struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return payload
	}
	return env.Data
}

func accumulate(total, delta model.TokenUsage) model.TokenUsage {
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.TotalTokens += delta.TotalTokens
	total.CacheReadTokens += delta.CacheReadTokens
	total.CacheWriteTokens += delta.CacheWriteTokens
	total.ReasoningTokens += delta.ReasoningTokens
	return total
}

func marshalParams(params map[string]any) json.RawMessage {
	b, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func parseParams(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func emit(ctx context.Context, events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) fail(ctx context.Context, events chan<- Event, usage model.TokenUsage, tr *tree.Tree, iteration int, err error) (*Result, error) {
	emit(ctx, events, Event{Type: EventFinish, FinishState: StateFailed, Err: err})
	return &Result{State: StateFailed, Usage: usage, CostUSD: tr.TotalCostUSD(), Iterations: iteration, Err: err}, err
}

func (o *Orchestrator) finish(ctx context.Context, events chan<- Event, state TerminationState, text string, usage model.TokenUsage, tr *tree.Tree, iteration int, err error) (*Result, error) {
	emit(ctx, events, Event{Type: EventFinish, FinishState: state, Err: err})
	return &Result{State: state, FinalText: text, Usage: usage, CostUSD: tr.TotalCostUSD(), Iterations: iteration + 1, Err: err}, err
}

func (o *Orchestrator) finishTerminal(ctx context.Context, events chan<- Event, tr *tree.Tree, t *terminalSignal) (*Result, error) {
	emit(ctx, events, Event{Type: EventFinish, FinishState: t.state})
	return &Result{
		State:      t.state,
		FinalText:  t.text,
		Question:   t.question,
		Usage:      t.usage,
		CostUSD:    tr.TotalCostUSD(),
		Iterations: t.iteration + 1,
	}, nil
}

