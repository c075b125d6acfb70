// Package temporal runs the agent loop as a Temporal workflow, giving a
// run durable execution: the workflow survives worker restarts and network
// failures by replaying recorded history, while the non-deterministic work
// (model calls, gadget execution) happens inside a single activity that the
// workflow invokes and, on StateAwaitingInput, waits to resume via a signal.
//
// Workflow determinism rules apply to AgentWorkflow: it only schedules
// activities and waits on signals/timers, never calls the model or gadget
// registry directly. RunAgentActivity, which does that work, runs under
// normal Go semantics and may retry per its ActivityOptions.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/gadgetrun/agentcore/loop"
)

// HumanInputSignal is the name of the Temporal signal AgentWorkflow waits
// on after a run reaches loop.StateAwaitingInput.
const HumanInputSignal = "agentcore.human_input"

// runAgentActivityName is the registered activity name AgentWorkflow
// schedules by. The activity is bound to a specific *loop.Orchestrator at
// registration time, so the workflow references it by name rather than by
// method value.
const runAgentActivityName = "RunAgentActivity"

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is an optional pre-configured Temporal client. If nil, New
	// builds a lazy client from ClientOptions.
	Client client.Client
	// ClientOptions constructs the client when Client is nil. Required in
	// that case.
	ClientOptions *client.Options
	// TaskQueue is the queue workers poll and workflows/activities are
	// dispatched on. Required.
	TaskQueue string
	// WorkerOptions is forwarded to worker.New.
	WorkerOptions worker.Options
	// DisableWorkerAutoStart disables automatically starting the worker on
	// the first StartRun call; callers then control Worker().Start().
	DisableWorkerAutoStart bool
}

// Engine owns a Temporal client and worker bundle for running agent loops
// as durable workflows.
type Engine struct {
	client      client.Client
	closeClient bool
	queue       string
	workerOpts  worker.Options

	mu                sync.Mutex
	worker            worker.Worker
	started           bool
	autoStartDisabled bool
}

// New constructs a Temporal engine adapter. Either Client or ClientOptions
// must be provided, and TaskQueue is always required.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		var err error
		cli, err = client.NewLazyClient(*opts.ClientOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}
	e := &Engine{
		client:            cli,
		closeClient:       closeClient,
		queue:             opts.TaskQueue,
		workerOpts:        opts.WorkerOptions,
		autoStartDisabled: opts.DisableWorkerAutoStart,
	}
	e.worker = worker.New(e.client, e.queue, e.workerOpts)
	return e, nil
}

// RegisterAgent registers AgentWorkflow and the activity that drives the
// given orchestrator. Call this once per orchestrator configuration before
// starting runs.
func (e *Engine) RegisterAgent(orch *loop.Orchestrator) {
	act := &agentActivity{orch: orch}
	e.worker.RegisterWorkflow(AgentWorkflow)
	e.worker.RegisterActivityWithOptions(act.RunAgentActivity, activity.RegisterOptions{
		Name: runAgentActivityName,
	})
}

// StartRun launches a new agent run as a Temporal workflow and returns a
// handle for awaiting its result or delivering a human-input signal.
func (e *Engine) StartRun(ctx context.Context, input AgentRunInput) (RunHandle, error) {
	if !e.autoStartDisabled {
		e.ensureWorkerStarted()
	}
	workflowID := input.RunID
	if workflowID == "" {
		return nil, fmt.Errorf("temporal engine: RunID is required")
	}
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: e.queue,
	}, AgentWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow: %w", err)
	}
	return &runHandle{run: run, client: e.client}, nil
}

// Worker returns a controller for manually starting/stopping the worker,
// used when DisableWorkerAutoStart is set.
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close shuts down the Temporal client if this engine created it.
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Engine) ensureWorkerStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go func() {
		_ = e.worker.Run(worker.InterruptCh())
	}()
}

// WorkerController manages the worker's start/stop lifecycle.
type WorkerController struct {
	engine *Engine
}

// Start launches the worker if it has not already started.
func (c *WorkerController) Start() {
	c.engine.ensureWorkerStarted()
}

// Stop gracefully stops the worker.
func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if !c.engine.started {
		return
	}
	c.engine.worker.Stop()
}

// RunHandle lets a caller await a started run's result or deliver a
// human-input reply while the run is parked in StateAwaitingInput.
type RunHandle interface {
	// Wait blocks until the workflow completes and decodes its result.
	Wait(ctx context.Context) (*AgentRunResult, error)
	// SignalHumanInput delivers a human reply to a run parked awaiting
	// input, resuming the loop with the reply appended to the
	// conversation.
	SignalHumanInput(ctx context.Context, reply string) error
	// Cancel requests cancellation of the run.
	Cancel(ctx context.Context) error
}

type runHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *runHandle) Wait(ctx context.Context) (*AgentRunResult, error) {
	var res AgentRunResult
	if err := h.run.Get(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (h *runHandle) SignalHumanInput(ctx context.Context, reply string) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), HumanInputSignal, HumanInputReply{Text: reply})
}

func (h *runHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
