package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/telemetry"
)

// Logging returns a Set of observers that log every lifecycle transition
// at the appropriate level: iteration boundaries and successful calls at
// info, LLM/gadget failures at warn.
func Logging(logger telemetry.Logger) Set {
	return Set{
		OnIterationStart: func(ctx context.Context, snap *RunSnapshot) {
			logger.Info(ctx, "iteration start", "run_id", snap.RunID, "iteration", snap.Iteration)
		},
		OnIterationEnd: func(ctx context.Context, snap *RunSnapshot) {
			logger.Info(ctx, "iteration end", "run_id", snap.RunID, "iteration", snap.Iteration)
		},
		OnLLMCallStart: func(ctx context.Context, snap *RunSnapshot, req *model.Request) {
			logger.Info(ctx, "llm call start", "run_id", snap.RunID, "model", req.Model)
		},
		OnLLMCallComplete: func(ctx context.Context, snap *RunSnapshot, result *LLMResult, err error) {
			if err != nil {
				logger.Warn(ctx, "llm call failed", "run_id", snap.RunID, "error", err)
				return
			}
			logger.Info(ctx, "llm call complete", "run_id", snap.RunID,
				"calls", len(result.Calls), "stop_reason", result.StopReason)
		},
		OnGadgetExecutionStart: func(ctx context.Context, snap *RunSnapshot, call *gadget.Call) {
			logger.Info(ctx, "gadget execution start", "run_id", snap.RunID, "gadget", call.Name)
		},
		OnGadgetExecutionComplete: func(ctx context.Context, snap *RunSnapshot, result *gadget.Result) {
			if result.State != gadget.StateCompleted {
				logger.Warn(ctx, "gadget execution ended", "run_id", snap.RunID,
					"gadget", result.Name, "state", result.State)
				return
			}
			logger.Info(ctx, "gadget execution complete", "run_id", snap.RunID, "gadget", result.Name)
		},
	}
}

// Timing returns a Set that records LLM call and gadget execution latency
// as timer metrics, tagged by run id (and gadget name for gadget timers).
// LLM call latency is measured from OnLLMCallStart to OnLLMCallComplete
// for the same run; gadget latency is taken from the Result's Elapsed.
func Timing(metrics telemetry.Metrics) Set {
	type startKey struct {
		run  string
		name string
	}
	var mu sync.Mutex
	starts := make(map[startKey]time.Time)

	return Set{
		OnLLMCallStart: func(ctx context.Context, snap *RunSnapshot, req *model.Request) {
			mu.Lock()
			starts[startKey{snap.RunID, "llm"}] = time.Now()
			mu.Unlock()
		},
		OnLLMCallComplete: func(ctx context.Context, snap *RunSnapshot, result *LLMResult, err error) {
			mu.Lock()
			start, ok := starts[startKey{snap.RunID, "llm"}]
			delete(starts, startKey{snap.RunID, "llm"})
			mu.Unlock()
			if !ok {
				return
			}
			metrics.RecordTimer("agent.llm_call.duration", time.Since(start), "run_id", snap.RunID)
		},
		OnGadgetExecutionComplete: func(ctx context.Context, snap *RunSnapshot, result *gadget.Result) {
			metrics.RecordTimer("agent.gadget_call.duration", result.Elapsed,
				"run_id", snap.RunID, "gadget", result.Name)
		},
	}
}

// TokenTracking returns a Set that accumulates token-usage and cost
// counters per run as gauges/counters on metrics.
func TokenTracking(metrics telemetry.Metrics) Set {
	return Set{
		OnLLMCallComplete: func(ctx context.Context, snap *RunSnapshot, result *LLMResult, err error) {
			if err != nil || result == nil {
				return
			}
			metrics.IncCounter("agent.tokens.input", float64(result.Usage.InputTokens), "run_id", snap.RunID)
			metrics.IncCounter("agent.tokens.output", float64(result.Usage.OutputTokens), "run_id", snap.RunID)
			if result.Usage.CacheReadTokens > 0 {
				metrics.IncCounter("agent.tokens.cache_read", float64(result.Usage.CacheReadTokens), "run_id", snap.RunID)
			}
		},
		OnGadgetExecutionComplete: func(ctx context.Context, snap *RunSnapshot, result *gadget.Result) {
			if result.CostUSD > 0 {
				metrics.IncCounter("agent.cost_usd", result.CostUSD, "run_id", snap.RunID, "gadget", result.Name)
			}
		},
	}
}

const systemReminderTemplate = "<system-reminder>\n%s\n</system-reminder>"

// appendReminder returns a shallow copy of req with text appended as a new
// user-role message carrying the reminder text, wrapped the way the
// teacher's reminder package tags backstage guidance for planners.
func appendReminder(req *model.Request, text string) *model.Request {
	cp := *req
	cp.Messages = append(append([]*model.Message{}, req.Messages...),
		model.NewTextMessage(model.RoleUser, fmt.Sprintf(systemReminderTemplate, text)))
	return &cp
}

// IterationProgressHint nudges the planner once a run has burned through a
// configurable fraction of its iteration budget, generalizing the
// teacher's reminder engine (priority tier, per-run cap, minimum turn
// spacing) down to this single guidance-tier hint.
func IterationProgressHint(warnAtFraction float64, maxPerRun int) Set {
	if warnAtFraction <= 0 {
		warnAtFraction = 0.75
	}
	engine := newHintEngine(hint{
		id:        "iteration_progress",
		tier:      hintTierGuidance,
		maxPerRun: maxPerRun,
	})
	return Set{
		BeforeLLMCall: func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision {
			if snap.MaxIterations <= 0 {
				return Proceed()
			}
			used := float64(snap.Iteration) / float64(snap.MaxIterations)
			if used < warnAtFraction {
				return Proceed()
			}
			text := fmt.Sprintf(
				"This run has used %d of %d iterations. Wrap up and produce a final answer soon, or call the completion gadget if the task is already done.",
				snap.Iteration, snap.MaxIterations)
			due := engine.due(snap.RunID, snap.Iteration)
			if len(due) == 0 {
				return Proceed()
			}
			return Decision{Verb: VerbProceed, ModifiedRequest: appendReminder(req, text)}
		},
		OnIterationEnd: func(ctx context.Context, snap *RunSnapshot) {
			if snap.MaxIterations > 0 && snap.Iteration >= snap.MaxIterations {
				engine.clear(snap.RunID)
			}
		},
	}
}

// ParallelGadgetHint nudges the planner to batch independent gadget calls
// into a single turn when it has been issuing them one at a time,
// generalizing the teacher's reminder engine's rate-limited guidance tier.
func ParallelGadgetHint(minTurnsBetween int) Set {
	engine := newHintEngine(hint{
		id:              "parallel_gadgets",
		tier:            hintTierGuidance,
		minTurnsBetween: minTurnsBetween,
	})
	var mu sync.Mutex
	lastSingleCall := make(map[string]bool)

	return Set{
		OnLLMCallComplete: func(ctx context.Context, snap *RunSnapshot, result *LLMResult, err error) {
			if err != nil || result == nil {
				return
			}
			mu.Lock()
			lastSingleCall[snap.RunID] = len(result.Calls) == 1
			mu.Unlock()
		},
		BeforeLLMCall: func(ctx context.Context, snap *RunSnapshot, req *model.Request) Decision {
			mu.Lock()
			single := lastSingleCall[snap.RunID]
			mu.Unlock()
			if !single {
				return Proceed()
			}
			due := engine.due(snap.RunID, snap.Iteration)
			if len(due) == 0 {
				return Proceed()
			}
			text := "If your next step involves multiple independent gadget calls, issue them together in one turn instead of one at a time — they will run concurrently."
			return Decision{Verb: VerbProceed, ModifiedRequest: appendReminder(req, text)}
		},
		OnIterationEnd: func(ctx context.Context, snap *RunSnapshot) {
			if snap.MaxIterations > 0 && snap.Iteration >= snap.MaxIterations {
				engine.clear(snap.RunID)
				mu.Lock()
				delete(lastSingleCall, snap.RunID)
				mu.Unlock()
			}
		},
	}
}
