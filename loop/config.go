package loop

import (
	"errors"
	"time"

	"github.com/gadgetrun/agentcore/approval"
	"github.com/gadgetrun/agentcore/compaction"
	"github.com/gadgetrun/agentcore/hooks"
	"github.com/gadgetrun/agentcore/mediastore"
	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/ratelimit"
	"github.com/gadgetrun/agentcore/retry"
	"github.com/gadgetrun/agentcore/stream"
	"github.com/gadgetrun/agentcore/telemetry"
)

// ErrInvalidConfig is returned by New when the Orchestrator's required
// dependencies are missing or nonsensical.
var ErrInvalidConfig = errors.New("loop: invalid configuration")

// TrailingMessage renders an ephemeral user message appended after S0's
// base++history composition, for the current iteration only; it is never
// persisted to conversation history. A nil TrailingMessage means no
// trailing message is injected.
type TrailingMessage func(iteration, maxIterations int) string

// Pricer converts a model call's token usage into a USD cost, charged
// against the run's budget and the execution tree. A nil Pricer means LLM
// calls are free (only gadget-reported costs count against the budget).
type Pricer func(modelID string, usage model.TokenUsage) float64

// Config holds an Orchestrator's tunable run parameters, built up via
// With* options passed to New.
type Config struct {
	MaxIterations        int
	BudgetUSD            *float64
	DefaultGadgetTimeout time.Duration

	TrailingMessage TrailingMessage

	CompactionTrigger  compaction.Trigger
	CompactionStrategy compaction.Strategy

	RetryConfig retry.Config
	RateLimiter *ratelimit.Limiter

	MediaStore mediastore.Store
	Pricer     Pricer

	Markers      stream.Markers
	SchemaLookup stream.SchemaLookup
}

func defaultConfig() Config {
	return Config{
		MaxIterations: 25,
		RetryConfig:   retry.DefaultConfig(),
		Markers:       stream.DefaultMarkers,
	}
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithMaxIterations caps the number of loop iterations (S7 rule 5).
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) { o.cfg.MaxIterations = n }
}

// WithBudgetUSD sets the cumulative-cost ceiling that triggers
// budget-exhausted termination (S7 rule 3).
func WithBudgetUSD(usd float64) Option {
	return func(o *Orchestrator) { o.cfg.BudgetUSD = &usd }
}

// WithDefaultGadgetTimeout sets the fallback per-call timeout used when a
// gadget's own Descriptor.Timeout is zero.
func WithDefaultGadgetTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.cfg.DefaultGadgetTimeout = d }
}

// WithTrailingMessage installs a static trailing-message string, appended
// unchanged every iteration.
func WithTrailingMessage(text string) Option {
	return func(o *Orchestrator) {
		o.cfg.TrailingMessage = func(int, int) string { return text }
	}
}

// WithTrailingMessageFunc installs a trailing-message function evaluated
// fresh each iteration against {iteration, maxIterations}.
func WithTrailingMessageFunc(fn TrailingMessage) Option {
	return func(o *Orchestrator) { o.cfg.TrailingMessage = fn }
}

// WithCompaction installs the trigger/strategy pair consulted at the start
// of every iteration's S0 step.
func WithCompaction(trigger compaction.Trigger, strategy compaction.Strategy) Option {
	return func(o *Orchestrator) {
		o.cfg.CompactionTrigger = trigger
		o.cfg.CompactionStrategy = strategy
	}
}

// WithRetryConfig overrides the default retry envelope wrapping each
// provider call.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *Orchestrator) { o.cfg.RetryConfig = cfg }
}

// WithRateLimiter installs proactive pacing ahead of every provider call.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(o *Orchestrator) { o.cfg.RateLimiter = l }
}

// WithApprovalGate installs the gate consulted before each gadget
// dispatch.
func WithApprovalGate(g *approval.Gate) Option {
	return func(o *Orchestrator) { o.approvalGate = g }
}

// WithMediaStore installs the store gadget media outputs are persisted to
// during S6 append_results.
func WithMediaStore(s mediastore.Store) Option {
	return func(o *Orchestrator) { o.cfg.MediaStore = s }
}

// WithPricer installs the USD-per-call pricing function for LLM usage.
func WithPricer(p Pricer) Option {
	return func(o *Orchestrator) { o.cfg.Pricer = p }
}

// WithMarkers overrides the default gadget-call marker set the stream
// parser recognizes.
func WithMarkers(m stream.Markers) Option {
	return func(o *Orchestrator) { o.cfg.Markers = m }
}

// WithSchemaLookup installs the gadget-schema resolver the stream parser
// uses to direct block-form coercion.
func WithSchemaLookup(lookup stream.SchemaLookup) Option {
	return func(o *Orchestrator) { o.cfg.SchemaLookup = lookup }
}

// WithHooks registers one or more hook Sets, applied in the given order
// per §4.4's merge semantics.
func WithHooks(sets ...hooks.Set) Option {
	return func(o *Orchestrator) { o.hookSets = append(o.hookSets, sets...) }
}

// WithLogger installs the structured logger used by the loop, the hook
// dispatcher, and the executor.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer installs the tracer spans are opened against for each
// iteration, LLM call, and gadget dispatch.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}
