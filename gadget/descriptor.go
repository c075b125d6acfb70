package gadget

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ExecutionContext is passed to every Execute closure. It carries the
// run's cancellation, a logger, a cost-reporting callback, the enclosing
// execution-tree node id, and a factory for spawning child agent runs
// (subagent-style gadgets). The factory is an interface rather than a
// direct dependency on the loop package, breaking the cyclic import
// between the loop and gadgets that spawn inner loops.
type ExecutionContext struct {
	context.Context

	InvocationID string
	RunID        string
	ParentNodeID string

	Logger Logger

	// ReportCost attaches additional USD cost to the run beyond what the
	// returned Outcome already carries. Safe for concurrent use.
	ReportCost func(usd float64)

	// SpawnAgent starts a child agent run and blocks until it completes,
	// returning its final assistant text. Nil unless the host wired a
	// subagent factory for this gadget.
	SpawnAgent AgentSpawner
}

// AgentSpawner starts a child agent run for the named sub-agent and
// returns its final text output once the run completes.
type AgentSpawner func(ctx context.Context, agentName string, input string) (string, error)

// Logger is the minimal structured logging surface gadgets and the
// executor consult. A no-op implementation is the default.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Execute is the pure behavior closure a gadget runs. It is a closure over
// injected dependencies rather than a method on stateful receiver, so a
// Descriptor stays stateless metadata.
type Execute func(ctx *ExecutionContext, params map[string]any) (Outcome, error)

// Descriptor declares a gadget: its identity, parameter schema, resource
// policy, and behavior. A Descriptor is immutable once registered.
type Descriptor struct {
	// Name uniquely identifies the gadget within a Registry.
	Name string
	// Description is shown to the model to decide when to invoke this
	// gadget.
	Description string
	// Params describes the parameter object shape.
	Params *Schema
	// Timeout caps one invocation's execution time. Zero means "use the
	// runtime default".
	Timeout time.Duration
	// MaxConcurrent bounds concurrent invocations of this gadget: 0 =
	// unlimited, 1 = serialized (per-name, across the whole batch and
	// across iterations), N>1 = semaphore-gated.
	MaxConcurrent int
	// Examples are static usage examples surfaced to the model.
	Examples []string

	// Execute is the gadget's behavior.
	Execute Execute
}

// Registry holds a fixed set of gadget descriptors, looked up by name.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Descriptor
	sems  map[string]chan struct{}
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Descriptor), sems: make(map[string]chan struct{})}
}

// Register adds a descriptor. It is an error to register the same name
// twice.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("gadget: descriptor must have a non-empty name")
	}
	if d.Execute == nil {
		return fmt.Errorf("gadget: descriptor %q missing Execute", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[d.Name]; exists {
		return fmt.Errorf("gadget: %q already registered", d.Name)
	}
	r.specs[d.Name] = d
	if d.MaxConcurrent > 0 {
		r.sems[d.Name] = make(chan struct{}, d.MaxConcurrent)
	}
	return nil
}

// Lookup finds a descriptor by name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.specs[name]
	return d, ok
}

// All returns every registered descriptor, in registration order is not
// guaranteed (map iteration).
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.specs))
	for _, d := range r.specs {
		out = append(out, d)
	}
	return out
}

// Semaphore returns the shared concurrency gate for a gadget name, or nil
// if it has MaxConcurrent == 0 (unbounded). The same channel instance is
// returned for every call with the same name so serialization holds across
// both a single batch and across loop iterations, per §4.2.
func (r *Registry) Semaphore(name string) chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sems[name]
}
