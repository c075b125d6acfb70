// Package approval implements the gate a gadget call passes through before
// dispatch: resolve which approval mode applies to this gadget name
// (exact name match, wildcard, then a default), and if approval is
// required, render a prompt, consult an interactive decision callback,
// and optionally cache/persist the decision so the user is not asked
// twice for the same gadget within a run.
package approval

import (
	"context"
	"fmt"

	"github.com/gadgetrun/agentcore/gadget"
)

// Mode classifies how a gadget call's approval requirement resolves.
type Mode string

const (
	// ModeAllow executes without prompting.
	ModeAllow Mode = "allow"
	// ModeDeny always rejects the call without prompting.
	ModeDeny Mode = "deny"
	// ModeRequireApproval prompts via the configured Approver before the
	// call is allowed to execute.
	ModeRequireApproval Mode = "require_approval"
)

// Request carries everything an Approver needs to render a decision
// prompt and everything a denied-result renderer needs to synthesize a
// gadget-shaped denial payload.
type Request struct {
	RunID      string
	GadgetName string
	Call       *gadget.Call
	Prompt     string
}

// Decision is the operator's answer to an approval Request.
type Decision struct {
	Approved bool
	// Remember, when true, caches Approved for every subsequent call to
	// the same gadget within this run so the Approver is not consulted
	// again.
	Remember bool
}

// Approver renders a decision for a pending approval request. It is the
// only blocking, human-facing extension point in the gate.
type Approver func(ctx context.Context, req Request) (Decision, error)

// PromptRenderer builds the operator-facing prompt text for a call.
// The default renderer is adequate for most gadgets; gadgets with
// sensitive or destructive effects should supply their own.
type PromptRenderer func(call *gadget.Call) string

// DeniedResultRenderer builds the payload a denied call's gadget.Result
// carries, schema-compatible with what the gadget would have returned on
// success so the planner can treat it uniformly.
type DeniedResultRenderer func(call *gadget.Call) string

func defaultPromptRenderer(call *gadget.Call) string {
	return fmt.Sprintf("Allow gadget %q to run with parameters %v?", call.Name, call.Parameters)
}

func defaultDeniedResultRenderer(call *gadget.Call) string {
	return gadget.ErrorEnvelope(fmt.Sprintf("user denied execution of gadget %q", call.Name))
}

// Policy maps gadget names to an approval Mode, with "*" as the
// wildcard/default fallback consulted when no exact name matches.
// Resolution order: exact name, then "*", then ModeAllow.
type Policy map[string]Mode

// Resolve looks up the Mode for name: exact match, then wildcard, then
// ModeAllow.
func (p Policy) Resolve(name string) Mode {
	if m, ok := p[name]; ok {
		return m
	}
	if m, ok := p["*"]; ok {
		return m
	}
	return ModeAllow
}

// Store persists "remembered" approval decisions across calls within (and
// optionally across) a run. An in-memory Store is the default; Redis-
// backed implementations let the decision survive process restarts.
type Store interface {
	// Get returns the remembered decision for (runID, gadgetName), if any.
	Get(ctx context.Context, runID, gadgetName string) (approved bool, found bool, err error)
	// Set remembers a decision for (runID, gadgetName).
	Set(ctx context.Context, runID, gadgetName string, approved bool) error
}

// Gate decides, per gadget call, whether it may proceed.
type Gate struct {
	policy       Policy
	approver     Approver
	prompt       PromptRenderer
	deniedResult DeniedResultRenderer
	store        Store
}

// Option configures a Gate.
type Option func(*Gate)

// WithPromptRenderer overrides the default prompt text builder.
func WithPromptRenderer(r PromptRenderer) Option {
	return func(g *Gate) { g.prompt = r }
}

// WithDeniedResultRenderer overrides the default denied-result payload
// builder.
func WithDeniedResultRenderer(r DeniedResultRenderer) Option {
	return func(g *Gate) { g.deniedResult = r }
}

// WithStore installs a Store backing "remember my choice" decisions.
// Defaults to an in-process map scoped to the Gate's lifetime.
func WithStore(s Store) Option {
	return func(g *Gate) { g.store = s }
}

// New builds a Gate. approver may be nil only if policy never resolves
// to ModeRequireApproval for any gadget name the Gate is asked about.
func New(policy Policy, approver Approver, opts ...Option) *Gate {
	g := &Gate{
		policy:       policy,
		approver:     approver,
		prompt:       defaultPromptRenderer,
		deniedResult: defaultDeniedResultRenderer,
		store:        NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Outcome is the gate's verdict on one call.
type Outcome struct {
	Allowed bool
	// DeniedPayload is set when Allowed is false; use it to synthesize a
	// gadget.Result with State: gadget.StateApprovalDenied.
	DeniedPayload string
}

// Check resolves name's Mode and, if approval is required, consults the
// Store for a remembered decision before falling back to the Approver.
func (g *Gate) Check(ctx context.Context, runID string, call *gadget.Call) (Outcome, error) {
	switch g.policy.Resolve(call.Name) {
	case ModeAllow:
		return Outcome{Allowed: true}, nil
	case ModeDeny:
		return Outcome{Allowed: false, DeniedPayload: g.deniedResult(call)}, nil
	case ModeRequireApproval:
		return g.checkRequireApproval(ctx, runID, call)
	default:
		return Outcome{Allowed: true}, nil
	}
}

func (g *Gate) checkRequireApproval(ctx context.Context, runID string, call *gadget.Call) (Outcome, error) {
	if g.store != nil {
		if approved, found, err := g.store.Get(ctx, runID, call.Name); err != nil {
			return Outcome{}, err
		} else if found {
			if approved {
				return Outcome{Allowed: true}, nil
			}
			return Outcome{Allowed: false, DeniedPayload: g.deniedResult(call)}, nil
		}
	}
	if g.approver == nil {
		return Outcome{}, fmt.Errorf("approval: gadget %q requires approval but no Approver is configured", call.Name)
	}
	dec, err := g.approver(ctx, Request{RunID: runID, GadgetName: call.Name, Call: call, Prompt: g.prompt(call)})
	if err != nil {
		return Outcome{}, err
	}
	if dec.Remember && g.store != nil {
		if err := g.store.Set(ctx, runID, call.Name, dec.Approved); err != nil {
			return Outcome{}, err
		}
	}
	if !dec.Approved {
		return Outcome{Allowed: false, DeniedPayload: g.deniedResult(call)}, nil
	}
	return Outcome{Allowed: true}, nil
}
