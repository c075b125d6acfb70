package loop

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gadgetrun/agentcore/conversation"
	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
)

// Subagents maps an agent name to the Orchestrator/base-request pair a
// spawn_agent-style gadget invokes, adapted from the teacher's
// agent-as-tool feature away from child-workflow routing to a direct
// in-process child Run.
type Subagents map[string]SubagentConfig

// SubagentConfig is one named child agent a gadget may spawn.
type SubagentConfig struct {
	Orchestrator *Orchestrator
	Request      *model.Request
	SystemPrompt string
}

// WithSubagents installs the named child agents a spawn_agent-style
// gadget's ExecutionContext.SpawnAgent can start, and wires the
// resulting spawner into the Executor built by New.
func WithSubagents(subagents Subagents) Option {
	return func(o *Orchestrator) { o.subagents = subagents }
}

// spawner builds the gadget.AgentSpawner the Executor invokes on behalf
// of a gadget that requests ExecutionContext.SpawnAgent. The child run
// gets its own execution tree: gadget.AgentSpawner carries no parent-node
// parameter, and the spawner returns only the child's final text, so the
// child's cost and token usage are not added to the parent run's tree or
// budget.
func (o *Orchestrator) spawner() gadget.AgentSpawner {
	if len(o.subagents) == 0 {
		return nil
	}
	return func(ctx context.Context, agentName, input string) (string, error) {
		cfg, ok := o.subagents[agentName]
		if !ok {
			return "", fmt.Errorf("loop: no subagent registered for %q", agentName)
		}
		base := []*model.Message{}
		if cfg.SystemPrompt != "" {
			base = append(base, model.NewTextMessage(model.RoleSystem, cfg.SystemPrompt))
		}
		conv := conversation.New(base...)
		conv.Append(model.NewTextMessage(model.RoleUser, input))

		result, err := cfg.Orchestrator.Run(ctx, RunInput{
			RunID:        agentName + "-" + uuid.NewString(),
			Conversation: conv,
			Request:      cfg.Request,
		}, nil)
		if err != nil {
			return "", err
		}
		return result.FinalText, nil
	}
}
