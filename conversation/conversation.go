// Package conversation manages the message list an agent run operates
// over: an immutable base (system prompt plus any seed messages) and an
// append-only history that grows as the loop runs, with turn-boundary
// awareness so compaction never orphans a tool result from its call.
package conversation

import (
	"sync"

	"github.com/gadgetrun/agentcore/model"
)

// Manager holds one run's conversation: a fixed base and a growing
// history. Messages() always returns base followed by history. Safe for
// concurrent use.
type Manager struct {
	mu      sync.RWMutex
	base    []*model.Message
	history []*model.Message
}

// New builds a Manager with the given immutable base messages (typically
// a system prompt and any seed context). base is copied; later mutation
// of the slice passed in has no effect.
func New(base ...*model.Message) *Manager {
	m := &Manager{base: append([]*model.Message{}, base...)}
	return m
}

// Append adds one or more messages to the end of history.
func (m *Manager) Append(msgs ...*model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, msgs...)
}

// Messages returns base followed by history, as a fresh slice safe for
// the caller to hold onto.
func (m *Manager) Messages() []*model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Message, 0, len(m.base)+len(m.history))
	out = append(out, m.base...)
	out = append(out, m.history...)
	return out
}

// History returns a copy of the append-only portion only, excluding base.
func (m *Manager) History() []*model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Message, len(m.history))
	copy(out, m.history)
	return out
}

// ReplaceHistory swaps the entire history in place, used by a compaction
// strategy to collapse older turns into a summary. base is untouched.
func (m *Manager) ReplaceHistory(msgs []*model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]*model.Message{}, msgs...)
}

// Len returns len(base) + len(history).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.base) + len(m.history)
}

// Turn is a logical conversation unit: a user query and everything that
// follows until the next user query (assistant text, gadget calls, and
// their tool-result continuations). A user message containing only
// ToolResultParts is a continuation of the prior turn, not a new one —
// this keeps a gadget call and its result from ever being split apart.
type Turn struct {
	Messages []*model.Message
}

// ParseTurns groups msgs into Turns.
func ParseTurns(msgs []*model.Message) []Turn {
	if len(msgs) == 0 {
		return nil
	}
	var turns []Turn
	var current Turn
	for _, m := range msgs {
		if m == nil {
			continue
		}
		startsNewTurn := m.Role == model.RoleUser && !isToolResultOnly(m)
		if startsNewTurn {
			if len(current.Messages) > 0 {
				turns = append(turns, current)
			}
			current = Turn{Messages: []*model.Message{m}}
			continue
		}
		current.Messages = append(current.Messages, m)
	}
	if len(current.Messages) > 0 {
		turns = append(turns, current)
	}
	return turns
}

func isToolResultOnly(m *model.Message) bool {
	if m == nil || m.Role != model.RoleUser || len(m.Parts) == 0 {
		return false
	}
	for _, p := range m.Parts {
		if _, ok := p.(model.ToolResultPart); !ok {
			return false
		}
	}
	return true
}

// KeepRecentTurns returns the history messages trimmed to at most the
// last n turns, preserving turn and tool-call/result boundaries. It
// returns msgs unchanged if there are n or fewer turns.
func KeepRecentTurns(msgs []*model.Message, n int) []*model.Message {
	if n <= 0 || len(msgs) == 0 {
		return msgs
	}
	turns := ParseTurns(msgs)
	if len(turns) <= n {
		return msgs
	}
	kept := turns[len(turns)-n:]
	out := make([]*model.Message, 0, len(msgs))
	for _, t := range kept {
		out = append(out, t.Messages...)
	}
	return out
}
