package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/model"
)

func TestManagerMessagesIsBaseThenHistory(t *testing.T) {
	base := model.NewTextMessage(model.RoleSystem, "you are a helpful agent")
	m := New(base)
	m.Append(model.NewTextMessage(model.RoleUser, "hello"))

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, model.RoleSystem, msgs[0].Role)
	require.Equal(t, model.RoleUser, msgs[1].Role)
}

func TestManagerAppendMutatesOnlyHistory(t *testing.T) {
	base := model.NewTextMessage(model.RoleSystem, "sys")
	m := New(base)
	m.Append(model.NewTextMessage(model.RoleUser, "a"))
	m.Append(model.NewTextMessage(model.RoleAssistant, "b"))

	require.Len(t, m.History(), 2)
	require.Len(t, m.Messages(), 3)
}

func TestManagerReplaceHistoryLeavesBaseIntact(t *testing.T) {
	base := model.NewTextMessage(model.RoleSystem, "sys")
	m := New(base)
	m.Append(model.NewTextMessage(model.RoleUser, "a"))
	m.Append(model.NewTextMessage(model.RoleAssistant, "b"))

	summary := model.NewTextMessage(model.RoleSystem, "[summary]")
	m.ReplaceHistory([]*model.Message{summary})

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	require.Same(t, base, msgs[0])
	require.Equal(t, summary, msgs[1])
}

func TestParseTurnsKeepsToolResultWithItsCall(t *testing.T) {
	user := model.NewTextMessage(model.RoleUser, "find the weather")
	assistantCall := &model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolCallPart{InvocationID: "1", Name: "weather"},
	}}
	toolResult := &model.Message{Role: model.RoleUser, Parts: []model.Part{
		model.ToolResultPart{InvocationID: "1", Result: "sunny"},
	}}
	assistantFinal := model.NewTextMessage(model.RoleAssistant, "it's sunny")
	nextUser := model.NewTextMessage(model.RoleUser, "thanks")

	turns := ParseTurns([]*model.Message{user, assistantCall, toolResult, assistantFinal, nextUser})

	require.Len(t, turns, 2)
	require.Len(t, turns[0].Messages, 4, "tool result must stay in the same turn as its call")
	require.Len(t, turns[1].Messages, 1)
}

func TestKeepRecentTurnsTrimsOldestFirst(t *testing.T) {
	var msgs []*model.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, model.NewTextMessage(model.RoleUser, "q"))
		msgs = append(msgs, model.NewTextMessage(model.RoleAssistant, "a"))
	}

	trimmed := KeepRecentTurns(msgs, 2)
	turns := ParseTurns(trimmed)
	require.Len(t, turns, 2)
}

func TestKeepRecentTurnsNoOpWhenWithinBudget(t *testing.T) {
	msgs := []*model.Message{
		model.NewTextMessage(model.RoleUser, "q"),
		model.NewTextMessage(model.RoleAssistant, "a"),
	}
	require.Equal(t, msgs, KeepRecentTurns(msgs, 10))
}
