package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/conversation"
	"github.com/gadgetrun/agentcore/model"
)

type fakeClient struct {
	summary string
	calls   int
}

func (f *fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	f.calls++
	return &model.Response{Message: model.NewTextMessage(model.RoleAssistant, f.summary)}, nil
}
func (f *fakeClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}
func (f *fakeClient) CountTokens(ctx context.Context, req *model.Request) (int, error) {
	return 0, model.ErrTokenCountingUnsupported
}

func buildTurns(n int) []*model.Message {
	var msgs []*model.Message
	for i := 0; i < n; i++ {
		msgs = append(msgs, model.NewTextMessage(model.RoleUser, "question"))
		msgs = append(msgs, model.NewTextMessage(model.RoleAssistant, "answer"))
	}
	return msgs
}

func TestTurnCountTriggerFiresAtThreshold(t *testing.T) {
	trigger := TurnCountTrigger(5)
	require.False(t, trigger(buildTurns(4)))
	require.True(t, trigger(buildTurns(5)))
	require.True(t, trigger(buildTurns(6)))
}

func TestSummarizeStrategyKeepsRecentTurnsAndReplacesTheRest(t *testing.T) {
	client := &fakeClient{summary: "the user asked five questions"}
	strategy := SummarizeStrategy(client, 2)

	history := buildTurns(5)
	out, err := strategy(context.Background(), history)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls)

	turns := conversation.ParseTurns(out)
	// 1 summary message (system) + 2 kept turns.
	require.Equal(t, model.RoleSystem, out[0].Role)
	require.Contains(t, out[0].Text(), "the user asked five questions")
	require.Len(t, turns, 3, "summary message itself parses as its own turn, plus the 2 kept turns")
}

func TestSummarizeStrategyNoOpBelowKeepRecent(t *testing.T) {
	client := &fakeClient{summary: "unused"}
	strategy := SummarizeStrategy(client, 10)

	history := buildTurns(3)
	out, err := strategy(context.Background(), history)
	require.NoError(t, err)
	require.Equal(t, 0, client.calls)
	require.Equal(t, history, out)
}

func TestMaybeSkipsWhenTriggerDoesNotFire(t *testing.T) {
	client := &fakeClient{summary: "s"}
	strategy := SummarizeStrategy(client, 1)
	trigger := TurnCountTrigger(100)

	history := buildTurns(3)
	out, err := Maybe(context.Background(), history, trigger, strategy)
	require.NoError(t, err)
	require.Equal(t, 0, client.calls)
	require.Equal(t, history, out)
}

func TestMaybeRunsStrategyWhenTriggerFires(t *testing.T) {
	client := &fakeClient{summary: "compacted"}
	strategy := SummarizeStrategy(client, 1)
	trigger := TurnCountTrigger(2)

	history := buildTurns(3)
	out, err := Maybe(context.Background(), history, trigger, strategy)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls)
	require.NotEqual(t, history, out)
}
