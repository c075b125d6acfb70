package loop

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/conversation"
	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/hooks"
	"github.com/gadgetrun/agentcore/model"
)

// chunkStreamer replays a fixed sequence of chunks, for tests that need
// precise control over what stream_llm sees.
type chunkStreamer struct {
	chunks []model.Chunk
	idx    int
}

func newChunkStreamer(chunks ...model.Chunk) model.Streamer { return &chunkStreamer{chunks: chunks} }

func (s *chunkStreamer) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}
func (s *chunkStreamer) Close() error             { return nil }
func (s *chunkStreamer) Metadata() map[string]any { return nil }

// scriptedClient hands out one scripted streamer (or error) per call to
// Stream, in order, and records every request it saw.
type scriptedClient struct {
	mu      sync.Mutex
	scripts []func(req *model.Request) (model.Streamer, error)
	seen    []*model.Request
}

func textChunks(text string) []model.Chunk {
	return []model.Chunk{
		{Type: model.ChunkTypeText, Text: text},
		{Type: model.ChunkTypeStop, StopReason: "end_turn"},
	}
}

func (c *scriptedClient) enqueue(fn func(req *model.Request) (model.Streamer, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append(c.scripts, fn)
}

func (c *scriptedClient) enqueueText(text string) {
	c.enqueue(func(*model.Request) (model.Streamer, error) {
		return newChunkStreamer(textChunks(text)...), nil
	})
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	c.mu.Lock()
	c.seen = append(c.seen, req)
	if len(c.scripts) == 0 {
		c.mu.Unlock()
		return nil, errors.New("scriptedClient: script exhausted")
	}
	fn := c.scripts[0]
	c.scripts = c.scripts[1:]
	c.mu.Unlock()
	return fn(req)
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *scriptedClient) CountTokens(ctx context.Context, req *model.Request) (int, error) {
	return 0, model.ErrTokenCountingUnsupported
}

func newRegistry(t *testing.T, descriptors ...*gadget.Descriptor) *gadget.Registry {
	t.Helper()
	reg := gadget.NewRegistry()
	for _, d := range descriptors {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func baseRequest() *model.Request {
	return &model.Request{Model: "test-model", MaxTokens: 100}
}

func newConv() *conversation.Manager {
	return conversation.New(model.NewTextMessage(model.RoleSystem, "you are a test agent"))
}

func TestRunFinishesWithNoGadgetCalls(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText("all done, no gadgets needed")

	reg := newRegistry(t)
	orch, err := New(client, reg)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunInput{
		RunID:        "run-1",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StateFinished, result.State)
	require.Equal(t, "all done, no gadgets needed", result.FinalText)
	require.Equal(t, 1, result.Iterations)
}

func echoDescriptor() *gadget.Descriptor {
	return &gadget.Descriptor{
		Name: "echo",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.Result("echoed"), nil
		},
	}
}

func gadgetCallText(name, body string) string {
	return "<<<GADGET:" + name + ">>>" + body + "<<<END_GADGET>>>"
}

func TestRunCompletesOnTaskCompleteSignal(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText(gadgetCallText("finish_task", `{"message":"the task is done"}`))

	finishTask := &gadget.Descriptor{
		Name: "finish_task",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.TaskComplete(params["message"].(string)), nil
		},
	}
	reg := newRegistry(t, finishTask)
	orch, err := New(client, reg)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunInput{
		RunID:        "run-2",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompletedBySignal, result.State)
	require.Equal(t, "the task is done", result.FinalText)
}

func TestRunAwaitsHumanInput(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText(gadgetCallText("ask_human", `{"question":"which file?"}`))

	askHuman := &gadget.Descriptor{
		Name: "ask_human",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.HumanInputRequired(params["question"].(string)), nil
		},
	}
	reg := newRegistry(t, askHuman)
	orch, err := New(client, reg)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunInput{
		RunID:        "run-3",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingInput, result.State)
	require.Equal(t, "which file?", result.Question)
}

func TestRunBudgetExhausted(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText(gadgetCallText("echo", `{"text":"go"}`))
	client.enqueueText(gadgetCallText("echo", `{"text":"go again"}`))

	costly := &gadget.Descriptor{
		Name: "echo",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.ResultWithCost("echoed", 1.0), nil
		},
	}
	reg := newRegistry(t, costly)
	budget := 0.5
	orch, err := New(client, reg, WithBudgetUSD(budget), WithMaxIterations(10))
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunInput{
		RunID:        "run-4",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StateBudgetExhausted, result.State)
	require.Equal(t, 1, result.Iterations)
}

func TestRunIterationsExhausted(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText(gadgetCallText("echo", `{"text":"go"}`))

	reg := newRegistry(t, echoDescriptor())
	orch, err := New(client, reg, WithMaxIterations(1))
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunInput{
		RunID:        "run-5",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StateIterationsExhausted, result.State)
	require.Equal(t, 1, result.Iterations)
}

func TestRunCancelledBeforeFirstIteration(t *testing.T) {
	client := &scriptedClient{}
	reg := newRegistry(t)
	orch, err := New(client, reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.Run(ctx, RunInput{
		RunID:        "run-6",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateCancelled, result.State)
}

func TestBeforeGadgetExecutionSkipSynthesizesAbortedResult(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText(gadgetCallText("echo", `{"text":"go"}`))

	var executed bool
	descriptor := &gadget.Descriptor{
		Name: "echo",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			executed = true
			return gadget.Result("should not run"), nil
		},
	}
	reg := newRegistry(t, descriptor)

	set := hooks.Set{
		BeforeGadgetExecution: func(ctx context.Context, snap *hooks.RunSnapshot, call *gadget.Call) hooks.Decision {
			return hooks.Decision{Verb: hooks.VerbSkip}
		},
	}
	orch, err := New(client, reg, WithHooks(set), WithMaxIterations(1))
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunInput{
		RunID:        "run-7",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)
	require.False(t, executed)
	require.Equal(t, StateIterationsExhausted, result.State)
}

func TestAfterGadgetExecutionRecoverSubstitutesFallback(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText(gadgetCallText("flaky", `{}`))

	flaky := &gadget.Descriptor{
		Name: "flaky",
		Execute: func(ctx *gadget.ExecutionContext, params map[string]any) (gadget.Outcome, error) {
			return gadget.Outcome{}, errors.New("boom")
		},
	}
	reg := newRegistry(t, flaky)

	fallback := &gadget.Result{Name: "flaky", State: gadget.StateCompleted, Payload: gadget.SuccessEnvelope("recovered")}
	set := hooks.Set{
		AfterGadgetExecution: func(ctx context.Context, snap *hooks.RunSnapshot, result *gadget.Result) hooks.Decision {
			if result.State == gadget.StateFailed {
				return hooks.Decision{Verb: hooks.VerbRecover, FallbackResult: fallback}
			}
			return hooks.Continue()
		},
	}
	orch, err := New(client, reg, WithHooks(set), WithMaxIterations(1))
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunInput{
		RunID:        "run-8",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StateIterationsExhausted, result.State)
}

func TestTrailingMessageInjectedEachIteration(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText("done")

	reg := newRegistry(t)
	orch, err := New(client, reg, WithTrailingMessage("remember to finish"))
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), RunInput{
		RunID:        "run-9",
		Conversation: newConv(),
		Request:      baseRequest(),
	}, nil)
	require.NoError(t, err)

	require.Len(t, client.seen, 1)
	last := client.seen[0].Messages[len(client.seen[0].Messages)-1]
	require.Equal(t, "remember to finish", last.Text())
}

func TestParseErrorIsNonFatal(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText("<<<GADGET:unterminated>>>no close marker here")

	reg := newRegistry(t)
	orch, err := New(client, reg)
	require.NoError(t, err)

	events := make(chan Event, 32)
	var result *Result
	go func() {
		result, err = orch.Run(context.Background(), RunInput{
			RunID:        "run-10",
			Conversation: newConv(),
			Request:      baseRequest(),
		}, events)
	}()

	var sawParseError bool
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break drain
			}
			if ev.Type == EventParseError {
				sawParseError = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for run to finish")
		}
	}
	require.True(t, sawParseError)
	require.NoError(t, err)
	require.Equal(t, StateFinished, result.State)
}

func TestEventsChannelReceivesIterationAndFinishEvents(t *testing.T) {
	client := &scriptedClient{}
	client.enqueueText("all good")

	reg := newRegistry(t)
	orch, err := New(client, reg)
	require.NoError(t, err)

	events := make(chan Event, 32)
	go func() {
		_, _ = orch.Run(context.Background(), RunInput{
			RunID:        "run-11",
			Conversation: newConv(),
			Request:      baseRequest(),
		}, events)
	}()

	var types []EventType
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break drain
			}
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
	require.Contains(t, types, EventIterationStart)
	require.Contains(t, types, EventLLMCallStart)
	require.Contains(t, types, EventLLMCallComplete)
	require.Contains(t, types, EventFinish)
}
