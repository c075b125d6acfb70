package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/retry"
)

type stubChatService struct {
	lastParams sdk.ChatCompletionNewParams
	resp       *sdk.ChatCompletion
	err        error
	stream     *ssestream.Stream[sdk.ChatCompletionChunk]
}

func (s *stubChatService) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubChatService) NewStreaming(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk] {
	s.lastParams = body
	if s.stream == nil {
		s.stream = ssestream.NewStream[sdk.ChatCompletionChunk](&noopDecoder{}, nil)
	}
	return s.stream
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func userText(text string) *model.Request {
	return &model.Request{
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, text)},
	}
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubChatService{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{
					Message:      sdk.ChatCompletionMessage{Content: "world"},
					FinishReason: "stop",
				},
			},
			Usage: sdk.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userText("hello"))
	require.NoError(t, err)
	require.Equal(t, "world", resp.Message.Text())
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteTranslatesToolCallResponse(t *testing.T) {
	stub := &stubChatService{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{
					Message: sdk.ChatCompletionMessage{
						ToolCalls: []sdk.ChatCompletionMessageToolCall{
							{
								ID: "call-1",
								Function: sdk.ChatCompletionMessageToolCallFunction{
									Name:      "lookup_weather",
									Arguments: `{"city":"paris"}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userText("what's the weather"))
	require.NoError(t, err)
	require.Len(t, resp.Message.Parts, 1)
	call, ok := resp.Message.Parts[0].(model.ToolCallPart)
	require.True(t, ok)
	require.Equal(t, "lookup_weather", call.Name)
	require.Equal(t, "call-1", call.InvocationID)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	cl, err := New(&stubChatService{}, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestResolveModelIDPrefersClassOverDefault(t *testing.T) {
	cl, err := New(&stubChatService{}, Options{
		DefaultModel: "gpt-4o",
		SmallModel:   "gpt-4o-mini",
		MaxTokens:    128,
	})
	require.NoError(t, err)

	req := userText("hi")
	req.ModelClass = model.ModelClassSmall
	require.Equal(t, "gpt-4o-mini", cl.resolveModelID(req))

	req.Model = "gpt-4.1"
	require.Equal(t, "gpt-4.1", cl.resolveModelID(req))
}

func TestNewRejectsMissingClientOrModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "m"})
	require.Error(t, err)

	_, err = New(&stubChatService{}, Options{})
	require.Error(t, err)
}

func TestCompleteRetryAfterFromHeader(t *testing.T) {
	stub := &stubChatService{
		err: &sdk.Error{
			StatusCode: 429,
			Response: &http.Response{
				Header: http.Header{"Retry-After": []string{"5"}},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), userText("hello"))
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrRateLimited)

	var ra *retry.RetryAfter
	require.True(t, errors.As(err, &ra))
	require.Equal(t, 5*time.Second, ra.After)
}
