package anthropic

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/retry"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
	stream     *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	if s.stream == nil {
		s.stream = ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
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
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userText("hello"))
	require.NoError(t, err)
	require.Equal(t, "world", resp.Message.Text())
	require.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteTranslatesToolUseResponse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call-1", Name: "lookup_weather", Input: []byte(`{"city":"paris"}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet", MaxTokens: 128})
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
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestCompleteRequiresMaxTokens(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), userText("hi"))
	require.Error(t, err)
}

func TestResolveModelIDPrefersClassOverDefault(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{
		DefaultModel: "claude-sonnet",
		SmallModel:   "claude-haiku",
		MaxTokens:    128,
	})
	require.NoError(t, err)

	req := userText("hi")
	req.ModelClass = model.ModelClassSmall
	require.Equal(t, "claude-haiku", cl.resolveModelID(req))

	req.Model = "claude-opus"
	require.Equal(t, "claude-opus", cl.resolveModelID(req))
}

func TestSanitizeToolNameReplacesDisallowedRunes(t *testing.T) {
	require.Equal(t, "lookup_weather", sanitizeToolName("lookup_weather"))
	require.Equal(t, "fetch_url_v2", sanitizeToolName("fetch.url_v2"))
}

func TestNewRejectsMissingClientOrModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "m"})
	require.Error(t, err)

	_, err = New(&stubMessagesClient{}, Options{})
	require.Error(t, err)
}

func TestCompleteRetryAfterFromHeader(t *testing.T) {
	stub := &stubMessagesClient{
		err: &sdk.Error{
			StatusCode: 429,
			Response: &http.Response{
				Header: http.Header{"Retry-After": []string{"2"}},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), userText("hello"))
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrRateLimited)

	var ra *retry.RetryAfter
	require.True(t, errors.As(err, &ra))
	require.Equal(t, 2*time.Second, ra.After)
}
