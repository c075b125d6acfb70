package bedrock

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/retry"
)

type stubRuntime struct {
	lastConverse       *bedrockruntime.ConverseInput
	lastConverseStream *bedrockruntime.ConverseStreamInput
	converseOut        *bedrockruntime.ConverseOutput
	converseErr        error
}

func (s *stubRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastConverse = params
	return s.converseOut, s.converseErr
}

func (s *stubRuntime) ConverseStream(_ context.Context, params *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	s.lastConverseStream = params
	return nil, errNotImplemented
}

var errNotImplemented = &notImplementedError{}

type notImplementedError struct{}

func (e *notImplementedError) Error() string { return "bedrock: stream not implemented in test stub" }

func userText(text string) *model.Request {
	return &model.Request{
		Messages: []*model.Message{model.NewTextMessage(model.RoleUser, text)},
	}
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubRuntime{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: "hello there"},
					},
				},
			},
			StopReason: brtypes.StopReasonEndTurn,
			Usage: &brtypes.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(5),
				TotalTokens:  aws.Int32(15),
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "anthropic.claude-3-sonnet", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userText("hi"))
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Message.Text())
	require.Equal(t, string(brtypes.StopReasonEndTurn), resp.StopReason)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteTranslatesToolCallResponse(t *testing.T) {
	req := userText("what's the weather")
	req.Tools = []*model.ToolDefinition{
		{Name: "lookup_weather", Description: "looks up the weather"},
	}
	stub := &stubRuntime{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
							ToolUseId: aws.String("call-1"),
							Name:      aws.String("lookup_weather"),
						}},
					},
				},
			},
			StopReason: brtypes.StopReasonToolUse,
		},
	}
	cl, err := New(stub, Options{DefaultModel: "anthropic.claude-3-sonnet", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Message.Parts, 1)
	call, ok := resp.Message.Parts[0].(model.ToolCallPart)
	require.True(t, ok)
	require.Equal(t, "lookup_weather", call.Name)
	require.Equal(t, "call-1", call.InvocationID)
	require.NotNil(t, stub.lastConverse.ToolConfig)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	cl, err := New(&stubRuntime{}, Options{DefaultModel: "m", MaxTokens: 256})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestResolveModelIDPrefersClassOverDefault(t *testing.T) {
	cl, err := New(&stubRuntime{}, Options{
		DefaultModel: "anthropic.claude-3-sonnet",
		SmallModel:   "anthropic.claude-3-haiku",
		MaxTokens:    256,
	})
	require.NoError(t, err)

	req := userText("hi")
	req.ModelClass = model.ModelClassSmall
	require.Equal(t, "anthropic.claude-3-haiku", cl.resolveModelID(req))

	req.Model = "anthropic.claude-3-opus"
	require.Equal(t, "anthropic.claude-3-opus", cl.resolveModelID(req))
}

func TestNewRejectsMissingRuntimeOrModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "m"})
	require.Error(t, err)

	_, err = New(&stubRuntime{}, Options{})
	require.Error(t, err)
}

func TestCacheAfterToolsRejectedForNovaModel(t *testing.T) {
	req := userText("hi")
	req.Model = "amazon.nova-pro-v1:0"
	req.Cache = &model.CacheOptions{AfterTools: true}
	req.Tools = []*model.ToolDefinition{{Name: "lookup", Description: "d"}}

	cl, err := New(&stubRuntime{}, Options{DefaultModel: "amazon.nova-pro-v1:0", MaxTokens: 256})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), req)
	require.Error(t, err)
}

func TestMessagesRequireToolConfigWhenToolBlocksPresent(t *testing.T) {
	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.RoleAssistant, Parts: []model.Part{model.ToolCallPart{InvocationID: "1", Name: "lookup", Parameters: nil}}},
		},
	}
	cl, err := New(&stubRuntime{}, Options{DefaultModel: "anthropic.claude-3-sonnet", MaxTokens: 256})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), req)
	require.Error(t, err)
}

func TestCompleteRetryAfterFromHeader(t *testing.T) {
	stub := &stubRuntime{
		converseErr: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{
				Response: &http.Response{
					StatusCode: 429,
					Header:     http.Header{"Retry-After": []string{"4"}},
				},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "anthropic.claude-3-sonnet", MaxTokens: 256})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), userText("hi"))
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrRateLimited)

	var ra *retry.RetryAfter
	require.True(t, errors.As(err, &ra))
	require.Equal(t, 4*time.Second, ra.After)
}

func TestSanitizeToolNameTruncatesLongNames(t *testing.T) {
	name := "toolset.really.quite.long.namespace.segment.that.exceeds.sixty.four.bytes.total"
	sanitized := SanitizeToolName(name)
	require.LessOrEqual(t, len(sanitized), 64)
	require.Equal(t, sanitized, SanitizeToolName(name))
}
