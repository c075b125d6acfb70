// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API, translating agent core requests into
// openai.ChatCompletionNewParams calls via github.com/openai/openai-go and
// mapping responses (text, tool calls, usage) back into the generic model
// types. Thinking parts are not modeled by Chat Completions and are
// silently dropped on the outbound direction.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/retry"
)

// ChatService captures the subset of the OpenAI SDK used by the adapter,
// satisfied by the real client's Chat.Completions service in production
// and a fake in tests.
type ChatService interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures optional adapter behavior.
type Options struct {
	// DefaultModel is used when Request.Model is empty and no class-specific
	// identifier applies.
	DefaultModel string
	// HighModel is used for model.ModelClassHighReasoning requests.
	HighModel string
	// SmallModel is used for model.ModelClassSmall requests.
	SmallModel string
	// MaxTokens is the completion cap applied when a request leaves
	// MaxTokens unset.
	MaxTokens int
	// Temperature is applied when a request leaves Temperature unset.
	Temperature float64
}

// Client implements model.Client on top of OpenAI Chat Completions.
type Client struct {
	chat         ChatService
	defaultModel string
	highModel    string
	smallModel   string
	maxTok       int
	temp         float64
}

// New builds an OpenAI-backed client from a Chat Completions service and
// configuration.
func New(chat ChatService, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions service is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey builds a client from an API key using the SDK's default
// HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Chat Completions call.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, rateLimitedError(err)
		}
		return nil, fmt.Errorf("openai: chat completions.new: %w", err)
	}
	return translateResponse(resp)
}

// Stream invokes Chat Completions with streaming enabled and adapts
// incremental deltas into model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{IncludeUsage: sdk.Bool(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, rateLimitedError(err)
		}
		return nil, fmt.Errorf("openai: chat completions.new stream: %w", err)
	}
	return newStreamer(ctx, stream), nil
}

// CountTokens is not implemented by the Chat Completions API; callers
// should estimate client-side (e.g. via a tokenizer library) or rely on
// the usage chunk of a streamed/completed call.
func (c *Client) CountTokens(ctx context.Context, req *model.Request) (int, error) {
	return 0, model.ErrTokenCountingUnsupported
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := c.resolveModelID(req)
	if modelID == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    modelID,
		Messages: msgs,
	}
	if maxTokens := c.effectiveMaxTokens(req.MaxTokens); maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice, req.Tools)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return &params, nil
}

// resolveModelID prefers an explicit Request.Model, then a class-specific
// identifier, then the configured default.
func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

func encodeMessages(msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, sdk.SystemMessage(text))
			}
		case model.RoleUser:
			um, err := encodeUserMessage(m)
			if err != nil {
				return nil, err
			}
			out = append(out, um...)
		case model.RoleAssistant:
			am, err := encodeAssistantMessage(m)
			if err != nil {
				return nil, err
			}
			out = append(out, am)
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one user/assistant message is required")
	}
	return out, nil
}

// encodeUserMessage splits a user message into its text content (if any)
// and one ToolMessage per ToolResultPart, since Chat Completions models a
// tool result as its own message rather than a content block.
func encodeUserMessage(m *model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	var out []sdk.ChatCompletionMessageParamUnion
	var text strings.Builder
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			text.WriteString(v.Text)
		case model.ToolResultPart:
			out = append(out, sdk.ToolMessage(v.Result, v.InvocationID))
		case model.ImagePart, model.AudioPart, model.ThinkingPart:
			// Not re-encoded for this provider in this request direction.
		}
	}
	if text.Len() > 0 {
		out = append([]sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(text.String())}, out...)
	}
	return out, nil
}

func encodeAssistantMessage(m *model.Message) (sdk.ChatCompletionMessageParamUnion, error) {
	var text strings.Builder
	var calls []sdk.ChatCompletionMessageToolCallParam
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			text.WriteString(v.Text)
		case model.ToolCallPart:
			calls = append(calls, sdk.ChatCompletionMessageToolCallParam{
				ID: v.InvocationID,
				Function: sdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      v.Name,
					Arguments: string(v.Parameters),
				},
			})
		case model.ImagePart, model.AudioPart, model.ThinkingPart:
			// Not re-encoded for this provider in this request direction.
		}
	}
	msg := sdk.ChatCompletionAssistantMessageParam{}
	if text.Len() > 0 {
		msg.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{
			OfString: sdk.String(text.String()),
		}
	}
	if len(calls) > 0 {
		msg.ToolCalls = calls
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: &msg}, nil
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		params, err := toolParameters(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: gadget %q schema: %w", def.Name, err)
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toolParameters(schema any) (sdk.FunctionParameters, error) {
	if schema == nil {
		return sdk.FunctionParameters{"type": "object", "properties": map[string]any{}}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return sdk.FunctionParameters(m), nil
}

func encodeToolChoice(choice *model.ToolChoice, defs []*model.ToolDefinition) (sdk.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("auto")}, nil
	case model.ToolChoiceModeNone:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}, nil
	case model.ToolChoiceModeAny:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" || !hasToolDefinition(defs, choice.Name) {
			return sdk.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: tool choice name %q does not match any gadget", choice.Name)
		}
		return sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: unsupported tool choice mode %q", choice.Mode)
	}
}

func hasToolDefinition(defs []*model.ToolDefinition, name string) bool {
	for _, def := range defs {
		if def != nil && def.Name == name {
			return true
		}
	}
	return false
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// rateLimitedError wraps err as model.ErrRateLimited, carrying OpenAI's
// Retry-After hint (response header, falling back to a message-embedded
// value) so retry.Do honors the server's requested delay instead of
// computed backoff.
func rateLimitedError(err error) error {
	wrapped := fmt.Errorf("%w: %w", model.ErrRateLimited, err)
	if after, ok := retryAfterFor(err); ok {
		return retry.WithRetryAfter(wrapped, after)
	}
	return wrapped
}

func retryAfterFor(err error) (time.Duration, bool) {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		if after, ok := retry.ParseRetryAfterHeader(apiErr.Response.Header.Get("Retry-After"), time.Now()); ok {
			return after, true
		}
	}
	return retry.ParseRetryAfterMessage(err.Error())
}

func translateResponse(resp *sdk.ChatCompletion) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := &model.Message{Role: model.RoleAssistant}
	if choice.Message.Content != "" {
		out.Parts = append(out.Parts, model.TextPart{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		out.Parts = append(out.Parts, model.ToolCallPart{
			InvocationID: call.ID,
			Name:         call.Function.Name,
			Parameters:   json.RawMessage(call.Function.Arguments),
		})
	}
	result := &model.Response{Message: *out, StopReason: string(choice.FinishReason)}
	if u := resp.Usage; u.PromptTokens != 0 || u.CompletionTokens != 0 {
		result.Usage = model.TokenUsage{
			InputTokens:     int(u.PromptTokens),
			OutputTokens:    int(u.CompletionTokens),
			TotalTokens:     int(u.TotalTokens),
			CacheReadTokens: int(u.PromptTokensDetails.CachedTokens),
			ReasoningTokens: int(u.CompletionTokensDetails.ReasoningTokens),
		}
	}
	return result, nil
}
