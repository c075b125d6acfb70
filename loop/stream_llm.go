package loop

import (
	"context"
	"errors"
	"io"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/hooks"
	"github.com/gadgetrun/agentcore/model"
	"github.com/gadgetrun/agentcore/retry"
	"github.com/gadgetrun/agentcore/stream"
	"github.com/gadgetrun/agentcore/telemetry"
	"github.com/gadgetrun/agentcore/tree"
)

// streamAndParse runs S2 stream_llm and S3 parse_events: it rate-limits
// and retries the provider call, falling back to a non-streaming
// Complete when the provider doesn't support streaming, then feeds every
// chunk through the marker parser (for text chunks) while accumulating
// provider-native tool calls directly.
func (o *Orchestrator) streamAndParse(ctx context.Context, runID string, tr *tree.Tree, parentNodeID string, req *model.Request, events chan<- Event, snap *hooks.RunSnapshot) (*llmOutput, error) {
	nodeID := tr.StartLLMCall(parentNodeID)

	var span telemetry.Span
	spanCtx := ctx
	if o.tracer != nil {
		spanCtx, span = o.tracer.Start(ctx, "loop.llm_call")
		defer span.End()
	}

	o.dispatcher.DispatchOnLLMCallStart(ctx, snap, req)
	emit(ctx, events, Event{Type: EventLLMCallStart, Iteration: snap.Iteration})

	estimatedTokens := req.MaxTokens
	if o.cfg.RateLimiter != nil {
		if err := o.cfg.RateLimiter.Wait(spanCtx, estimatedTokens); err != nil {
			tr.CompleteLLMCall(nodeID, model.TokenUsage{}, 0, err)
			o.dispatcher.DispatchOnLLMCallComplete(ctx, snap, &hooks.LLMResult{}, err)
			emit(ctx, events, Event{Type: EventLLMCallComplete, Err: err})
			return nil, err
		}
	}

	var streamer model.Streamer
	retryErr := retry.Do(spanCtx, o.cfg.RetryConfig, func(attemptCtx context.Context) error {
		s, err := o.client.Stream(attemptCtx, req)
		if errors.Is(err, model.ErrStreamingUnsupported) {
			resp, cErr := o.client.Complete(attemptCtx, req)
			if cErr != nil {
				return cErr
			}
			streamer = newSingleShotStreamer(resp)
			return nil
		}
		if err != nil {
			return err
		}
		streamer = s
		return nil
	})
	if retryErr != nil {
		if span != nil {
			span.RecordError(retryErr)
		}
		tr.CompleteLLMCall(nodeID, model.TokenUsage{}, 0, retryErr)
		o.dispatcher.DispatchOnLLMCallComplete(ctx, snap, &hooks.LLMResult{}, retryErr)
		emit(ctx, events, Event{Type: EventLLMCallComplete, Err: retryErr})
		return nil, retryErr
	}
	defer streamer.Close()

	parser := stream.NewParser(o.cfg.Markers, o.cfg.SchemaLookup)
	out := &llmOutput{hookResult: &hooks.LLMResult{}}
	var usage model.TokenUsage

	for {
		chunk, err := streamer.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tr.CompleteLLMCall(nodeID, usage, o.chargeLLM(req, usage), err)
			o.dispatcher.DispatchOnLLMCallComplete(ctx, snap, out.hookResult, err)
			emit(ctx, events, Event{Type: EventLLMCallComplete, Err: err})
			return nil, err
		}
		o.handleChunk(ctx, chunk, parser, out, events, &usage)
	}
	for _, ev := range parser.Close() {
		o.handleParserEvent(ctx, ev, out, events)
	}

	if o.cfg.RateLimiter != nil {
		o.cfg.RateLimiter.Record(estimatedTokens, usage.TotalTokens)
	}

	out.hookResult.Usage = usage
	cost := o.chargeLLM(req, usage)
	tr.CompleteLLMCall(nodeID, usage, cost, nil)
	o.dispatcher.DispatchOnLLMCallComplete(ctx, snap, out.hookResult, nil)
	emit(ctx, events, Event{Type: EventLLMCallComplete, Usage: &usage})
	return out, nil
}

func (o *Orchestrator) handleChunk(ctx context.Context, chunk model.Chunk, parser *stream.Parser, out *llmOutput, events chan<- Event, usage *model.TokenUsage) {
	switch chunk.Type {
	case model.ChunkTypeText:
		for _, ev := range parser.Feed(chunk.Text) {
			o.handleParserEvent(ctx, ev, out, events)
		}
	case model.ChunkTypeThinking:
		out.parts = append(out.parts, model.ThinkingPart{Text: chunk.Thinking})
		emit(ctx, events, Event{Type: EventThinking, Thinking: chunk.Thinking})
	case model.ChunkTypeToolCall:
		if chunk.ToolCall == nil {
			return
		}
		call := &gadget.Call{
			InvocationID: chunk.ToolCall.InvocationID,
			Name:         chunk.ToolCall.Name,
			Parameters:   parseParams(chunk.ToolCall.Parameters),
		}
		out.hookResult.Calls = append(out.hookResult.Calls, call)
		out.parts = append(out.parts, *chunk.ToolCall)
		emit(ctx, events, Event{Type: EventGadgetCall, Call: call})
	case model.ChunkTypeToolCallDelta:
		// Best-effort UX signal only; not part of the event sequence.
	case model.ChunkTypeUsage:
		if chunk.UsageDelta != nil {
			*usage = *chunk.UsageDelta
		}
	case model.ChunkTypeStop:
		out.hookResult.StopReason = chunk.StopReason
	}
}

func (o *Orchestrator) handleParserEvent(ctx context.Context, ev stream.Event, out *llmOutput, events chan<- Event) {
	switch ev.Type {
	case stream.EventText:
		text := o.dispatcher.InterceptTextChunk(ev.Text)
		out.hookResult.Text += text
		out.parts = append(out.parts, model.TextPart{Text: text})
		emit(ctx, events, Event{Type: EventText, Text: text})
	case stream.EventGadgetCall:
		out.hookResult.Calls = append(out.hookResult.Calls, ev.Call)
		out.parts = append(out.parts, model.ToolCallPart{
			InvocationID: ev.Call.InvocationID,
			Name:         ev.Call.Name,
			Parameters:   marshalParams(ev.Call.Parameters),
		})
		emit(ctx, events, Event{Type: EventGadgetCall, Call: ev.Call})
	case stream.EventParseError:
		emit(ctx, events, Event{
			Type:             EventParseError,
			ParseErrorReason: ev.ParseErrorReason,
			ParseErrorText:   ev.ParseErrorText,
		})
	}
}

func (o *Orchestrator) chargeLLM(req *model.Request, usage model.TokenUsage) float64 {
	if o.cfg.Pricer == nil {
		return 0
	}
	return o.cfg.Pricer(req.Model, usage)
}
