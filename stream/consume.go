package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
)

// Summary accumulates one LLM turn's parsed output: the full assistant
// text (with gadget-call markers stripped, in emission order), every
// gadget call produced, and the terminal usage/stop-reason.
type Summary struct {
	Text       string
	Calls      []*gadget.Call
	ParseErrors []Event
	Usage      model.TokenUsage
	StopReason string
}

// Sink receives events as ConsumeStream drives a model.Streamer, mirroring
// the loop's S2/S3 split: S2 forwards raw chunks unchanged, S3 drives the
// parser and accumulates the turn summary. A nil Sink is valid; only
// accumulation into Summary happens.
type Sink interface {
	// OnText is called for each text Event as it is recognized, before
	// any gadget call markers in the same turn are resolved.
	OnText(ctx context.Context, text string)
	// OnThinking is called for each thinking delta.
	OnThinking(ctx context.Context, text string)
	// OnGadgetCall is called once a full call has been parsed.
	OnGadgetCall(ctx context.Context, call *gadget.Call)
	// OnUsageDelta is called for each incremental usage update.
	OnUsageDelta(ctx context.Context, usage model.TokenUsage)
}

// ConsumeStream drains streamer until it returns io.EOF (or another
// terminal error), feeding text chunks through parser and dispatching
// every resulting event to sink (if non-nil) while accumulating a
// Summary. It always calls streamer.Close before returning.
func ConsumeStream(ctx context.Context, streamer model.Streamer, parser *Parser, sink Sink) (Summary, error) {
	defer streamer.Close()

	var sum Summary
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return sum, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			for _, ev := range parser.Feed(chunk.Text) {
				applyEvent(ctx, ev, &sum, sink)
			}
		case model.ChunkTypeThinking:
			if sink != nil {
				sink.OnThinking(ctx, chunk.Thinking)
			}
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				addUsage(&sum.Usage, *chunk.UsageDelta)
				if sink != nil {
					sink.OnUsageDelta(ctx, *chunk.UsageDelta)
				}
			}
		case model.ChunkTypeToolCall:
			// Native provider tool-calling channel: the provider adapter
			// parsed the call itself rather than emitting it as marker
			// text. Fold it in as if the stream parser had produced it.
			if chunk.ToolCall != nil {
				var params map[string]any
				_ = json.Unmarshal(chunk.ToolCall.Parameters, &params)
				call := &gadget.Call{
					InvocationID: chunk.ToolCall.InvocationID,
					Name:         chunk.ToolCall.Name,
					Parameters:   params,
				}
				sum.Calls = append(sum.Calls, call)
				if sink != nil {
					sink.OnGadgetCall(ctx, call)
				}
			}
		case model.ChunkTypeStop:
			sum.StopReason = chunk.StopReason
		}
	}
	for _, ev := range parser.Close() {
		applyEvent(ctx, ev, &sum, sink)
	}
	return sum, nil
}

func applyEvent(ctx context.Context, ev Event, sum *Summary, sink Sink) {
	switch ev.Type {
	case EventText:
		sum.Text += ev.Text
		if sink != nil {
			sink.OnText(ctx, ev.Text)
		}
	case EventThinking:
		if sink != nil {
			sink.OnThinking(ctx, ev.Thinking)
		}
	case EventGadgetCall:
		sum.Calls = append(sum.Calls, ev.Call)
		if sink != nil {
			sink.OnGadgetCall(ctx, ev.Call)
		}
	case EventUsage:
		if ev.Usage != nil {
			addUsage(&sum.Usage, *ev.Usage)
		}
	case EventParseError:
		sum.ParseErrors = append(sum.ParseErrors, ev)
		// Non-fatal per §4.1: buffered content becomes trailing assistant
		// text rather than a dropped turn.
		sum.Text += ev.ParseErrorText
		if sink != nil {
			sink.OnText(ctx, ev.ParseErrorText)
		}
	}
}

func addUsage(total *model.TokenUsage, delta model.TokenUsage) {
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.TotalTokens += delta.TotalTokens
	total.CacheReadTokens += delta.CacheReadTokens
	total.CacheWriteTokens += delta.CacheWriteTokens
	total.ReasoningTokens += delta.ReasoningTokens
}
