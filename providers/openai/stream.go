package openai

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/gadgetrun/agentcore/model"
)

// streamer adapts an OpenAI Chat Completions streaming response to the
// model.Streamer interface. Unlike Anthropic's content-block events, a
// Chat Completions tool call accumulates by index across chunks with no
// explicit close event; it is only known complete once the stream itself
// ends, so tool calls are buffered and flushed when the stream ends.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan model.Chunk

	errMu  sync.Mutex
	errSet bool
	err    error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.finalErr(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	p := newChunkProcessor(s.emit, s.recordUsage)
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
				return
			}
			if err := s.ctx.Err(); err != nil {
				s.setErr(err)
				return
			}
			if err := p.flush(); err != nil {
				s.setErr(err)
			}
			return
		}
		if err := p.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *streamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.err = err
}

func (s *streamer) finalErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// chunkProcessor converts OpenAI Chat Completions streaming chunks into
// model.Chunks, buffering partial tool-call argument JSON by index until
// flush emits the finalized calls.
type chunkProcessor struct {
	emit        func(model.Chunk) error
	recordUsage func(model.TokenUsage)

	toolCalls map[int64]*toolBuffer
	flushed   bool
	stopReason string
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalJSON() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func newChunkProcessor(emit func(model.Chunk) error, recordUsage func(model.TokenUsage)) *chunkProcessor {
	return &chunkProcessor{
		emit:        emit,
		recordUsage: recordUsage,
		toolCalls:   make(map[int64]*toolBuffer),
	}
}

func (p *chunkProcessor) handle(chunk sdk.ChatCompletionChunk) error {
	if chunk.Usage.TotalTokens != 0 || chunk.Usage.PromptTokens != 0 {
		usage := model.TokenUsage{
			InputTokens:     int(chunk.Usage.PromptTokens),
			OutputTokens:    int(chunk.Usage.CompletionTokens),
			TotalTokens:     int(chunk.Usage.TotalTokens),
			CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			ReasoningTokens: int(chunk.Usage.CompletionTokensDetails.ReasoningTokens),
		}
		p.recordUsage(usage)
		if err := p.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
			return err
		}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		if err := p.emit(model.Chunk{Type: model.ChunkTypeText, Text: choice.Delta.Content}); err != nil {
			return err
		}
	}
	for _, tc := range choice.Delta.ToolCalls {
		tb := p.toolCalls[tc.Index]
		if tb == nil {
			tb = &toolBuffer{}
			p.toolCalls[tc.Index] = tb
		}
		if tc.ID != "" {
			tb.id = tc.ID
		}
		if tc.Function.Name != "" {
			tb.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			tb.fragments = append(tb.fragments, tc.Function.Arguments)
			if err := p.emit(model.Chunk{
				Type: model.ChunkTypeToolCallDelta,
				ToolCallDelta: &model.ToolCallDelta{
					Name:  tb.name,
					ID:    tb.id,
					Delta: tc.Function.Arguments,
				},
			}); err != nil {
				return err
			}
		}
	}
	if choice.FinishReason != "" {
		p.stopReason = string(choice.FinishReason)
	}
	return nil
}

// flush emits every buffered tool call as a finalized ChunkTypeToolCall,
// then a ChunkTypeStop, exactly once. It runs when the stream itself
// ends since Chat Completions never signals an individual tool call's
// completion ahead of the overall stream's end.
func (p *chunkProcessor) flush() error {
	if p.flushed {
		return nil
	}
	p.flushed = true
	indices := make([]int64, 0, len(p.toolCalls))
	for idx := range p.toolCalls {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		tb := p.toolCalls[idx]
		if tb.id == "" {
			continue
		}
		if err := p.emit(model.Chunk{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCallPart{
				InvocationID: tb.id,
				Name:         tb.name,
				Parameters:   json.RawMessage(tb.finalJSON()),
			},
		}); err != nil {
			return err
		}
	}
	return p.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: p.stopReason})
}
