package loop

import (
	"io"

	"github.com/gadgetrun/agentcore/model"
)

// singleShotStreamer adapts a non-streaming Response into the Streamer
// interface, letting stream_llm treat every provider uniformly even when
// Client.Stream returns ErrStreamingUnsupported. It replays the response's
// parts as chunks, in order, followed by a usage chunk and a stop chunk.
type singleShotStreamer struct {
	chunks []model.Chunk
	idx    int
	usage  model.TokenUsage
}

func newSingleShotStreamer(resp *model.Response) model.Streamer {
	s := &singleShotStreamer{usage: resp.Usage}
	for _, p := range resp.Message.Parts {
		switch v := p.(type) {
		case model.TextPart:
			s.chunks = append(s.chunks, model.Chunk{Type: model.ChunkTypeText, Text: v.Text})
		case model.ThinkingPart:
			s.chunks = append(s.chunks, model.Chunk{Type: model.ChunkTypeThinking, Thinking: v.Text})
		case model.ToolCallPart:
			call := v
			s.chunks = append(s.chunks, model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &call})
		}
	}
	usage := resp.Usage
	s.chunks = append(s.chunks,
		model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage},
		model.Chunk{Type: model.ChunkTypeStop, StopReason: resp.StopReason},
	)
	return s
}

func (s *singleShotStreamer) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *singleShotStreamer) Close() error { return nil }

func (s *singleShotStreamer) Metadata() map[string]any {
	return map[string]any{"usage": s.usage}
}
