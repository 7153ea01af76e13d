package anthropic

import (
	"context"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/ulifeai/agentb/llm"
)

// toolBlock tracks the partial tool_use content block at a given index while
// its input_json_delta fragments arrive.
type toolBlock struct {
	id   string
	name string
}

// stream adapts an Anthropic SSE stream into llm.Stream by running the SDK's
// blocking iterator on a background goroutine and forwarding one llm.Chunk
// per emitted delta onto a buffered channel.
type stream struct {
	cancel context.CancelFunc
	sdk    *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan llm.Chunk
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newStream(ctx context.Context, cancel context.CancelFunc, sdkStream *ssestream.Stream[sdk.MessageStreamEventUnion]) *stream {
	s := &stream{
		cancel: cancel,
		sdk:    sdkStream,
		chunks: make(chan llm.Chunk, 16),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *stream) run() {
	defer close(s.chunks)
	defer close(s.done)

	tools := make(map[int64]*toolBlock)

	for s.sdk.Next() {
		ev := s.sdk.Current()
		if c, ok := translateEvent(ev, tools); ok {
			s.chunks <- c
		}
	}
	if err := s.sdk.Err(); err != nil && err != io.EOF {
		s.chunks <- llm.Chunk{FinishReason: "error"}
	}
}

func (s *stream) Recv() (llm.Chunk, error) {
	c, ok := <-s.chunks
	if !ok {
		return llm.Chunk{}, io.EOF
	}
	return c, nil
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.sdk.Close()
	})
	return s.closeErr
}

// translateEvent maps one Anthropic stream event onto at most one llm.Chunk.
// tools tracks in-flight tool_use content blocks keyed by their Anthropic
// content-block index, mirroring that index straight through to
// llm.ToolCallChunk.Index so responseparser.ParseChunk can assemble
// fragmented tool-call arguments the same way it does for any other
// provider's streaming deltas.
func translateEvent(ev sdk.MessageStreamEventUnion, tools map[int64]*toolBlock) (llm.Chunk, bool) {
	switch variant := ev.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if tu, ok := variant.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			tools[variant.Index] = &toolBlock{id: tu.ID, name: tu.Name}
			id, name, typ := tu.ID, tu.Name, "function"
			tc := llm.ToolCallChunk{Index: int(variant.Index), ID: &id, Type: &typ}
			tc.Function.Name = &name
			return llm.Chunk{ToolCalls: []llm.ToolCallChunk{tc}}, true
		}
		return llm.Chunk{}, false

	case sdk.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return llm.Chunk{}, false
			}
			return llm.Chunk{Content: delta.Text}, true
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return llm.Chunk{}, false
			}
			args := delta.PartialJSON
			tc := llm.ToolCallChunk{Index: int(variant.Index)}
			tc.Function.Arguments = &args
			return llm.Chunk{ToolCalls: []llm.ToolCallChunk{tc}}, true
		default:
			return llm.Chunk{}, false
		}

	case sdk.ContentBlockStopEvent:
		delete(tools, variant.Index)
		return llm.Chunk{}, false

	case sdk.MessageDeltaEvent:
		c := llm.Chunk{Usage: &llm.Usage{CompletionTokens: int(variant.Usage.OutputTokens)}}
		if sr := string(variant.Delta.StopReason); sr != "" {
			c.FinishReason = translateStopReason(sr)
		}
		return c, true

	case sdk.MessageStopEvent:
		return llm.Chunk{}, false

	default:
		return llm.Chunk{}, false
	}
}

func translateStopReason(sr string) string {
	switch sr {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return sr
	}
}
