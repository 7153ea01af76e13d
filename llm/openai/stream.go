package openai

import (
	"context"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/ulifeai/agentb/llm"
)

// stream adapts an openai-go chat completion chunk stream to llm.Stream,
// translating each chunk's choice delta into one llm.Chunk on a
// buffered channel fed by a background goroutine, mirroring llm/anthropic's
// stream shape.
type stream struct {
	cancel    context.CancelFunc
	sdk       *ssestream.Stream[sdk.ChatCompletionChunk]
	chunks    chan llm.Chunk
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newStream(_ context.Context, cancel context.CancelFunc, sdkStream *ssestream.Stream[sdk.ChatCompletionChunk]) *stream {
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

	for s.sdk.Next() {
		chunk := translateChunk(s.sdk.Current())
		s.chunks <- chunk
	}
	if err := s.sdk.Err(); err != nil {
		s.chunks <- llm.Chunk{FinishReason: "error"}
	}
}

// Recv returns the next Chunk, or io.EOF once the underlying stream is
// exhausted.
func (s *stream) Recv() (llm.Chunk, error) {
	c, ok := <-s.chunks
	if !ok {
		return llm.Chunk{}, io.EOF
	}
	return c, nil
}

// Close cancels the in-flight request and releases the underlying stream.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.sdk.Close()
	})
	return s.closeErr
}

// translateChunk maps one ChatCompletionChunk's first choice onto an
// llm.Chunk. OpenAI sends at most one choice per request in this adapter
// (n=1 is the implicit default); a tool call delta's Index field correlates
// fragments the same way Anthropic's content-block index does.
func translateChunk(chunk sdk.ChatCompletionChunk) llm.Chunk {
	if len(chunk.Choices) == 0 {
		return llm.Chunk{}
	}
	choice := chunk.Choices[0]
	out := llm.Chunk{Content: choice.Delta.Content}

	if len(choice.Delta.ToolCalls) > 0 {
		out.ToolCalls = make([]llm.ToolCallChunk, len(choice.Delta.ToolCalls))
		for i, tc := range choice.Delta.ToolCalls {
			tcc := llm.ToolCallChunk{Index: int(tc.Index)}
			if tc.ID != "" {
				id := tc.ID
				typ := "function"
				tcc.ID = &id
				tcc.Type = &typ
			}
			if tc.Function.Name != "" {
				name := tc.Function.Name
				tcc.Function.Name = &name
			}
			if tc.Function.Arguments != "" {
				args := tc.Function.Arguments
				tcc.Function.Arguments = &args
			}
			out.ToolCalls[i] = tcc
		}
	}

	if fr := string(choice.FinishReason); fr != "" {
		out.FinishReason = translateFinishReason(fr)
	}
	if chunk.Usage.TotalTokens > 0 {
		out.Usage = &llm.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}
	return out
}

func translateFinishReason(fr string) string {
	switch fr {
	case "stop":
		return "stop"
	case "tool_calls":
		return "tool_calls"
	case "length":
		return "length"
	case "content_filter":
		return "content_filter"
	default:
		return fr
	}
}
