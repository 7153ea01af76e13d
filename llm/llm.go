// Package llm declares the external LLM Client collaborator (spec §6.1).
// The runtime depends only on this interface; concrete provider adapters
// live under llm/anthropic and llm/openai. Generate returns a Stream of raw,
// provider-shaped chunks matching the streaming delta format most chat
// completion APIs emit: content fragments plus an index-keyed tool_calls
// array whose fields arrive split across multiple chunks. The
// responseparser package is the component that demultiplexes this raw shape
// into well-typed ParseEvents.
package llm

import (
	"context"

	"github.com/ulifeai/agentb/model"
)

// Message is the wire shape of one prior turn fed to Generate. It mirrors
// model.Message but stays decoupled from storage concerns.
type Message struct {
	Role       model.Role
	Content    model.Content
	ToolCalls  []model.ToolCall
	ToolCallID string
	Name       string
}

// Options configures a single Generate call.
type Options struct {
	Model       string
	Tools       []model.ToolDefinition
	ToolChoice  model.ToolChoice
	Stream      bool
	Temperature float64
	MaxTokens   int
	SystemPrompt string
}

// ToolCallChunk is a single element of a Chunk's ToolCalls slice. Fields are
// optional because providers split a tool call's id/name/arguments across
// multiple chunks, correlated by Index.
type ToolCallChunk struct {
	Index    int     `json:"index"`
	ID       *string `json:"id,omitempty"`
	Type     *string `json:"type,omitempty"`
	Function struct {
		Name      *string `json:"name,omitempty"`
		Arguments *string `json:"arguments,omitempty"`
	} `json:"function"`
}

// Usage reports token accounting for a call. Exact accounting is a
// non-goal (spec §1); callers treat this as advisory.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chunk is one streamed delta from the model (spec §4.4's "LLMChunk").
type Chunk struct {
	Role         string
	Content      string
	ToolCalls    []ToolCallChunk
	FinishReason string // "", "stop", "length", "content_filter", "tool_calls"
	Usage        *Usage
}

// Stream delivers a sequence of Chunks. Implementations must be safe to
// abandon mid-stream (Close cancels the underlying HTTP request).
type Stream interface {
	// Recv returns the next Chunk, or io.EOF when the stream is exhausted.
	Recv() (Chunk, error)
	Close() error
}

// Client is the provider-agnostic, streaming-capable LLM collaborator.
type Client interface {
	// Generate starts a (typically streaming) model call and returns a Stream
	// of raw Chunks for the caller to demultiplex.
	Generate(ctx context.Context, messages []Message, opts Options) (Stream, error)
	// CountTokens estimates the token count for messages under model. The
	// estimate is advisory (spec §9): context management must tolerate
	// roughly ±20% error.
	CountTokens(ctx context.Context, messages []Message, model string) (int, error)
}
