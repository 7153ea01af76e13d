// Package responseparser implements the incremental demultiplexer that
// turns a streaming sequence of llm.Chunk deltas into a well-typed sequence
// of ParseEvents (spec §4.4, component C4). The parser is the "key insight"
// of the runtime (spec §9): tool-call fragments arrive keyed by an index
// slot and are reassembled across an arbitrary number of chunks before the
// argument JSON is ever parsed.
package responseparser

import (
	"io"
	"sort"
	"strings"

	"github.com/ulifeai/agentb/llm"
)

// EventKind classifies a ParseEvent.
type EventKind string

const (
	EventText             EventKind = "text_chunk"
	EventToolCallDelta     EventKind = "tool_call_delta"
	EventToolCallFinalized EventKind = "tool_call_finalized"
	EventCompleted         EventKind = "completed"
)

// ToolCallDelta carries the fields present in a single tool_call_delta
// event; unset string fields are left empty so callers can tell which
// fields this particular chunk actually updated.
type ToolCallDelta struct {
	Index       int
	ID          string
	Name        string
	ArgsFragment string
}

// FinalToolCall is the fully assembled tool call emitted when the provider
// signals FinishReason == "tool_calls".
type FinalToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Event is one item of the parser's output sequence.
type Event struct {
	Kind EventKind

	Text string // EventText

	Delta ToolCallDelta // EventToolCallDelta

	Finalized FinalToolCall // EventToolCallFinalized

	FinishReason string     // EventCompleted
	Usage        *llm.Usage // EventCompleted
}

// XMLToolCallOptions configures the optional XML tool-calling fallback
// scanner (spec §4.4, disabled by default; spec §9 design note: "keep the
// scanner self-contained so the default code path is not burdened").
type XMLToolCallOptions struct {
	Enabled  bool
	MaxCalls int
}

// Options configures a Parser.
type Options struct {
	XML XMLToolCallOptions
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

// Parser consumes a stream of llm.Chunk and produces ParseEvents. It is
// stateful per turn: construct a fresh Parser for every LLM call.
type Parser struct {
	opts    Options
	pending map[int]*partialToolCall
	order   []int // insertion order of indices, for ascending finalization

	xmlBuf strings.Builder
	xmlCount int
}

// New constructs a Parser for a single streaming turn.
func New(opts Options) *Parser {
	return &Parser{
		opts:    opts,
		pending: make(map[int]*partialToolCall),
	}
}

// ParseChunk processes one chunk and returns zero or more Events. Calling
// ParseChunk repeatedly with the same chunk sequence yields the same event
// sequence (spec Invariant 7).
func (p *Parser) ParseChunk(c llm.Chunk) []Event {
	var events []Event

	if c.Content != "" {
		text := c.Content
		if p.opts.XML.Enabled {
			var suppressed string
			suppressed, events = p.scanXML(c.Content, events)
			text = suppressed
		}
		if text != "" {
			events = append(events, Event{Kind: EventText, Text: text})
		}
	}

	for _, tc := range c.ToolCalls {
		pc, ok := p.pending[tc.Index]
		if !ok {
			pc = &partialToolCall{}
			p.pending[tc.Index] = pc
			p.order = append(p.order, tc.Index)
		}
		delta := ToolCallDelta{Index: tc.Index}
		if tc.ID != nil {
			pc.id = *tc.ID
			delta.ID = *tc.ID
		}
		if tc.Function.Name != nil {
			pc.name = *tc.Function.Name
			delta.Name = *tc.Function.Name
		}
		if tc.Function.Arguments != nil {
			pc.args.WriteString(*tc.Function.Arguments)
			delta.ArgsFragment = *tc.Function.Arguments
		}
		events = append(events, Event{Kind: EventToolCallDelta, Delta: delta})
	}

	switch c.FinishReason {
	case "stop", "length", "content_filter":
		events = append(events, Event{Kind: EventCompleted, FinishReason: c.FinishReason, Usage: c.Usage})
	case "tool_calls":
		indices := append([]int(nil), p.order...)
		sort.Ints(indices)
		for _, idx := range indices {
			pc := p.pending[idx]
			events = append(events, Event{
				Kind: EventToolCallFinalized,
				Finalized: FinalToolCall{
					Index:     idx,
					ID:        pc.id,
					Name:      pc.name,
					Arguments: pc.args.String(),
				},
			})
		}
		events = append(events, Event{Kind: EventCompleted, FinishReason: c.FinishReason, Usage: c.Usage})
	}

	return events
}

// Drain reads chunks from s until it is exhausted or returns an error,
// invoking fn with each event as it is produced. Returns the terminal
// error from the stream, or nil on a clean io.EOF.
func Drain(p *Parser, s llm.Stream, fn func(Event)) error {
	for {
		c, err := s.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, ev := range p.ParseChunk(c) {
			fn(ev)
		}
	}
}
