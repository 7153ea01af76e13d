package responseparser_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/responseparser"
)

func strPtr(s string) *string { return &s }

func TestParseChunkTextEmitsTextEvent(t *testing.T) {
	p := responseparser.New(responseparser.Options{})
	events := p.ParseChunk(llm.Chunk{Content: "Hi"})
	require.Len(t, events, 1)
	assert.Equal(t, responseparser.EventText, events[0].Kind)
	assert.Equal(t, "Hi", events[0].Text)
}

func TestToolCallAssemblyAcrossChunks(t *testing.T) {
	p := responseparser.New(responseparser.Options{})

	c1 := llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, ID: strPtr("t1"), Function: struct {
		Name      *string `json:"name,omitempty"`
		Arguments *string `json:"arguments,omitempty"`
	}{Name: strPtr("add")}}}}
	c2 := llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, Function: struct {
		Name      *string `json:"name,omitempty"`
		Arguments *string `json:"arguments,omitempty"`
	}{Arguments: strPtr(`{"a":2,`)}}}}
	c3 := llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, Function: struct {
		Name      *string `json:"name,omitempty"`
		Arguments *string `json:"arguments,omitempty"`
	}{Arguments: strPtr(`"b":3}`)}}}}
	c4 := llm.Chunk{FinishReason: "tool_calls"}

	for _, c := range []llm.Chunk{c1, c2, c3} {
		events := p.ParseChunk(c)
		require.Len(t, events, 1)
		assert.Equal(t, responseparser.EventToolCallDelta, events[0].Kind)
	}

	final := p.ParseChunk(c4)
	require.Len(t, final, 2)
	assert.Equal(t, responseparser.EventToolCallFinalized, final[0].Kind)
	assert.Equal(t, "t1", final[0].Finalized.ID)
	assert.Equal(t, "add", final[0].Finalized.Name)
	assert.Equal(t, `{"a":2,"b":3}`, final[0].Finalized.Arguments)
	assert.Equal(t, responseparser.EventCompleted, final[1].Kind)
}

func TestStopFinishDoesNotFinalizePendingToolCalls(t *testing.T) {
	p := responseparser.New(responseparser.Options{})
	p.ParseChunk(llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, ID: strPtr("t1")}}})
	events := p.ParseChunk(llm.Chunk{FinishReason: "stop"})
	require.Len(t, events, 1)
	assert.Equal(t, responseparser.EventCompleted, events[0].Kind)
	assert.Equal(t, "stop", events[0].FinishReason)
}

func TestFinalizationIsAscendingByIndexRegardlessOfArrivalOrder(t *testing.T) {
	p := responseparser.New(responseparser.Options{})
	p.ParseChunk(llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 2, ID: strPtr("c")}}})
	p.ParseChunk(llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, ID: strPtr("a")}}})
	p.ParseChunk(llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 1, ID: strPtr("b")}}})
	final := p.ParseChunk(llm.Chunk{FinishReason: "tool_calls"})
	require.Len(t, final, 4) // 3 finalized + completed
	assert.Equal(t, "a", final[0].Finalized.ID)
	assert.Equal(t, "b", final[1].Finalized.ID)
	assert.Equal(t, "c", final[2].Finalized.ID)
}

func TestArgumentsSpanningManyChunksConcatenateInOrder(t *testing.T) {
	p := responseparser.New(responseparser.Options{})
	var want strings.Builder
	for i := 0; i < 120; i++ {
		frag := strconv.Itoa(i) + ","
		want.WriteString(frag)
		p.ParseChunk(llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, Function: struct {
			Name      *string `json:"name,omitempty"`
			Arguments *string `json:"arguments,omitempty"`
		}{Arguments: &frag}}}})
	}
	final := p.ParseChunk(llm.Chunk{FinishReason: "tool_calls"})
	require.Len(t, final, 2)
	assert.Equal(t, want.String(), final[0].Finalized.Arguments)
}

func TestIdempotentReplay(t *testing.T) {
	chunks := []llm.Chunk{
		{Content: "Hi"},
		{ToolCalls: []llm.ToolCallChunk{{Index: 0, ID: strPtr("t1"), Function: struct {
			Name      *string `json:"name,omitempty"`
			Arguments *string `json:"arguments,omitempty"`
		}{Name: strPtr("add"), Arguments: strPtr(`{}`)}}}},
		{FinishReason: "tool_calls"},
	}

	run := func() []responseparser.Event {
		p := responseparser.New(responseparser.Options{})
		var out []responseparser.Event
		for _, c := range chunks {
			out = append(out, p.ParseChunk(c)...)
		}
		return out
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}

// TestReplayIsDeterministicForArbitraryTextProperty generalizes
// TestIdempotentReplay beyond one fixed chunk sequence: for any text split
// into arbitrarily many chunks, feeding those chunks through a fresh parser
// twice must yield identical event sequences both times, since ParseChunk
// holds all its state in the parser value and must never depend on
// anything outside it (wall clock, map iteration order, and so on).
func TestReplayIsDeterministicForArbitraryTextProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("replaying the same chunk split twice yields identical events", prop.ForAll(
		func(fragments []string) bool {
			run := func() []responseparser.Event {
				p := responseparser.New(responseparser.Options{})
				var out []responseparser.Event
				for _, f := range fragments {
					out = append(out, p.ParseChunk(llm.Chunk{Content: f})...)
				}
				out = append(out, p.ParseChunk(llm.Chunk{FinishReason: "stop"})...)
				return out
			}

			first := run()
			second := run()
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if first[i] != second[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestEmptyContentWithFinishReasonIsTreatedAsFinishSignal(t *testing.T) {
	p := responseparser.New(responseparser.Options{})
	events := p.ParseChunk(llm.Chunk{Content: "", FinishReason: "stop"})
	require.Len(t, events, 1)
	assert.Equal(t, responseparser.EventCompleted, events[0].Kind)
}

func TestXMLToolCallingDisabledByDefaultLeavesTextIntact(t *testing.T) {
	p := responseparser.New(responseparser.Options{})
	events := p.ParseChunk(llm.Chunk{Content: `<tool name="add"><arg name="a">1</arg></tool>`})
	require.Len(t, events, 1)
	assert.Equal(t, responseparser.EventText, events[0].Kind)
}

func TestXMLToolCallingParsesCompleteTagAndSuppressesFromText(t *testing.T) {
	p := responseparser.New(responseparser.Options{XML: responseparser.XMLToolCallOptions{Enabled: true, MaxCalls: 5}})
	events := p.ParseChunk(llm.Chunk{Content: `before <tool name="add"><arg name="a">1</arg><arg name="b">2</arg></tool> after`})

	var texts []string
	var finals []responseparser.FinalToolCall
	for _, e := range events {
		switch e.Kind {
		case responseparser.EventText:
			texts = append(texts, e.Text)
		case responseparser.EventToolCallFinalized:
			finals = append(finals, e.Finalized)
		}
	}
	assert.Equal(t, "before  after", strings.Join(texts, ""))
	require.Len(t, finals, 1)
	assert.Equal(t, "add", finals[0].Name)
	assert.Contains(t, finals[0].Arguments, `"a":"1"`)
}

func TestXMLToolCallingHoldsHalfOpenTagUntilMoreTextArrives(t *testing.T) {
	p := responseparser.New(responseparser.Options{XML: responseparser.XMLToolCallOptions{Enabled: true, MaxCalls: 5}})

	events1 := p.ParseChunk(llm.Chunk{Content: `see <tool name="add"><arg name="a">1</arg>`})
	for _, e := range events1 {
		assert.NotEqual(t, responseparser.EventToolCallFinalized, e.Kind)
	}

	events2 := p.ParseChunk(llm.Chunk{Content: `</tool> done`})
	var finals int
	for _, e := range events2 {
		if e.Kind == responseparser.EventToolCallFinalized {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}
