package ctxmgr_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/ctxmgr"
	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
)

type fakeStream struct{}

func (fakeStream) Recv() (llm.Chunk, error) { return llm.Chunk{}, io.EOF }
func (fakeStream) Close() error             { return nil }

type fakeClient struct {
	tokensPerMessage int
}

func (f *fakeClient) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	return fakeStream{}, nil
}

func (f *fakeClient) CountTokens(ctx context.Context, messages []llm.Message, model string) (int, error) {
	n := f.tokensPerMessage
	if n == 0 {
		n = 10
	}
	return len(messages) * n, nil
}

type fakeSummarizer struct {
	calls int
	seen  []llm.Message
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []llm.Message, prompt string) (string, error) {
	f.calls++
	f.seen = append(f.seen, messages...)
	return "summary of earlier turns", nil
}

func msg(role model.Role, text string) llm.Message {
	return llm.Message{Role: role, Content: model.NewTextContent(text)}
}

func TestAssembleWithoutContextManagementReturnsAsIs(t *testing.T) {
	client := &fakeClient{}
	m := ctxmgr.New(client, nil)
	history := []llm.Message{msg(model.RoleUser, "hi")}
	assembled, summary, err := m.Assemble(context.Background(), "sys", "", history, nil, model.ContextManagerConfig{}, false)
	require.NoError(t, err)
	assert.Equal(t, "", summary)
	require.Len(t, assembled, 2) // system + history
}

func TestAssembleBelowThresholdSkipsSummarization(t *testing.T) {
	client := &fakeClient{tokensPerMessage: 1}
	summarizer := &fakeSummarizer{}
	m := ctxmgr.New(client, summarizer)
	history := []llm.Message{msg(model.RoleUser, "hi")}
	cfg := model.ContextManagerConfig{MaxInputTokens: 1000, SummaryTriggerRatio: 0.85, PreserveLastN: 6}
	_, _, err := m.Assemble(context.Background(), "sys", "", history, nil, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, 0, summarizer.calls)
}

func TestAssembleOverThresholdSummarizesAndPreservesLastN(t *testing.T) {
	client := &fakeClient{tokensPerMessage: 100}
	summarizer := &fakeSummarizer{}
	m := ctxmgr.New(client, summarizer)

	var history []llm.Message
	for i := 0; i < 20; i++ {
		history = append(history, msg(model.RoleUser, "turn"))
	}
	cfg := model.ContextManagerConfig{MaxInputTokens: 1000, SummaryTriggerRatio: 0.1, PreserveLastN: 3}
	assembled, summary, err := m.Assemble(context.Background(), "sys", "", history, nil, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summarizer.calls)
	assert.Contains(t, summary, "summary of earlier turns")
	_ = assembled
}

func TestAssembleTruncatesDownToTargetNotJustMaxInputTokens(t *testing.T) {
	client := &fakeClient{tokensPerMessage: 100}
	summarizer := &fakeSummarizer{}
	m := ctxmgr.New(client, summarizer)

	var history []llm.Message
	for i := 0; i < 20; i++ {
		history = append(history, msg(model.RoleUser, "turn"))
	}
	// Summarization alone won't satisfy TargetAfterTruncation (400 tokens),
	// only MaxInputTokens (1000), so the drop-oldest loop must keep running
	// past the point it would have stopped at absent TargetAfterTruncation.
	cfg := model.ContextManagerConfig{
		MaxInputTokens:        1000,
		TargetAfterTruncation: 400,
		SummaryTriggerRatio:   0.1,
		PreserveLastN:         3,
	}
	assembled, _, err := m.Assemble(context.Background(), "sys", "", history, nil, cfg, true)
	require.NoError(t, err)

	got, err := client.CountTokens(context.Background(), assembled, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, got, 400)
}

func TestAssembleNeverSplitsToolCallPair(t *testing.T) {
	client := &fakeClient{tokensPerMessage: 1000}
	summarizer := &fakeSummarizer{}
	m := ctxmgr.New(client, summarizer)

	assistantWithCalls := llm.Message{
		Role:      model.RoleAssistant,
		ToolCalls: []model.ToolCall{{ID: "tc1", Kind: "function", Function: model.ToolCallFunction{Name: "x"}}},
	}
	toolResult := llm.Message{Role: model.RoleTool, ToolCallID: "tc1", Content: model.NewTextContent("ok")}

	history := []llm.Message{
		msg(model.RoleUser, "old 1"),
		msg(model.RoleUser, "old 2"),
		assistantWithCalls,
		toolResult,
	}
	cfg := model.ContextManagerConfig{MaxInputTokens: 10, SummaryTriggerRatio: 0.1, PreserveLastN: 1}
	_, _, err := m.Assemble(context.Background(), "sys", "", history, nil, cfg, true)
	// Regardless of outcome (overflow is plausible given the tiny budget),
	// the summarizer must never have been handed a lone half of the pair.
	require.Error(t, err) // budget is unsatisfiable here; asserts ContextOverflow path runs cleanly
	for _, m := range summarizer.seen {
		assert.NotEqual(t, model.RoleTool, m.Role)
		assert.Empty(t, m.ToolCalls)
	}
}
