package engine_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/ctxmgr"
	"github.com/ulifeai/agentb/engine"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store/inmem"
	"github.com/ulifeai/agentb/toolexec"
	"github.com/ulifeai/agentb/tools"
)

// scriptedStream replays a fixed chunk sequence.
type scriptedStream struct {
	chunks []llm.Chunk
	i      int
}

func (s *scriptedStream) Recv() (llm.Chunk, error) {
	if s.i >= len(s.chunks) {
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *scriptedStream) Close() error { return nil }

type scriptedClient struct {
	turns [][]llm.Chunk
	turn  int
}

func (c *scriptedClient) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	idx := c.turn
	if idx >= len(c.turns) {
		idx = len(c.turns) - 1
	}
	c.turn++
	return &scriptedStream{chunks: c.turns[idx]}, nil
}

func (c *scriptedClient) CountTokens(ctx context.Context, messages []llm.Message, model string) (int, error) {
	return len(messages) * 10, nil
}

func strp(s string) *string { return &s }

func TestEngineSimpleTextCompletion(t *testing.T) {
	client := &scriptedClient{turns: [][]llm.Chunk{
		{{Content: "Hello there"}, {FinishReason: "stop"}},
	}}

	msgStore := inmem.NewMessageStore()
	runStore := inmem.NewRunStore()
	provider := tools.NewAggregator()
	executor := toolexec.New(provider)
	ctxManager := ctxmgr.New(client, nil)
	bus := hooks.NewBus()

	var events []hooks.EventType
	_, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, env hooks.Envelope) error {
		events = append(events, env.Type)
		return nil
	}))
	require.NoError(t, err)

	e := engine.New(engine.Deps{
		LLMClient: client, Provider: provider, Executor: executor,
		ContextManager: ctxManager, Messages: msgStore, Runs: runStore, Bus: bus,
	})

	run := model.AgentRun{ID: "run_1", ThreadID: "thread_1", Status: model.RunStatusInProgress, Config: model.RunConfig{}.WithDefaults()}
	_, err = runStore.Create(context.Background(), run)
	require.NoError(t, err)
	thread := model.Thread{ID: "thread_1"}

	e.Run(context.Background(), run, thread, nil, nil)

	got, err := runStore.Get(context.Background(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Contains(t, events, hooks.TypeRunCompleted)
}

func TestEngineToolCallLoop(t *testing.T) {
	client := &scriptedClient{turns: [][]llm.Chunk{
		{
			{ToolCalls: []llm.ToolCallChunk{{Index: 0, ID: strp("call_1"), Function: struct {
				Name      *string `json:"name,omitempty"`
				Arguments *string `json:"arguments,omitempty"`
			}{Name: strp("echo"), Arguments: strp(`{"x":1}`)}}}},
			{FinishReason: "tool_calls"},
		},
		{{Content: "done"}, {FinishReason: "stop"}},
	}}

	msgStore := inmem.NewMessageStore()
	runStore := inmem.NewRunStore()
	provider := tools.NewAggregator()
	provider.AddNamed("local", tools.NewStaticProvider("local", []model.Tool{
		{
			Definition: model.ToolDefinition{Name: "echo"},
			Execute: func(_ context.Context, _ model.ToolExecContext, args map[string]any) (model.ToolResult, error) {
				return model.ToolResult{Success: true, Data: args}, nil
			},
		},
	}))
	executor := toolexec.New(provider)
	ctxManager := ctxmgr.New(client, nil)
	bus := hooks.NewBus()

	e := engine.New(engine.Deps{
		LLMClient: client, Provider: provider, Executor: executor,
		ContextManager: ctxManager, Messages: msgStore, Runs: runStore, Bus: bus,
	})

	run := model.AgentRun{ID: "run_2", ThreadID: "thread_2", Status: model.RunStatusInProgress, Config: model.RunConfig{}.WithDefaults()}
	_, err := runStore.Create(context.Background(), run)
	require.NoError(t, err)
	thread := model.Thread{ID: "thread_2"}

	e.Run(context.Background(), run, thread, nil, nil)

	got, err := runStore.Get(context.Background(), "run_2")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
}

func TestEngineContinuationLimitYieldsRequiresAction(t *testing.T) {
	toolCallTurn := []llm.Chunk{
		{ToolCalls: []llm.ToolCallChunk{{Index: 0, ID: strp("call_x"), Function: struct {
			Name      *string `json:"name,omitempty"`
			Arguments *string `json:"arguments,omitempty"`
		}{Name: strp("echo"), Arguments: strp(`{}`)}}}},
		{FinishReason: "tool_calls"},
	}
	client := &scriptedClient{turns: [][]llm.Chunk{toolCallTurn, toolCallTurn, toolCallTurn}}

	msgStore := inmem.NewMessageStore()
	runStore := inmem.NewRunStore()
	provider := tools.NewAggregator()
	provider.AddNamed("local", tools.NewStaticProvider("local", []model.Tool{
		{Definition: model.ToolDefinition{Name: "echo"}, Execute: func(_ context.Context, _ model.ToolExecContext, args map[string]any) (model.ToolResult, error) {
			return model.ToolResult{Success: true}, nil
		}},
	}))
	executor := toolexec.New(provider)
	ctxManager := ctxmgr.New(client, nil)
	bus := hooks.NewBus()

	e := engine.New(engine.Deps{
		LLMClient: client, Provider: provider, Executor: executor,
		ContextManager: ctxManager, Messages: msgStore, Runs: runStore, Bus: bus,
	})

	cfg := model.RunConfig{MaxToolCallContinuations: 2}.WithDefaults()
	cfg.MaxToolCallContinuations = 2
	run := model.AgentRun{ID: "run_3", ThreadID: "thread_3", Status: model.RunStatusInProgress, Config: cfg}
	_, err := runStore.Create(context.Background(), run)
	require.NoError(t, err)
	thread := model.Thread{ID: "thread_3"}

	e.Run(context.Background(), run, thread, nil, nil)

	got, err := runStore.Get(context.Background(), "run_3")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRequiresAction, got.Status)
}

func TestEngineCancellationStopsRunPromptly(t *testing.T) {
	client := &scriptedClient{turns: [][]llm.Chunk{{{Content: "hi"}, {FinishReason: "stop"}}}}
	msgStore := inmem.NewMessageStore()
	runStore := inmem.NewRunStore()
	provider := tools.NewAggregator()
	executor := toolexec.New(provider)
	ctxManager := ctxmgr.New(client, nil)
	bus := hooks.NewBus()

	e := engine.New(engine.Deps{
		LLMClient: client, Provider: provider, Executor: executor,
		ContextManager: ctxManager, Messages: msgStore, Runs: runStore, Bus: bus,
	})

	cancel := engine.NewCancelFlag()
	cancel.Cancel()

	run := model.AgentRun{ID: "run_4", ThreadID: "thread_4", Status: model.RunStatusInProgress, Config: model.RunConfig{}.WithDefaults()}
	_, err := runStore.Create(context.Background(), run)
	require.NoError(t, err)
	thread := model.Thread{ID: "thread_4"}

	e.Run(context.Background(), run, thread, nil, cancel)

	got, err := runStore.Get(context.Background(), "run_4")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, got.Status)
}
