package coordinator_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/coordinator"
	"github.com/ulifeai/agentb/ctxmgr"
	"github.com/ulifeai/agentb/engine"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store/inmem"
	"github.com/ulifeai/agentb/toolexec"
	"github.com/ulifeai/agentb/tools"
)

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

func (c *scriptedClient) CountTokens(ctx context.Context, messages []llm.Message, m string) (int, error) {
	return len(messages) * 10, nil
}

func newCoordinator(client llm.Client) (*coordinator.Coordinator, *inmem.ThreadStore, *inmem.RunStore) {
	threadStore := inmem.NewThreadStore()
	runStore := inmem.NewRunStore()
	msgStore := inmem.NewMessageStore()
	provider := tools.NewAggregator()
	executor := toolexec.New(provider)
	ctxManager := ctxmgr.New(client, nil)

	c := coordinator.New(coordinator.Deps{
		EngineDeps: engine.Deps{
			LLMClient:      client,
			Provider:       provider,
			Executor:       executor,
			ContextManager: ctxManager,
			Messages:       msgStore,
			Runs:           runStore,
		},
		Threads:       threadStore,
		Messages:      msgStore,
		Runs:          runStore,
		DefaultConfig: model.RunConfig{}.WithDefaults(),
	})
	return c, threadStore, runStore
}

func drain(stream coordinator.EventStream, timeout time.Duration) []hooks.EventType {
	var types []hooks.EventType
	deadline := time.After(timeout)
	for {
		select {
		case env, ok := <-stream:
			if !ok {
				return types
			}
			types = append(types, env.Type)
		case <-deadline:
			return types
		}
	}
}

func TestStartRunCompletesAndEmitsTerminalEvent(t *testing.T) {
	client := &scriptedClient{turns: [][]llm.Chunk{{{Content: "hi there"}, {FinishReason: "stop"}}}}
	c, threadStore, runStore := newCoordinator(client)

	thread, err := threadStore.Create(context.Background(), model.Thread{ID: "thread_1"})
	require.NoError(t, err)

	runID, stream, err := c.StartRun(context.Background(), thread.ID, model.Message{Content: model.NewTextContent("hello")})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	events := drain(stream, 2*time.Second)
	assert.Contains(t, events, hooks.TypeRunCompleted)

	got, err := runStore.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
}

func TestResumeRunRejectsRunNotInRequiresAction(t *testing.T) {
	client := &scriptedClient{turns: [][]llm.Chunk{{{Content: "hi"}, {FinishReason: "stop"}}}}
	c, threadStore, runStore := newCoordinator(client)

	thread, err := threadStore.Create(context.Background(), model.Thread{ID: "thread_2"})
	require.NoError(t, err)
	runID, stream, err := c.StartRun(context.Background(), thread.ID, model.Message{Content: model.NewTextContent("hello")})
	require.NoError(t, err)
	drain(stream, 2*time.Second)

	got, err := runStore.Get(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCompleted, got.Status)

	_, err = c.ResumeRun(context.Background(), runID, nil)
	assert.Error(t, err)
}

func TestCancelRunWithNoActiveInvocationErrors(t *testing.T) {
	c, _, _ := newCoordinator(&scriptedClient{})
	err := c.CancelRun(context.Background(), "run_nonexistent")
	assert.Error(t, err)
}

func TestGetRunReturnsPersistedRecord(t *testing.T) {
	client := &scriptedClient{turns: [][]llm.Chunk{{{Content: "hi"}, {FinishReason: "stop"}}}}
	c, threadStore, _ := newCoordinator(client)
	thread, err := threadStore.Create(context.Background(), model.Thread{ID: "thread_3"})
	require.NoError(t, err)

	runID, stream, err := c.StartRun(context.Background(), thread.ID, model.Message{Content: model.NewTextContent("hello")})
	require.NoError(t, err)
	drain(stream, 2*time.Second)

	got, err := c.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runID, got.ID)
}
