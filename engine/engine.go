// Package engine implements the Agent Run Engine (component C7), the per-run
// state machine that interleaves LLM calls, streaming response parsing,
// tool dispatch, and context management (spec §4.7). It is the hardest part
// of the runtime: every suspension point is a cancellation checkpoint, every
// tool failure is folded into the conversation rather than the control
// flow, and every turn writes exactly one assistant message before any tool
// messages it produced.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/ulifeai/agentb/ctxmgr"
	"github.com/ulifeai/agentb/errs"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/ids"
	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/responseparser"
	"github.com/ulifeai/agentb/store"
	"github.com/ulifeai/agentb/telemetry"
	"github.com/ulifeai/agentb/toolexec"
	"github.com/ulifeai/agentb/tools"
)

// Cancellation is a cooperative cancel flag, checked at every suspension
// point (spec §4.7: "after each delta, before each LLM call, before each
// tool call"). Coordinator.CancelRun sets this; it never force-kills
// in-flight work directly — Run derives a cancellable context from it (see
// withCancellation) so that force-kill instead happens the standard Go way:
// ctx cancellation reaching the blocking stream.Recv() through the LLM
// client's own context.WithCancel (spec §4.7, §5).
type Cancellation interface {
	Cancelled() bool
}

// Waitable is implemented by Cancellation values that can also be waited on
// asynchronously. CancelFlag satisfies it; a custom Cancellation without a
// Done channel still works, falling back to polling via Cancelled() at each
// suspension point with no mid-flight HTTP abort.
type Waitable interface {
	Done() <-chan struct{}
}

// CancelFlag is the simplest Cancellation: a channel that Cancel closes once.
type CancelFlag struct{ ch chan struct{} }

// NewCancelFlag constructs an unset CancelFlag.
func NewCancelFlag() *CancelFlag { return &CancelFlag{ch: make(chan struct{})} }

// Cancel marks the flag set. Safe to call more than once.
func (f *CancelFlag) Cancel() {
	select {
	case <-f.ch:
	default:
		close(f.ch)
	}
}

// Cancelled reports whether Cancel has been called.
func (f *CancelFlag) Cancelled() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Done implements Waitable: the returned channel closes when Cancel is
// called.
func (f *CancelFlag) Done() <-chan struct{} { return f.ch }

// withCancellation derives a context that is cancelled either when ctx
// itself is done or when cancel reports Cancelled (observed via its Done
// channel, if it implements Waitable). The returned stop func must be
// called once the derived context is no longer needed, to release the
// watcher goroutine.
func withCancellation(ctx context.Context, cancel Cancellation) (context.Context, func()) {
	if cancel == nil {
		return ctx, func() {}
	}
	w, ok := cancel.(Waitable)
	if !ok {
		return ctx, func() {}
	}

	cctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		select {
		case <-w.Done():
			stop()
		case <-done:
		}
	}()
	return cctx, func() {
		close(done)
		stop()
	}
}

// IdleTimeout is the maximum time runStream waits between bytes from the
// LLM stream before treating the stream as errored (spec §5: "LLM streaming
// MUST respect an idle-timeout (default 60s with no bytes -> treated as
// stream error)").
const IdleTimeout = 60 * time.Second

// recvResult is the outcome of one idle-timeout-guarded stream.Recv call.
type recvResult struct {
	chunk llm.Chunk
	err   error
}

// recvWithIdleTimeout calls stream.Recv on its own goroutine and races it
// against an idle timer, so a provider connection that stalls mid-stream
// errors out after IdleTimeout instead of blocking Recv forever. The timer
// is armed fresh for every call, which is what gives this an "idle" (not
// overall-call) timeout: runStream re-arms it after every chunk received.
func recvWithIdleTimeout(ctx context.Context, stream llm.Stream, idleTimeout time.Duration) (llm.Chunk, error) {
	resultCh := make(chan recvResult, 1)
	go func() {
		chunk, err := stream.Recv()
		resultCh <- recvResult{chunk: chunk, err: err}
	}()

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.chunk, res.err
	case <-timer.C:
		return llm.Chunk{}, errs.New(errs.KindLLM, "llm stream idle for over %s", idleTimeout).WithSub(string(errs.LLMSubTimeout))
	case <-ctx.Done():
		return llm.Chunk{}, errs.Wrap(errs.KindCancelled, ctx.Err(), "llm stream context done")
	}
}

// Engine drives a single run's turn loop.
type Engine struct {
	llmClient  llm.Client
	provider   tools.Provider
	executor   *toolexec.Executor
	ctxManager *ctxmgr.Manager
	messages   store.MessageStore
	runs       store.RunStore
	bus        hooks.Bus
	logger     telemetry.Logger
	seq        atomic.Uint64 // last Seq stamped by publish
}

// Deps bundles Engine's collaborators.
type Deps struct {
	LLMClient      llm.Client
	Provider       tools.Provider
	Executor       *toolexec.Executor
	ContextManager *ctxmgr.Manager
	Messages       store.MessageStore
	Runs           store.RunStore
	Bus            hooks.Bus
	Logger         telemetry.Logger
}

// New constructs an Engine from its collaborators.
func New(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Engine{
		llmClient:  d.LLMClient,
		provider:   d.Provider,
		executor:   d.Executor,
		ctxManager: d.ContextManager,
		messages:   d.Messages,
		runs:       d.Runs,
		bus:        d.Bus,
		logger:     logger,
	}
}

// assistantShell tracks the in-flight assistant message being assembled
// from streaming deltas for the current turn.
type assistantShell struct {
	messageID string
	text      string
	toolCalls map[int]*model.ToolCall
	order     []int
	bytesSeen bool
}

func newAssistantShell(id string) *assistantShell {
	return &assistantShell{messageID: id, toolCalls: make(map[int]*model.ToolCall)}
}

func (s *assistantShell) toToolCalls() []model.ToolCall {
	out := make([]model.ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		out = append(out, *s.toolCalls[idx])
	}
	return out
}

// Run drives the turn loop for a run that has just transitioned to
// in_progress, starting from its persisted thread history plus newInputs
// (the just-persisted user/tool-result messages that triggered this pass).
// It returns once the run reaches a terminal status or requires_action.
func (e *Engine) Run(ctx context.Context, run model.AgentRun, thread model.Thread, newInputs []model.Message, cancel Cancellation) {
	ctx, stop := withCancellation(ctx, cancel)
	defer stop()

	cfg := run.Config.WithDefaults()

	for _, m := range newInputs {
		e.publish(ctx, run, hooks.TypeMessageCreated, hooks.MessageCreatedData{MessageID: m.ID, Role: string(m.Role)})
	}

	turn := 0
	for {
		if cancel != nil && cancel.Cancelled() {
			e.failRun(ctx, run, errs.New(errs.KindCancelled, "run cancelled"))
			return
		}

		turn++
		if turn > cfg.MaxToolCallContinuations {
			e.requireAction(ctx, run, "limit_exceeded", nil)
			return
		}

		e.publish(ctx, run, hooks.TypeRunStatusChanged, hooks.RunStatusChangedData{Phase: "llm_call", Turn: turn})

		history, err := e.loadHistory(ctx, thread.ID)
		if err != nil {
			e.failRun(ctx, run, err)
			return
		}

		assembled, newSummary, err := e.ctxManager.Assemble(ctx, cfg.SystemPrompt, thread.Summary, history, nil, cfg.ContextManager, run.Config.EnableContextManagement)
		if err != nil {
			e.failRun(ctx, run, err)
			return
		}
		thread.Summary = newSummary

		toolDefs, err := e.listToolDefinitions(ctx)
		if err != nil {
			e.failRun(ctx, run, err)
			return
		}

		shellID := ids.Message()
		shell := newAssistantShell(shellID)
		e.publish(ctx, run, hooks.TypeMessageCreated, hooks.MessageCreatedData{MessageID: shellID, Role: string(model.RoleAssistant), InProgress: true})

		outcome, err := e.streamTurn(ctx, run, assembled, toolDefs, cfg, shell, cancel)
		if err != nil {
			e.failRun(ctx, run, err)
			return
		}

		finalMsg := model.Message{
			ID:       shellID,
			ThreadID: thread.ID,
			Role:     model.RoleAssistant,
			Content:  model.NewTextContent(shell.text),
			Attrs:    model.MessageAttributes{ToolCalls: shell.toToolCalls(), RunID: run.ID},
		}
		if _, err := e.messages.Add(ctx, finalMsg); err != nil {
			e.failRun(ctx, run, errs.Wrap(errs.KindStorage, err, "persist assistant message"))
			return
		}
		e.publish(ctx, run, hooks.TypeMessageCompleted, hooks.MessageCompletedData{MessageID: shellID, Role: string(model.RoleAssistant), Content: shell.text})

		switch outcome.finishReason {
		case "stop", "length", "content_filter":
			e.completeRun(ctx, run)
			return
		case "tool_calls":
			// fall through to tool execution phase below
		default:
			e.failRun(ctx, run, errs.New(errs.KindLLM, "unrecognized finish_reason %q", outcome.finishReason))
			return
		}

		if cancel != nil && cancel.Cancelled() {
			e.failRun(ctx, run, errs.New(errs.KindCancelled, "run cancelled"))
			return
		}

		toolCalls := shell.toToolCalls()
		callIDs := make([]string, len(toolCalls))
		for i, tc := range toolCalls {
			callIDs[i] = tc.ID
		}
		e.publish(ctx, run, hooks.TypeRunRequiresAction, hooks.RunRequiresActionData{Reason: "submit_tool_outputs", ToolCallIDs: callIDs})

		execCalls := make([]toolexec.Call, len(toolCalls))
		for i, tc := range toolCalls {
			execCalls[i] = toolexec.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
		execCtx := model.ToolExecContext{RunID: run.ID, ThreadID: thread.ID, RequestAuthOverrides: run.Config.RequestAuthOverrides}
		results := e.executor.ExecuteBatch(ctx, execCalls, execCtx, cfg.ToolExecutor.ExecutionStrategy, cfg.ToolExecutor.MaxConcurrency)

		var toolMessages []model.Message
		for i, res := range results {
			payload, _ := json.Marshal(res)
			text := string(payload)
			tm := model.Message{
				ThreadID: thread.ID,
				Role:     model.RoleTool,
				Content:  model.NewTextContent(text),
				Attrs: model.MessageAttributes{
					ToolCallID: toolCalls[i].ID,
					Name:       toolCalls[i].Function.Name,
					RunID:      run.ID,
				},
			}
			persisted, err := e.messages.Add(ctx, tm)
			if err != nil {
				e.failRun(ctx, run, errs.Wrap(errs.KindStorage, err, "persist tool result message"))
				return
			}
			toolMessages = append(toolMessages, persisted)
			e.publish(ctx, run, hooks.TypeMessageCreated, hooks.MessageCreatedData{MessageID: persisted.ID, Role: string(model.RoleTool)})
		}

		newInputs = toolMessages
	}
}

func (e *Engine) loadHistory(ctx context.Context, threadID string) ([]llm.Message, error) {
	msgs, err := e.messages.Get(ctx, threadID, store.MessageQuery{Order: store.OrderAsc})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, err, "load thread history")
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.Attrs.ToolCalls,
			ToolCallID: m.Attrs.ToolCallID,
			Name:       m.Attrs.Name,
		})
	}
	return out, nil
}

func (e *Engine) listToolDefinitions(ctx context.Context) ([]model.ToolDefinition, error) {
	toolList, err := e.provider.GetTools(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindToolExecution, err, "list tools")
	}
	out := make([]model.ToolDefinition, len(toolList))
	for i, t := range toolList {
		out[i] = t.Definition
	}
	return out, nil
}

type turnOutcome struct {
	finishReason string
	usage        *llm.Usage
}

// streamTurn drives one LLM call to completion, updating shell from parsed
// events and emitting the corresponding deltas. Transport errors are
// retried once with backoff if no bytes have yet been emitted for this
// assistant message (spec §4.7 failure semantics).
func (e *Engine) streamTurn(ctx context.Context, run model.AgentRun, messages []llm.Message, toolDefs []model.ToolDefinition, cfg model.RunConfig, shell *assistantShell, cancel Cancellation) (turnOutcome, error) {
	opts := llm.Options{
		Model:        cfg.Model,
		Tools:        toolDefs,
		ToolChoice:   cfg.ToolChoice,
		Stream:       true,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: cfg.SystemPrompt,
	}

	outcome, err := e.runStream(ctx, run, messages, opts, cfg, shell, cancel)
	if err != nil && !shell.bytesSeen {
		time.Sleep(250 * time.Millisecond)
		shell.text = ""
		shell.toolCalls = make(map[int]*model.ToolCall)
		shell.order = nil
		return e.runStream(ctx, run, messages, opts, cfg, shell, cancel)
	}
	return outcome, err
}

func (e *Engine) runStream(ctx context.Context, run model.AgentRun, messages []llm.Message, opts llm.Options, cfg model.RunConfig, shell *assistantShell, cancel Cancellation) (turnOutcome, error) {
	stream, err := e.llmClient.Generate(ctx, messages, opts)
	if err != nil {
		return turnOutcome{}, errs.Wrap(errs.KindLLM, err, "generate").WithSub(string(errs.LLMSubAPI))
	}
	defer stream.Close()

	parser := responseparser.New(responseparser.Options{
		XML: responseparser.XMLToolCallOptions{
			Enabled:  cfg.ResponseProcessor.EnableXMLToolCalling,
			MaxCalls: cfg.ResponseProcessor.MaxXMLToolCalls,
		},
	})

	var outcome turnOutcome
	seenIndex := make(map[int]bool)

	for {
		if cancel != nil && cancel.Cancelled() {
			return outcome, errs.New(errs.KindCancelled, "run cancelled")
		}

		chunk, err := recvWithIdleTimeout(ctx, stream, IdleTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return outcome, nil
			}
			if errs.Is(err, errs.KindLLM) || errs.Is(err, errs.KindCancelled) {
				return outcome, err
			}
			return outcome, errs.Wrap(errs.KindLLM, err, "stream recv").WithSub(string(errs.LLMSubNetwork))
		}

		for _, ev := range parser.ParseChunk(chunk) {
			switch ev.Kind {
			case responseparser.EventText:
				shell.bytesSeen = true
				shell.text += ev.Text
				e.publish(ctx, run, hooks.TypeMessageDelta, hooks.MessageDeltaData{MessageID: shell.messageID, ContentChunk: ev.Text})
			case responseparser.EventToolCallDelta:
				shell.bytesSeen = true
				if _, ok := shell.toolCalls[ev.Delta.Index]; !ok {
					shell.toolCalls[ev.Delta.Index] = &model.ToolCall{Kind: "function"}
					shell.order = append(shell.order, ev.Delta.Index)
				}
				tc := shell.toolCalls[ev.Delta.Index]
				if ev.Delta.ID != "" {
					tc.ID = ev.Delta.ID
				}
				if ev.Delta.Name != "" {
					tc.Function.Name = ev.Delta.Name
				}
				if ev.Delta.ArgsFragment != "" {
					tc.Function.Arguments += ev.Delta.ArgsFragment
				}
				if !seenIndex[ev.Delta.Index] {
					seenIndex[ev.Delta.Index] = true
					e.publish(ctx, run, hooks.TypeToolCallCreated, hooks.ToolCallLifecycleData{Index: ev.Delta.Index, ToolCallID: tc.ID, Name: tc.Function.Name})
				}
				e.publish(ctx, run, hooks.TypeMessageDelta, hooks.MessageDeltaData{MessageID: shell.messageID, ToolCallsChunk: []hooks.ToolCallDeltaData{{
					Index: ev.Delta.Index, ID: ev.Delta.ID, Name: ev.Delta.Name, ArgsFragment: ev.Delta.ArgsFragment,
				}}})
			case responseparser.EventToolCallFinalized:
				if tc, ok := shell.toolCalls[ev.Finalized.Index]; ok {
					tc.ID = ev.Finalized.ID
					tc.Function.Name = ev.Finalized.Name
					tc.Function.Arguments = ev.Finalized.Arguments
				}
				e.publish(ctx, run, hooks.TypeToolCallCompletedByLLM, hooks.ToolCallLifecycleData{Index: ev.Finalized.Index, ToolCallID: ev.Finalized.ID, Name: ev.Finalized.Name})
			case responseparser.EventCompleted:
				outcome.finishReason = ev.FinishReason
				outcome.usage = ev.Usage
			}
		}
	}
}

func (e *Engine) publish(ctx context.Context, run model.AgentRun, t hooks.EventType, data any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, hooks.Envelope{Type: t, RunID: run.ID, ThreadID: run.ThreadID, Seq: e.seq.Add(1), Data: data}); err != nil {
		e.logger.Warn(ctx, "event publish failed", "component", "engine", "event_type", t, "err", err)
	}
}

func (e *Engine) completeRun(ctx context.Context, run model.AgentRun) {
	if _, err := e.runs.Update(ctx, run.ID, model.RunStatusCompleted, nil, nil); err != nil {
		e.logger.Error(ctx, "failed to persist run completion", "component", "engine", "run_id", run.ID, "err", err)
	}
	e.publish(ctx, run, hooks.TypeRunCompleted, hooks.RunTerminalData{Status: string(model.RunStatusCompleted)})
}

func (e *Engine) failRun(ctx context.Context, run model.AgentRun, cause error) {
	lastErr := &model.LastError{Message: cause.Error()}
	if ae, ok := errs.As(cause); ok {
		lastErr.Code = ae.Code()
		lastErr.Details = ae.Details
	}
	status := model.RunStatusFailed
	if errs.Is(cause, errs.KindCancelled) {
		status = model.RunStatusCancelled
	}
	if _, err := e.runs.Update(ctx, run.ID, status, lastErr, nil); err != nil {
		e.logger.Error(ctx, "failed to persist run failure", "component", "engine", "run_id", run.ID, "err", err)
	}
	e.publish(ctx, run, hooks.TypeRunFailed, hooks.RunTerminalData{
		Status:    string(status),
		LastError: &hooks.LastErrorData{Code: lastErr.Code, Message: lastErr.Message, Details: lastErr.Details},
	})
}

func (e *Engine) requireAction(ctx context.Context, run model.AgentRun, reason string, toolCallIDs []string) {
	attrs := map[string]any{"reason": reason}
	if _, err := e.runs.Update(ctx, run.ID, model.RunStatusRequiresAction, nil, attrs); err != nil {
		e.logger.Error(ctx, "failed to persist requires_action", "component", "engine", "run_id", run.ID, "err", err)
	}
	e.publish(ctx, run, hooks.TypeRunRequiresAction, hooks.RunRequiresActionData{Reason: reason, ToolCallIDs: toolCallIDs})
}
