// Package toolexec implements the Tool Executor (component C5): looking up a
// tool call by name, parsing its arguments, invoking it, and normalizing any
// error so a misbehaving tool can never crash the run. A batch of calls runs
// either sequentially or with a bounded worker pool, matching the teacher's
// provider worker-pool pattern.
package toolexec

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/telemetry"
	"github.com/ulifeai/agentb/tools"
)

// Lookup resolves a tool by name. *tools.Aggregator satisfies this directly.
type Lookup interface {
	GetTool(ctx context.Context, name string) (model.Tool, bool, error)
}

// Executor runs tool calls on behalf of an in-flight run.
type Executor struct {
	lookup    Lookup
	logger    telemetry.Logger
	bus       hooks.Bus
	validator *SchemaValidator
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithLogger overrides the executor's logger. Defaults to a noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithBus attaches an event bus that tool.execution.started/completed
// events are published to. Without one, execution proceeds without emitting
// events.
func WithBus(b hooks.Bus) Option {
	return func(e *Executor) { e.bus = b }
}

// WithSchemaValidation validates decoded tool-call arguments against the
// tool's derived JSON schema before Execute runs. Without this option,
// arguments are only parsed as JSON, not schema-checked.
func WithSchemaValidation() Option {
	return func(e *Executor) { e.validator = NewSchemaValidator() }
}

// New constructs an Executor backed by lookup.
func New(lookup Lookup, opts ...Option) *Executor {
	e := &Executor{lookup: lookup, logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call is one tool invocation request, decoupled from model.ToolCall so
// callers can supply already-finalized arguments (spec: function.arguments
// is parsed as JSON here, not earlier).
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Execute runs one tool call and returns a ToolResult. It never returns an
// error itself: all failure modes are reported via ToolResult.Success=false
// so a single bad tool call cannot abort the run.
func (e *Executor) Execute(ctx context.Context, call Call, execCtx model.ToolExecContext) model.ToolResult {
	if execCtx.StepID == "" {
		execCtx.StepID = call.ID // one step per tool call
	}
	started := time.Now()
	e.publish(ctx, execCtx, hooks.TypeToolExecutionStarted, hooks.ToolExecutionStartedData{
		ToolCallID: call.ID,
		Name:       call.Name,
	})

	result := e.execute(ctx, call, execCtx)

	e.publish(ctx, execCtx, hooks.TypeToolExecutionCompleted, hooks.ToolExecutionCompletedData{
		ToolCallID: call.ID,
		Name:       call.Name,
		Success:    result.Success,
		Error:      result.Error,
		DurationMS: time.Since(started).Milliseconds(),
	})
	return result
}

func (e *Executor) execute(ctx context.Context, call Call, execCtx model.ToolExecContext) model.ToolResult {
	tool, ok, err := e.lookup.GetTool(ctx, call.Name)
	if err != nil {
		e.logger.Warn(ctx, "tool lookup failed during execution",
			"component", "toolexec",
			"tool", call.Name,
			"err", err,
		)
	}
	if !ok {
		return model.ToolResult{Success: false, Error: "tool_not_found"}
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return model.ToolResult{Success: false, Error: "invalid_arguments"}
		}
	}

	if e.validator != nil {
		if err := e.validator.Validate(tool.Definition, args); err != nil {
			return model.ToolResult{
				Success:    false,
				Error:      "schema_validation_failed: " + err.Error(),
				Attributes: map[string]any{"category": "schema_validation"},
			}
		}
	}

	return e.invoke(ctx, tool, execCtx, args)
}

// invoke calls the tool's Execute function, converting a panic or returned
// error into a normalized failed ToolResult rather than propagating it.
func (e *Executor) invoke(ctx context.Context, tool model.Tool, execCtx model.ToolExecContext, args map[string]any) (result model.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "tool execution panicked",
				"component", "toolexec",
				"tool", tool.Definition.Name,
				"panic", r,
			)
			result = model.ToolResult{
				Success:    false,
				Error:      "tool panicked",
				Attributes: map[string]any{"category": "panic"},
			}
		}
	}()

	res, err := tool.Execute(ctx, execCtx, args)
	if err != nil {
		return model.ToolResult{
			Success:    false,
			Error:      err.Error(),
			Attributes: map[string]any{"category": "execution_error"},
		}
	}
	return res
}

func (e *Executor) publish(ctx context.Context, execCtx model.ToolExecContext, evType hooks.EventType, data any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, hooks.Envelope{
		Type:     evType,
		RunID:    execCtx.RunID,
		ThreadID: execCtx.ThreadID,
		Data:     data,
	}); err != nil {
		e.logger.Warn(ctx, "event publish failed",
			"component", "toolexec",
			"event_type", evType,
			"err", err,
		)
	}
}

// ExecuteBatch runs calls according to strategy, returning results in the
// same order as calls regardless of strategy.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call, execCtx model.ToolExecContext, strategy model.ExecutionStrategy, maxConcurrency int) []model.ToolResult {
	if strategy == model.ExecutionParallel && len(calls) > 1 {
		return e.executeParallel(ctx, calls, execCtx, maxConcurrency)
	}
	return e.executeSequential(ctx, calls, execCtx)
}

func (e *Executor) executeSequential(ctx context.Context, calls []Call, execCtx model.ToolExecContext) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))
	for i, c := range calls {
		results[i] = e.Execute(ctx, c, execCtx)
	}
	return results
}

func (e *Executor) executeParallel(ctx context.Context, calls []Call, execCtx model.ToolExecContext, maxConcurrency int) []model.ToolResult {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	results := make([]model.ToolResult, len(calls))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, c := range calls {
		i, c := i, c
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Execute(ctx, c, execCtx)
		}()
	}
	wg.Wait()
	return results
}
