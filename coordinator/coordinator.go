// Package coordinator implements the Run Coordinator / API (component C10):
// the transport-agnostic entry point that turns a caller's start/resume/
// cancel/get calls into Agent Run Engine invocations, each driven on its own
// goroutine and observable through a lazily-consumed event stream.
package coordinator

import (
	"context"
	"fmt"

	"github.com/ulifeai/agentb/engine"
	"github.com/ulifeai/agentb/errs"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/ids"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store"
)

// EventStream is a lazily-consumed channel of envelopes for one run
// invocation. It is closed once the engine returns (terminal status or
// requires_action).
type EventStream <-chan hooks.Envelope

// Coordinator exposes the public start_run/resume_run/cancel_run/get_run
// operations over an Engine and its backing stores. Each invocation gets
// its own Engine instance sharing the same underlying collaborators but
// wired to a per-invocation event bus, so concurrent runs never cross-wire
// event streams.
type Coordinator struct {
	engineDeps engine.Deps
	threads    store.ThreadStore
	messages   store.MessageStore
	runs       store.RunStore
	bus        hooks.Bus

	defaultConfig model.RunConfig

	mu      chan struct{} // binary semaphore guarding the cancel-flag map
	cancels map[string]*engine.CancelFlag
}

// Deps bundles the Coordinator's collaborators. EngineDeps.Bus is ignored;
// the Coordinator substitutes a fresh per-invocation bus on every call.
type Deps struct {
	EngineDeps    engine.Deps
	Threads       store.ThreadStore
	Messages      store.MessageStore
	Runs          store.RunStore
	Bus           hooks.Bus
	DefaultConfig model.RunConfig
}

// New constructs a Coordinator.
func New(d Deps) *Coordinator {
	c := &Coordinator{
		engineDeps:    d.EngineDeps,
		threads:       d.Threads,
		messages:      d.Messages,
		runs:          d.Runs,
		bus:           d.Bus,
		defaultConfig: d.DefaultConfig,
		mu:            make(chan struct{}, 1),
		cancels:       make(map[string]*engine.CancelFlag),
	}
	c.mu <- struct{}{}
	return c
}

// ConfigOverrides adjusts the per-call copy of the Coordinator's default
// RunConfig; fields it does not set keep their default values.
type ConfigOverrides func(*model.RunConfig)

// StartRun creates a run record for threadID, persists userMessage, enters
// in_progress, and drives the engine on a new goroutine. It returns
// immediately with the run id and a lazy event stream.
func (c *Coordinator) StartRun(ctx context.Context, threadID string, userMessage model.Message, overrides ...ConfigOverrides) (string, EventStream, error) {
	thread, err := c.threads.Get(ctx, threadID)
	if err != nil {
		return "", nil, fmt.Errorf("coordinator: load thread: %w", err)
	}

	cfg := c.defaultConfig
	for _, o := range overrides {
		o(&cfg)
	}

	run := model.AgentRun{
		ID:       ids.Run(),
		ThreadID: threadID,
		Status:   model.RunStatusQueued,
		Config:   cfg,
	}
	run, err = c.runs.Create(ctx, run)
	if err != nil {
		return "", nil, fmt.Errorf("coordinator: create run: %w", err)
	}
	c.publish(ctx, run, hooks.TypeRunCreated, nil)

	userMessage.ThreadID = threadID
	userMessage.Role = model.RoleUser
	persisted, err := c.messages.Add(ctx, userMessage)
	if err != nil {
		return "", nil, fmt.Errorf("coordinator: persist user message: %w", err)
	}

	run, err = c.runs.Update(ctx, run.ID, model.RunStatusInProgress, nil, nil)
	if err != nil {
		return "", nil, fmt.Errorf("coordinator: transition run to in_progress: %w", err)
	}

	stream := c.runAsync(run, thread, []model.Message{persisted})
	return run.ID, stream, nil
}

// ResumeRun is valid only from requires_action: it persists tool_outputs as
// role=tool messages and re-enters the engine loop.
func (c *Coordinator) ResumeRun(ctx context.Context, runID string, toolOutputs []model.Message) (EventStream, error) {
	run, err := c.runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load run: %w", err)
	}
	if run.Status != model.RunStatusRequiresAction {
		return nil, errs.New(errs.KindValidation, "resume_run: run %q is not in requires_action (status=%s)", runID, run.Status)
	}

	thread, err := c.threads.Get(ctx, run.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load thread: %w", err)
	}

	persisted := make([]model.Message, 0, len(toolOutputs))
	for _, m := range toolOutputs {
		m.ThreadID = run.ThreadID
		m.Role = model.RoleTool
		pm, err := c.messages.Add(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("coordinator: persist tool output: %w", err)
		}
		persisted = append(persisted, pm)
	}

	run, err = c.runs.Update(ctx, run.ID, model.RunStatusInProgress, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("coordinator: transition run to in_progress: %w", err)
	}

	return c.runAsync(run, thread, persisted), nil
}

// CancelRun sets the run's cooperative cancellation flag. The engine
// transitions to cancelled at its next checkpoint; CancelRun itself does
// not block on that transition.
func (c *Coordinator) CancelRun(ctx context.Context, runID string) error {
	<-c.mu
	flag, ok := c.cancels[runID]
	c.mu <- struct{}{}
	if !ok {
		return errs.New(errs.KindValidation, "cancel_run: no active invocation for run %q", runID)
	}
	flag.Cancel()
	return nil
}

// GetRun returns the current persisted run record.
func (c *Coordinator) GetRun(ctx context.Context, runID string) (model.AgentRun, error) {
	return c.runs.Get(ctx, runID)
}

// runAsync drives one engine invocation on its own goroutine, fanning
// published events out to both the Coordinator's own bus (for sinks wired
// at construction time, e.g. persistence) and a private channel the caller
// receives as its lazy event stream.
func (c *Coordinator) runAsync(run model.AgentRun, thread model.Thread, newInputs []model.Message) EventStream {
	out := make(chan hooks.Envelope, 64)
	flag := engine.NewCancelFlag()

	<-c.mu
	c.cancels[run.ID] = flag
	c.mu <- struct{}{}

	localBus := hooks.NewBus()
	_, _ = localBus.Register(hooks.SubscriberFunc(func(ctx context.Context, env hooks.Envelope) error {
		if c.bus != nil {
			_ = c.bus.Publish(ctx, env)
		}
		// Blocks if the caller is draining the stream slowly; emission is
		// non-dropping, which throttles the engine's own LLM streaming.
		out <- env
		return nil
	}))

	deps := c.engineDeps
	deps.Bus = localBus
	e := engine.New(deps)

	go func() {
		defer close(out)
		defer func() {
			<-c.mu
			delete(c.cancels, run.ID)
			c.mu <- struct{}{}
		}()
		// ctx is background here on purpose: Engine.Run derives its own
		// cancellable context from flag (engine.withCancellation), so
		// CancelRun's Cancel() call still force-aborts in-flight LLM/tool
		// I/O even though this goroutine has no parent deadline of its own.
		e.Run(context.Background(), run, thread, newInputs, flag)
	}()

	return out
}

func (c *Coordinator) publish(ctx context.Context, run model.AgentRun, t hooks.EventType, data any) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(ctx, hooks.Envelope{Type: t, RunID: run.ID, ThreadID: run.ThreadID, Data: data})
}
