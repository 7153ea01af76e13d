// Package janitor periodically reaps orphaned runs (spec §9 design note): a
// run left in_progress past its ExpiresAt with no process still driving it
// (e.g. the coordinator that owned it crashed or was redeployed) is
// transitioned to failed so it stops blocking its thread and callers
// polling GetRun see a terminal status rather than hanging forever.
//
// Grounded on the teacher pack's own cron.Cron-backed scheduler: a single
// AddFunc entry, Start/Stop bracketing the cron goroutine's lifetime.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store"
	"github.com/ulifeai/agentb/telemetry"
)

// Janitor sweeps store.RunStore.ListOrphaned on a cron schedule and
// transitions every orphan it finds to RunStatusFailed.
type Janitor struct {
	runs    store.RunStore
	now     func() time.Time
	logger  telemetry.Logger
	c       *cron.Cron
	entryID cron.EntryID
}

// Option configures a Janitor at construction time.
type Option func(*Janitor)

// WithLogger overrides the janitor's logger. Defaults to a noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// New constructs a Janitor backed by runs. schedule is a standard 5-field
// cron expression (e.g. "*/1 * * * *" to sweep every minute).
func New(runs store.RunStore, schedule string, opts ...Option) (*Janitor, error) {
	j := &Janitor{
		runs:   runs,
		now:    time.Now,
		logger: telemetry.NewNoopLogger(),
		c:      cron.New(),
	}
	for _, opt := range opts {
		opt(j)
	}
	id, err := j.c.AddFunc(schedule, j.sweepOnce)
	if err != nil {
		return nil, err
	}
	j.entryID = id
	return j, nil
}

// Start begins the cron runner and blocks until ctx is cancelled, then stops
// the runner and returns.
func (j *Janitor) Start(ctx context.Context) {
	j.c.Start()
	<-ctx.Done()
	j.c.Stop()
}

// SweepNow runs one reap pass immediately, outside the cron schedule. Useful
// for tests and for an operator-triggered manual sweep.
func (j *Janitor) SweepNow(ctx context.Context) (int, error) {
	return j.sweep(ctx)
}

func (j *Janitor) sweepOnce() {
	if _, err := j.sweep(context.Background()); err != nil {
		j.logger.Warn(context.Background(), "janitor sweep failed", "component", "janitor", "err", err)
	}
}

func (j *Janitor) sweep(ctx context.Context) (int, error) {
	orphaned, err := j.runs.ListOrphaned(ctx, j.now())
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, r := range orphaned {
		lastErr := &model.LastError{Code: "orphaned", Message: "run expired with no active coordinator"}
		if _, err := j.runs.Update(ctx, r.ID, model.RunStatusFailed, lastErr, nil); err != nil {
			j.logger.Warn(ctx, "janitor: failed to reap orphaned run",
				"component", "janitor",
				"run_id", r.ID,
				"err", err,
			)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		j.logger.Info(ctx, "janitor: reaped orphaned runs", "component", "janitor", "count", reaped)
	}
	return reaped, nil
}
