package janitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/janitor"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store/inmem"
)

func TestSweepNowFailsOrphanedRuns(t *testing.T) {
	ctx := context.Background()
	runs := inmem.NewRunStore()

	past := time.Now().Add(-time.Hour)
	orphan, err := runs.Create(ctx, model.AgentRun{ID: "run_orphan", ThreadID: "thread_1", Status: model.RunStatusInProgress, ExpiresAt: &past})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	_, err = runs.Create(ctx, model.AgentRun{ID: "run_active", ThreadID: "thread_1", Status: model.RunStatusInProgress, ExpiresAt: &future})
	require.NoError(t, err)

	j, err := janitor.New(runs, "@every 1h")
	require.NoError(t, err)

	reaped, err := j.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	updated, err := runs.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, updated.Status)
	require.NotNil(t, updated.LastError)
	assert.Equal(t, "orphaned", updated.LastError.Code)

	stillActive, err := runs.Get(ctx, "run_active")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusInProgress, stillActive.Status)
}

func TestNewRejectsInvalidCronExpression(t *testing.T) {
	runs := inmem.NewRunStore()
	_, err := janitor.New(runs, "not a cron expression")
	assert.Error(t, err)
}
