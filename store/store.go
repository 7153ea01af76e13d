// Package store declares the persistence seams the runtime depends on:
// ThreadStore, MessageStore, and RunStore (spec §6.2). The runtime never
// assumes a concrete backend; concrete adapters live in store/inmem (the
// reference implementation used by tests and the CLI demo), store/redisstore,
// and store/pgstore.
package store

import (
	"context"
	"time"

	"github.com/ulifeai/agentb/model"
)

// MessageOrder selects ascending or descending ordering for MessageStore.Get.
type MessageOrder string

const (
	OrderAsc  MessageOrder = "asc"
	OrderDesc MessageOrder = "desc"
)

// MessageQuery filters and paginates MessageStore.Get. After is strict '>',
// Before is strict '<' on created_at; the default Order is ascending.
type MessageQuery struct {
	Limit  int
	Before *time.Time
	After  *time.Time
	Order  MessageOrder
}

// ThreadFilter narrows ThreadStore.List results.
type ThreadFilter struct {
	OwnerID string
}

// Pagination bounds a List call.
type Pagination struct {
	Limit  int
	Offset int
}

// ThreadStore persists Thread records.
type ThreadStore interface {
	Create(ctx context.Context, t model.Thread) (model.Thread, error)
	Get(ctx context.Context, id string) (model.Thread, error)
	// Update applies a partial update (summary/attributes); fields left
	// at their zero value in patch are left untouched except where noted by
	// the caller via patch construction helpers.
	Update(ctx context.Context, id string, patch ThreadPatch) (model.Thread, error)
	// Delete removes the thread and cascades to all of its messages.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ThreadFilter, page Pagination) ([]model.Thread, error)
}

// ThreadPatch describes the mutable subset of a Thread. Nil fields are left
// untouched.
type ThreadPatch struct {
	Summary    *string
	Attributes map[string]any
}

// MessageStore persists Messages scoped to a thread.
type MessageStore interface {
	Add(ctx context.Context, m model.Message) (model.Message, error)
	Get(ctx context.Context, threadID string, q MessageQuery) ([]model.Message, error)
	Update(ctx context.Context, m model.Message) (model.Message, error)
	Delete(ctx context.Context, threadID, messageID string) error
}

// RunStore persists AgentRun records.
type RunStore interface {
	Create(ctx context.Context, r model.AgentRun) (model.AgentRun, error)
	Get(ctx context.Context, id string) (model.AgentRun, error)
	// Update transitions the run to the given status, applying the
	// started_at/completed_at bookkeeping from spec §6.2, and merges
	// lastErr/attrs when non-nil.
	Update(ctx context.Context, id string, status model.RunStatus, lastErr *model.LastError, attrs map[string]any) (model.AgentRun, error)
	// ListOrphaned returns in_progress runs whose ExpiresAt has passed, for
	// the janitor to reap (spec §9 design note).
	ListOrphaned(ctx context.Context, asOf time.Time) ([]model.AgentRun, error)
}

// ErrNotFound is returned by store implementations when a lookup misses.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: not found" }
