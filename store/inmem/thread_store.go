// Package inmem implements ThreadStore, MessageStore, and RunStore backed by
// in-process maps. It has no durability across restarts and is the
// reference store used by tests, the CLI demo, and as a model for the
// durable adapters (store/redisstore, store/pgstore).
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ulifeai/agentb/ids"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store"
)

// ThreadStore is an in-memory store.ThreadStore. All operations are
// thread-safe; records are defensively copied on read and write.
type ThreadStore struct {
	mu      sync.RWMutex
	threads map[string]model.Thread
	// cascadeDelete, when set, is invoked on Delete so MessageStore instances
	// sharing a process can drop the thread's messages too.
	cascadeDelete func(threadID string)
}

// NewThreadStore constructs an empty ThreadStore.
func NewThreadStore() *ThreadStore {
	return &ThreadStore{threads: make(map[string]model.Thread)}
}

// OnDelete registers a callback invoked with the thread ID whenever Delete
// succeeds, letting a MessageStore cascade-delete its messages.
func (s *ThreadStore) OnDelete(fn func(threadID string)) {
	s.cascadeDelete = fn
}

func (s *ThreadStore) Create(_ context.Context, t model.Thread) (model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.Thread()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.threads[t.ID] = cloneThread(t)
	return cloneThread(t), nil
}

func (s *ThreadStore) Get(_ context.Context, id string) (model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return model.Thread{}, store.ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *ThreadStore) Update(_ context.Context, id string, patch store.ThreadPatch) (model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return model.Thread{}, store.ErrNotFound
	}
	if patch.Summary != nil {
		t.Summary = *patch.Summary
	}
	if patch.Attributes != nil {
		t.Attributes = patch.Attributes
	}
	t.UpdatedAt = time.Now()
	s.threads[id] = cloneThread(t)
	return cloneThread(t), nil
}

func (s *ThreadStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.threads[id]
	delete(s.threads, id)
	cb := s.cascadeDelete
	s.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	if cb != nil {
		cb(id)
	}
	return nil
}

func (s *ThreadStore) List(_ context.Context, filter store.ThreadFilter, page store.Pagination) ([]model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if filter.OwnerID != "" && t.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, cloneThread(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if page.Offset > 0 && page.Offset < len(out) {
		out = out[page.Offset:]
	} else if page.Offset >= len(out) {
		out = nil
	}
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out, nil
}

func cloneThread(t model.Thread) model.Thread {
	if t.Attributes != nil {
		attrs := make(map[string]any, len(t.Attributes))
		for k, v := range t.Attributes {
			attrs[k] = v
		}
		t.Attributes = attrs
	}
	return t
}
