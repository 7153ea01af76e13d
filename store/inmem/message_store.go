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

// MessageStore is an in-memory store.MessageStore keyed by thread ID.
type MessageStore struct {
	mu       sync.RWMutex
	byThread map[string][]model.Message
}

// NewMessageStore constructs an empty MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{byThread: make(map[string][]model.Message)}
}

// DeleteThread drops every message for threadID. Intended to be wired via
// ThreadStore.OnDelete for cascade-delete semantics (spec §3).
func (s *MessageStore) DeleteThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byThread, threadID)
}

func (s *MessageStore) Add(_ context.Context, m model.Message) (model.Message, error) {
	if err := m.Validate(); err != nil {
		return model.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = ids.Message()
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.byThread[m.ThreadID] = append(s.byThread[m.ThreadID], cloneMessage(m))
	return cloneMessage(m), nil
}

func (s *MessageStore) Get(_ context.Context, threadID string, q store.MessageQuery) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.byThread[threadID]
	out := make([]model.Message, 0, len(all))
	for _, m := range all {
		if q.After != nil && !m.CreatedAt.After(*q.After) {
			continue
		}
		if q.Before != nil && !m.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	asc := q.Order != store.OrderDesc
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MessageStore) Update(_ context.Context, m model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.byThread[m.ThreadID]
	for i, existing := range msgs {
		if existing.ID == m.ID {
			m.CreatedAt = existing.CreatedAt
			m.UpdatedAt = time.Now()
			msgs[i] = cloneMessage(m)
			return cloneMessage(m), nil
		}
	}
	return model.Message{}, store.ErrNotFound
}

func (s *MessageStore) Delete(_ context.Context, threadID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.byThread[threadID]
	for i, m := range msgs {
		if m.ID == messageID {
			s.byThread[threadID] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func cloneMessage(m model.Message) model.Message {
	if m.Attrs.ToolCalls != nil {
		tc := make([]model.ToolCall, len(m.Attrs.ToolCalls))
		copy(tc, m.Attrs.ToolCalls)
		m.Attrs.ToolCalls = tc
	}
	if m.Content.Parts != nil {
		parts := make([]model.ContentPart, len(m.Content.Parts))
		copy(parts, m.Content.Parts)
		m.Content.Parts = parts
	}
	return m
}
