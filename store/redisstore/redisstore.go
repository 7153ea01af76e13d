// Package redisstore implements ThreadStore, MessageStore, and RunStore over
// github.com/redis/go-redis/v9: every record is a JSON blob under a
// namespaced key, with a per-thread sorted set ordering messages by
// creation time and a per-owner set indexing threads for List. Grounded on
// the teacher's own Redis usage in registry/result_stream.go (key
// namespacing, redis.Nil handling). Orphaned runs are indexed in a sorted
// set scored by ExpiresAt; no key carries a Redis TTL.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ulifeai/agentb/ids"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store"
)

// defaultKeyPrefix namespaces every key this package writes, so a store can share
// a Redis database with other applications.
const defaultKeyPrefix = "agentb"

type keys struct{ prefix string }

func (k keys) thread(id string) string        { return fmt.Sprintf("%s:thread:%s", k.prefix, id) }
func (k keys) threadOwnerSet(owner string) string {
	return fmt.Sprintf("%s:threads_by_owner:%s", k.prefix, owner)
}
func (k keys) threadSet() string              { return fmt.Sprintf("%s:threads", k.prefix) }
func (k keys) message(threadID, id string) string {
	return fmt.Sprintf("%s:thread:%s:message:%s", k.prefix, threadID, id)
}
func (k keys) messageIndex(threadID string) string {
	return fmt.Sprintf("%s:thread:%s:messages", k.prefix, threadID)
}
func (k keys) run(id string) string       { return fmt.Sprintf("%s:run:%s", k.prefix, id) }
func (k keys) runOrphanSet() string       { return fmt.Sprintf("%s:runs_in_progress", k.prefix) }

// ThreadStore is a Redis-backed store.ThreadStore.
type ThreadStore struct {
	rdb  *redis.Client
	keys keys
}

// NewThreadStore constructs a ThreadStore. keyPrefix defaults to "agentb"
// when empty.
func NewThreadStore(rdb *redis.Client, keyPrefix string) *ThreadStore {
	return &ThreadStore{rdb: rdb, keys: keys{prefix: prefixOrDefault(keyPrefix)}}
}

func prefixOrDefault(p string) string {
	if p == "" {
		return defaultKeyPrefix
	}
	return p
}

func (s *ThreadStore) Create(ctx context.Context, t model.Thread) (model.Thread, error) {
	if t.ID == "" {
		t.ID = ids.Thread()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	data, err := json.Marshal(t)
	if err != nil {
		return model.Thread{}, fmt.Errorf("redisstore: marshal thread: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keys.thread(t.ID), data, 0)
	pipe.ZAdd(ctx, s.keys.threadSet(), redis.Z{Score: float64(now.UnixNano()), Member: t.ID})
	if t.OwnerID != "" {
		pipe.SAdd(ctx, s.keys.threadOwnerSet(t.OwnerID), t.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Thread{}, fmt.Errorf("redisstore: create thread: %w", err)
	}
	return t, nil
}

func (s *ThreadStore) Get(ctx context.Context, id string) (model.Thread, error) {
	data, err := s.rdb.Get(ctx, s.keys.thread(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Thread{}, store.ErrNotFound
	}
	if err != nil {
		return model.Thread{}, fmt.Errorf("redisstore: get thread: %w", err)
	}
	var t model.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return model.Thread{}, fmt.Errorf("redisstore: unmarshal thread: %w", err)
	}
	return t, nil
}

func (s *ThreadStore) Update(ctx context.Context, id string, patch store.ThreadPatch) (model.Thread, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return model.Thread{}, err
	}
	if patch.Summary != nil {
		t.Summary = *patch.Summary
	}
	if patch.Attributes != nil {
		t.Attributes = patch.Attributes
	}
	t.UpdatedAt = time.Now()
	data, err := json.Marshal(t)
	if err != nil {
		return model.Thread{}, fmt.Errorf("redisstore: marshal thread: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keys.thread(id), data, 0).Err(); err != nil {
		return model.Thread{}, fmt.Errorf("redisstore: update thread: %w", err)
	}
	return t, nil
}

func (s *ThreadStore) Delete(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	msgIDs, err := s.rdb.ZRange(ctx, s.keys.messageIndex(id), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redisstore: list messages for delete: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	for _, mid := range msgIDs {
		pipe.Del(ctx, s.keys.message(id, mid))
	}
	pipe.Del(ctx, s.keys.messageIndex(id))
	pipe.Del(ctx, s.keys.thread(id))
	pipe.ZRem(ctx, s.keys.threadSet(), id)
	if t.OwnerID != "" {
		pipe.SRem(ctx, s.keys.threadOwnerSet(t.OwnerID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete thread: %w", err)
	}
	return nil
}

func (s *ThreadStore) List(ctx context.Context, filter store.ThreadFilter, page store.Pagination) ([]model.Thread, error) {
	var threadIDs []string
	var err error
	if filter.OwnerID != "" {
		threadIDs, err = s.rdb.SMembers(ctx, s.keys.threadOwnerSet(filter.OwnerID)).Result()
	} else {
		threadIDs, err = s.rdb.ZRange(ctx, s.keys.threadSet(), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: list thread ids: %w", err)
	}

	out := make([]model.Thread, 0, len(threadIDs))
	for _, id := range threadIDs {
		t, err := s.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
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

// MessageStore is a Redis-backed store.MessageStore. Each thread's messages
// are indexed in a sorted set scored by creation time (nanoseconds), with
// the message body stored in a parallel string key.
type MessageStore struct {
	rdb  *redis.Client
	keys keys
}

// NewMessageStore constructs a MessageStore sharing keyPrefix with a
// ThreadStore so Delete-cascades resolve consistently.
func NewMessageStore(rdb *redis.Client, keyPrefix string) *MessageStore {
	return &MessageStore{rdb: rdb, keys: keys{prefix: prefixOrDefault(keyPrefix)}}
}

func (s *MessageStore) Add(ctx context.Context, m model.Message) (model.Message, error) {
	if err := m.Validate(); err != nil {
		return model.Message{}, err
	}
	if m.ID == "" {
		m.ID = ids.Message()
	}
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now

	data, err := json.Marshal(m)
	if err != nil {
		return model.Message{}, fmt.Errorf("redisstore: marshal message: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keys.message(m.ThreadID, m.ID), data, 0)
	pipe.ZAdd(ctx, s.keys.messageIndex(m.ThreadID), redis.Z{Score: float64(now.UnixNano()), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Message{}, fmt.Errorf("redisstore: add message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) Get(ctx context.Context, threadID string, q store.MessageQuery) ([]model.Message, error) {
	msgIDs, err := s.rdb.ZRange(ctx, s.keys.messageIndex(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list message ids: %w", err)
	}

	out := make([]model.Message, 0, len(msgIDs))
	for _, id := range msgIDs {
		data, err := s.rdb.Get(ctx, s.keys.message(threadID, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redisstore: get message: %w", err)
		}
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal message: %w", err)
		}
		if q.After != nil && !m.CreatedAt.After(*q.After) {
			continue
		}
		if q.Before != nil && !m.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, m)
	}

	if q.Order == store.OrderDesc {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MessageStore) Update(ctx context.Context, m model.Message) (model.Message, error) {
	if err := m.Validate(); err != nil {
		return model.Message{}, err
	}
	exists, err := s.rdb.Exists(ctx, s.keys.message(m.ThreadID, m.ID)).Result()
	if err != nil {
		return model.Message{}, fmt.Errorf("redisstore: check message exists: %w", err)
	}
	if exists == 0 {
		return model.Message{}, store.ErrNotFound
	}
	m.UpdatedAt = time.Now()
	data, err := json.Marshal(m)
	if err != nil {
		return model.Message{}, fmt.Errorf("redisstore: marshal message: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keys.message(m.ThreadID, m.ID), data, 0).Err(); err != nil {
		return model.Message{}, fmt.Errorf("redisstore: update message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) Delete(ctx context.Context, threadID, messageID string) error {
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, s.keys.message(threadID, messageID))
	pipe.ZRem(ctx, s.keys.messageIndex(threadID), messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete message: %w", err)
	}
	if del.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RunStore is a Redis-backed store.RunStore. In-progress runs are indexed
// in a sorted set scored by ExpiresAt so ListOrphaned is a single ZRANGEBYSCORE.
type RunStore struct {
	rdb  *redis.Client
	keys keys
}

// NewRunStore constructs a RunStore.
func NewRunStore(rdb *redis.Client, keyPrefix string) *RunStore {
	return &RunStore{rdb: rdb, keys: keys{prefix: prefixOrDefault(keyPrefix)}}
}

func (s *RunStore) Create(ctx context.Context, r model.AgentRun) (model.AgentRun, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = model.RunStatusQueued
	}
	if err := s.save(ctx, r); err != nil {
		return model.AgentRun{}, err
	}
	return r, nil
}

func (s *RunStore) Get(ctx context.Context, id string) (model.AgentRun, error) {
	data, err := s.rdb.Get(ctx, s.keys.run(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.AgentRun{}, store.ErrNotFound
	}
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("redisstore: get run: %w", err)
	}
	var r model.AgentRun
	if err := json.Unmarshal(data, &r); err != nil {
		return model.AgentRun{}, fmt.Errorf("redisstore: unmarshal run: %w", err)
	}
	return r, nil
}

func (s *RunStore) Update(ctx context.Context, id string, status model.RunStatus, lastErr *model.LastError, attrs map[string]any) (model.AgentRun, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return model.AgentRun{}, err
	}
	r.Status = status
	if status == model.RunStatusInProgress && r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
	if status.IsTerminal() && r.CompletedAt == nil {
		now := time.Now()
		r.CompletedAt = &now
	}
	if lastErr != nil {
		r.LastError = lastErr
	}
	if attrs != nil {
		if r.Attributes == nil {
			r.Attributes = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			r.Attributes[k] = v
		}
	}
	if err := s.save(ctx, r); err != nil {
		return model.AgentRun{}, err
	}
	return r, nil
}

func (s *RunStore) ListOrphaned(ctx context.Context, asOf time.Time) ([]model.AgentRun, error) {
	runIDs, err := s.rdb.ZRangeByScore(ctx, s.keys.runOrphanSet(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", asOf.UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list orphaned run ids: %w", err)
	}
	out := make([]model.AgentRun, 0, len(runIDs))
	for _, id := range runIDs {
		r, err := s.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if r.Status == model.RunStatusInProgress {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RunStore) save(ctx context.Context, r model.AgentRun) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redisstore: marshal run: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keys.run(r.ID), data, 0)
	if r.Status == model.RunStatusInProgress && r.ExpiresAt != nil {
		pipe.ZAdd(ctx, s.keys.runOrphanSet(), redis.Z{Score: float64(r.ExpiresAt.UnixNano()), Member: r.ID})
	} else {
		pipe.ZRem(ctx, s.keys.runOrphanSet(), r.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: save run: %w", err)
	}
	return nil
}
