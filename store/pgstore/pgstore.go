// Package pgstore implements store.ThreadStore, store.MessageStore, and
// store.RunStore using PostgreSQL. Each table keeps its query-path columns
// (id, thread_id, status, created_at, ...) typed and indexable, and carries
// the full record as a jsonb body column so Content's discriminated-union
// parts and RunConfig's nested structs survive a round trip without a
// column-per-field mapping.
//
// Grounded on the teacher's own store/postgres adapter: externally-owned
// *pgxpool.Pool via constructor injection, idempotent CREATE TABLE IF NOT
// EXISTS/CREATE INDEX IF NOT EXISTS in Init, and jsonb metadata columns
// decoded with encoding/json on scan.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ulifeai/agentb/ids"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store"
)

// ThreadStore implements store.ThreadStore over PostgreSQL.
type ThreadStore struct {
	pool *pgxpool.Pool
}

// NewThreadStore constructs a ThreadStore using an existing pool. The caller
// owns the pool and is responsible for closing it.
func NewThreadStore(pool *pgxpool.Pool) *ThreadStore { return &ThreadStore{pool: pool} }

// MessageStore implements store.MessageStore over PostgreSQL.
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore constructs a MessageStore using an existing pool.
func NewMessageStore(pool *pgxpool.Pool) *MessageStore { return &MessageStore{pool: pool} }

// RunStore implements store.RunStore over PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore constructs a RunStore using an existing pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore { return &RunStore{pool: pool} }

// Init creates the threads, messages, and runs tables and their indexes.
// Safe to call multiple times; every statement is idempotent. Callers
// wiring all three stores against the same pool need call this only once.
func Init(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS threads_owner_idx ON threads(owner_id)`,
		`CREATE INDEX IF NOT EXISTS threads_created_idx ON threads(created_at)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages(thread_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			status TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS runs_thread_idx ON runs(thread_id)`,
		`CREATE INDEX IF NOT EXISTS runs_orphan_idx ON runs(status, expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: init: %w", err)
		}
	}
	return nil
}

// --- ThreadStore ---

func (s *ThreadStore) Create(ctx context.Context, t model.Thread) (model.Thread, error) {
	if t.ID == "" {
		t.ID = ids.Thread()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	body, err := json.Marshal(t)
	if err != nil {
		return model.Thread{}, fmt.Errorf("pgstore: marshal thread: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO threads (id, owner_id, body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.OwnerID, body, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return model.Thread{}, fmt.Errorf("pgstore: create thread: %w", err)
	}
	return t, nil
}

func (s *ThreadStore) Get(ctx context.Context, id string) (model.Thread, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM threads WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Thread{}, store.ErrNotFound
	}
	if err != nil {
		return model.Thread{}, fmt.Errorf("pgstore: get thread: %w", err)
	}
	var t model.Thread
	if err := json.Unmarshal(body, &t); err != nil {
		return model.Thread{}, fmt.Errorf("pgstore: decode thread: %w", err)
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
		if t.Attributes == nil {
			t.Attributes = make(map[string]any, len(patch.Attributes))
		}
		for k, v := range patch.Attributes {
			t.Attributes[k] = v
		}
	}
	t.UpdatedAt = time.Now()

	body, err := json.Marshal(t)
	if err != nil {
		return model.Thread{}, fmt.Errorf("pgstore: marshal thread: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE threads SET body = $1, updated_at = $2 WHERE id = $3`,
		body, t.UpdatedAt, t.ID)
	if err != nil {
		return model.Thread{}, fmt.Errorf("pgstore: update thread: %w", err)
	}
	return t, nil
}

func (s *ThreadStore) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE thread_id = $1`, id); err != nil {
		return fmt.Errorf("pgstore: delete thread messages: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *ThreadStore) List(ctx context.Context, filter store.ThreadFilter, page store.Pagination) ([]model.Thread, error) {
	var rows pgx.Rows
	var err error
	if filter.OwnerID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT body FROM threads WHERE owner_id = $1 ORDER BY created_at ASC`, filter.OwnerID)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT body FROM threads ORDER BY created_at ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: list threads: %w", err)
	}
	defer rows.Close()

	var out []model.Thread
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("pgstore: scan thread: %w", err)
		}
		var t model.Thread
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("pgstore: decode thread: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate threads: %w", err)
	}
	return paginateThreads(out, page), nil
}

func paginateThreads(threads []model.Thread, page store.Pagination) []model.Thread {
	if page.Offset >= len(threads) {
		return nil
	}
	end := len(threads)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return threads[page.Offset:end]
}

// --- MessageStore ---

func (s *MessageStore) Add(ctx context.Context, m model.Message) (model.Message, error) {
	if err := m.Validate(); err != nil {
		return model.Message{}, err
	}
	if m.ID == "" {
		m.ID = ids.Message()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	body, err := json.Marshal(m)
	if err != nil {
		return model.Message{}, fmt.Errorf("pgstore: marshal message: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (id, thread_id, body, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.ThreadID, body, m.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("pgstore: add message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) Get(ctx context.Context, threadID string, q store.MessageQuery) ([]model.Message, error) {
	args := []any{threadID}
	sql := `SELECT body, created_at FROM messages WHERE thread_id = $1`
	if q.After != nil {
		args = append(args, *q.After)
		sql += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	if q.Before != nil {
		args = append(args, *q.Before)
		sql += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	sql += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var body []byte
		var createdAt time.Time
		if err := rows.Scan(&body, &createdAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan message: %w", err)
		}
		var m model.Message
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("pgstore: decode message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate messages: %w", err)
	}

	if q.Order == store.OrderDesc {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MessageStore) Update(ctx context.Context, m model.Message) (model.Message, error) {
	m.UpdatedAt = time.Now()
	body, err := json.Marshal(m)
	if err != nil {
		return model.Message{}, fmt.Errorf("pgstore: marshal message: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET body = $1 WHERE id = $2`, body, m.ID)
	if err != nil {
		return model.Message{}, fmt.Errorf("pgstore: update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s *MessageStore) Delete(ctx context.Context, threadID, messageID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE id = $1 AND thread_id = $2`, messageID, threadID)
	if err != nil {
		return fmt.Errorf("pgstore: delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- RunStore ---

func (s *RunStore) Create(ctx context.Context, r model.AgentRun) (model.AgentRun, error) {
	if r.ID == "" {
		r.ID = ids.Run()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = model.RunStatusQueued
	}
	if err := s.save(ctx, r, true); err != nil {
		return model.AgentRun{}, err
	}
	return r, nil
}

func (s *RunStore) Get(ctx context.Context, id string) (model.AgentRun, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM runs WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AgentRun{}, store.ErrNotFound
	}
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("pgstore: get run: %w", err)
	}
	var r model.AgentRun
	if err := json.Unmarshal(body, &r); err != nil {
		return model.AgentRun{}, fmt.Errorf("pgstore: decode run: %w", err)
	}
	return r, nil
}

// Update applies the status transition bookkeeping from spec §6.2:
// started_at is set on first entry into in_progress, completed_at on first
// entry into a terminal state.
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
	if err := s.save(ctx, r, false); err != nil {
		return model.AgentRun{}, err
	}
	return r, nil
}

func (s *RunStore) ListOrphaned(ctx context.Context, asOf time.Time) ([]model.AgentRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM runs WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2`,
		model.RunStatusInProgress, asOf)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list orphaned runs: %w", err)
	}
	defer rows.Close()

	var out []model.AgentRun
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("pgstore: scan run: %w", err)
		}
		var r model.AgentRun
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("pgstore: decode run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RunStore) save(ctx context.Context, r model.AgentRun, insert bool) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("pgstore: marshal run: %w", err)
	}
	if insert {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO runs (id, thread_id, status, expires_at, body, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.ThreadID, string(r.Status), r.ExpiresAt, body, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("pgstore: create run: %w", err)
		}
		return nil
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, expires_at = $2, body = $3 WHERE id = $4`,
		string(r.Status), r.ExpiresAt, body, r.ID)
	if err != nil {
		return fmt.Errorf("pgstore: update run: %w", err)
	}
	return nil
}
