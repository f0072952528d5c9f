package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan-dev/castellan/internal/store"
)

const manifestCols = "id, agent_id, channel, title, spawned_by, spawn_depth, session_id, task_id, created_at, updated_at"

// ThreadStore is the managed-mode store.ThreadStore. Append-only message
// and event logs map onto plain INSERT-only tables; the manifest is a row
// updated in place (explicit column list, no generated SQL).
type ThreadStore struct {
	db    *pgxpool.Pool
	locks *lockRegistry
}

func NewThreadStore(db *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{db: db, locks: newLockRegistry()}
}

func scanManifest(row pgx.Row) (store.Manifest, error) {
	var m store.Manifest
	var spawnedBy, sessionID, taskID *string
	if err := row.Scan(&m.ID, &m.AgentID, &m.Channel, &m.Title, &spawnedBy, &m.SpawnDepth, &sessionID, &taskID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Manifest{}, store.ErrThreadNotFound
		}
		return store.Manifest{}, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	if spawnedBy != nil {
		m.SpawnedBy = *spawnedBy
	}
	if sessionID != nil {
		m.SessionID = *sessionID
	}
	if taskID != nil {
		m.TaskID = *taskID
	}
	return m, nil
}

func (s *ThreadStore) Create(ctx context.Context, m store.Manifest) (store.Manifest, error) {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err := s.db.Exec(ctx, `
		INSERT INTO threads (id, agent_id, channel, title, spawned_by, spawn_depth, session_id, task_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		m.ID, m.AgentID, m.Channel, m.Title, m.SpawnedBy, m.SpawnDepth, m.SessionID, m.TaskID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return store.Manifest{}, fmt.Errorf("pg: create thread: %w", err)
	}
	return m, nil
}

func (s *ThreadStore) Get(ctx context.Context, threadID string) (store.Manifest, error) {
	row := s.db.QueryRow(ctx, "SELECT "+manifestCols+" FROM threads WHERE id = $1", threadID)
	return scanManifest(row)
}

func (s *ThreadStore) List(ctx context.Context, agentID string) ([]store.Manifest, error) {
	query := "SELECT " + manifestCols + " FROM threads"
	args := []interface{}{}
	if agentID != "" {
		query += " WHERE agent_id = $1"
		args = append(args, agentID)
	}
	query += " ORDER BY updated_at DESC"
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list threads: %w", err)
	}
	defer rows.Close()

	var out []store.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ThreadStore) UpdateManifest(ctx context.Context, m store.Manifest) error {
	m.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE threads SET agent_id=$2, channel=$3, title=$4, spawned_by=NULLIF($5,''),
			spawn_depth=$6, session_id=NULLIF($7,''), task_id=NULLIF($8,''), updated_at=$9
		WHERE id=$1`,
		m.ID, m.AgentID, m.Channel, m.Title, m.SpawnedBy, m.SpawnDepth, m.SessionID, m.TaskID, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: update thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrThreadNotFound
	}
	return nil
}

func (s *ThreadStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM threads WHERE id = $1", threadID)
	if err != nil {
		return fmt.Errorf("pg: delete thread: %w", err)
	}
	return nil
}

func (s *ThreadStore) AppendMessage(ctx context.Context, msg store.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO thread_messages (id, thread_id, role, content, tool_name, tool_call_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), $7)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.ToolName, msg.ToolCallID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: append message: %w", err)
	}
	return nil
}

func (s *ThreadStore) LoadMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, thread_id, role, content, COALESCE(tool_name,''), COALESCE(tool_call_id,''), created_at
		FROM thread_messages WHERE thread_id = $1 ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("pg: load messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.ToolName, &m.ToolCallID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ThreadStore) AppendEvent(ctx context.Context, ev store.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("pg: marshal event payload: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO thread_events (id, thread_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.ThreadID, ev.Kind, payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: append event: %w", err)
	}
	return nil
}

func (s *ThreadStore) LoadEvents(ctx context.Context, threadID string) ([]store.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, thread_id, kind, payload, created_at FROM thread_events
		WHERE thread_id = $1 ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("pg: load events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var ev store.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.ThreadID, &ev.Kind, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// WithLock uses the same in-process lock registry as the file backend.
// Postgres row locking would also serialize concurrent writers, but the
// invariant that matters is Runner-level turn ordering, not row
// contention: the Runner must hold the lock across the entire turn,
// including the engine call, not just across individual store writes.
func (s *ThreadStore) WithLock(ctx context.Context, threadID string, fn func(ctx context.Context) error) error {
	l := s.locks.acquire(threadID)
	defer s.locks.release(threadID, l)
	return fn(ctx)
}
