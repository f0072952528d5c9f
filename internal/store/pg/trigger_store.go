package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan-dev/castellan/internal/store"
)

const triggerCols = "id, agent_id, thread_id, cron_expr, timezone, prompt, enabled, last_run, created_at, updated_at"

type TriggerStore struct {
	db *pgxpool.Pool
}

func NewTriggerStore(db *pgxpool.Pool) *TriggerStore {
	return &TriggerStore{db: db}
}

func scanTrigger(row pgx.Row) (store.Trigger, error) {
	var t store.Trigger
	var threadID *string
	if err := row.Scan(&t.ID, &t.AgentID, &threadID, &t.CronExpr, &t.Timezone, &t.Prompt, &t.Enabled, &t.LastRun, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Trigger{}, store.ErrTriggerNotFound
		}
		return store.Trigger{}, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	if threadID != nil {
		t.ThreadID = *threadID
	}
	return t, nil
}

func (s *TriggerStore) Create(ctx context.Context, t store.Trigger) (store.Trigger, error) {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.Exec(ctx, `
		INSERT INTO triggers (`+triggerCols+`)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.AgentID, t.ThreadID, t.CronExpr, t.Timezone, t.Prompt, t.Enabled, t.LastRun, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return store.Trigger{}, fmt.Errorf("pg: create trigger: %w", err)
	}
	return t, nil
}

func (s *TriggerStore) Get(ctx context.Context, id string) (store.Trigger, error) {
	row := s.db.QueryRow(ctx, "SELECT "+triggerCols+" FROM triggers WHERE id = $1", id)
	return scanTrigger(row)
}

func (s *TriggerStore) List(ctx context.Context) ([]store.Trigger, error) {
	return s.listWhere(ctx, "")
}

func (s *TriggerStore) ListEnabled(ctx context.Context) ([]store.Trigger, error) {
	return s.listWhere(ctx, "WHERE enabled = true")
}

func (s *TriggerStore) listWhere(ctx context.Context, where string) ([]store.Trigger, error) {
	rows, err := s.db.Query(ctx, "SELECT "+triggerCols+" FROM triggers "+where+" ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("pg: list triggers: %w", err)
	}
	defer rows.Close()

	var out []store.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TriggerStore) Update(ctx context.Context, t store.Trigger) (store.Trigger, error) {
	t.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE triggers SET agent_id=$2, thread_id=NULLIF($3,''), cron_expr=$4, timezone=$5,
			prompt=$6, enabled=$7, updated_at=$8
		WHERE id=$1`,
		t.ID, t.AgentID, t.ThreadID, t.CronExpr, t.Timezone, t.Prompt, t.Enabled, t.UpdatedAt)
	if err != nil {
		return store.Trigger{}, fmt.Errorf("pg: update trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Trigger{}, store.ErrTriggerNotFound
	}
	return t, nil
}

func (s *TriggerStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM triggers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("pg: delete trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTriggerNotFound
	}
	return nil
}

func (s *TriggerStore) SetLastRun(ctx context.Context, id string, lastRun *time.Time) error {
	tag, err := s.db.Exec(ctx, "UPDATE triggers SET last_run = $2, updated_at = $3 WHERE id = $1",
		id, lastRun, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("pg: set last_run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTriggerNotFound
	}
	return nil
}
