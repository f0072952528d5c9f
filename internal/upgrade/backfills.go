package upgrade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// A Backfill is a data transformation tied to the migration that made it
// necessary — the half of an upgrade plain SQL can't express, or that is
// cheaper to write against the stores' own semantics. Each runs at most
// once per database, inside its own transaction, tracked by name in the
// data_backfills table.
type Backfill struct {
	// Version is the schema version whose migration this backfill
	// accompanies; a backfill never runs against a schema older than it.
	Version uint
	Name    string
	Run     func(ctx context.Context, tx pgx.Tx) error
}

// backfills run in declaration order. Keep them idempotent anyway: the
// bookkeeping insert commits atomically with the backfill itself, but a
// re-run after `migrate drop` starts from scratch.
var backfills = []Backfill{
	{
		// Migration 000002 added threads.task_id. Threads created before
		// it that a task already pointed at (tasks.thread_id) never got
		// the reverse link, so their turns miss the Task-context prompt
		// block. Copy the binding over once.
		Version: 2,
		Name:    "002_link_task_bound_threads",
		Run: func(ctx context.Context, tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				UPDATE threads t
				SET task_id = k.id
				FROM tasks k
				WHERE k.thread_id = t.id
				  AND (t.task_id IS NULL OR t.task_id = '')`)
			return err
		},
	},
}

// ApplyBackfills runs every backfill the database hasn't recorded yet,
// skipping any whose schema version the database hasn't reached. Returns
// how many ran. The first failure stops the sweep; the failed backfill's
// transaction rolls back and it stays pending.
func ApplyBackfills(ctx context.Context, db *pgxpool.Pool) (int, error) {
	status, err := Check(ctx, db)
	if err != nil {
		return 0, err
	}
	if status.Fresh || status.Dirty {
		return 0, fmt.Errorf("upgrade: cannot backfill: %s", status.Advice())
	}

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS data_backfills (
			name       TEXT PRIMARY KEY,
			version    INT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("upgrade: ensure data_backfills: %w", err)
	}

	applied := map[string]bool{}
	rows, err := db.Query(ctx, "SELECT name FROM data_backfills")
	if err != nil {
		return 0, fmt.Errorf("upgrade: read data_backfills: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, err
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, b := range backfills {
		if applied[b.Name] || b.Version > status.Current {
			continue
		}
		if err := runOne(ctx, db, b); err != nil {
			return count, fmt.Errorf("upgrade: backfill %s: %w", b.Name, err)
		}
		slog.Info("data backfill applied", "name", b.Name, "version", b.Version)
		count++
	}
	return count, nil
}

// runOne executes one backfill and its bookkeeping insert in a single
// transaction, so a crash can't record a backfill that didn't finish.
func runOne(ctx context.Context, db *pgxpool.Pool, b Backfill) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := b.Run(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO data_backfills (name, version) VALUES ($1, $2)", b.Name, b.Version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
