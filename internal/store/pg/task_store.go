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

const taskCols = "id, subject, description, owner, created_by, thread_id, parent_task_id, status, steps, resources, created_at, updated_at"

// TaskStore keeps live tasks in the tasks table and terminal ones in
// task_history. The Step DAG and resources ride as JSONB columns rather
// than child tables: a task's own step list is small, fully owned by the
// task, and never queried independently, so a single JSONB column is the
// simpler fit.
type TaskStore struct {
	db *pgxpool.Pool
}

func NewTaskStore(db *pgxpool.Pool) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(row pgx.Row) (store.Task, error) {
	var t store.Task
	var steps, resources []byte
	if err := row.Scan(&t.ID, &t.Subject, &t.Description, &t.Owner, &t.CreatedBy, &t.ThreadID, &t.ParentTaskID, &t.Status, &steps, &resources, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Task{}, store.ErrTaskNotFound
		}
		return store.Task{}, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	if len(steps) > 0 {
		_ = json.Unmarshal(steps, &t.Steps)
	}
	if len(resources) > 0 {
		_ = json.Unmarshal(resources, &t.Resources)
	}
	return t, nil
}

func taskArgs(t store.Task) []interface{} {
	steps, _ := json.Marshal(t.Steps)
	resources, _ := json.Marshal(t.Resources)
	return []interface{}{t.ID, t.Subject, t.Description, t.Owner, t.CreatedBy, t.ThreadID, t.ParentTaskID, t.Status, steps, resources, t.CreatedAt, t.UpdatedAt}
}

func (s *TaskStore) Create(ctx context.Context, t store.Task) (store.Task, error) {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = store.TaskStatusActive
	}
	if t.Status.IsTerminal() {
		return store.Task{}, fmt.Errorf("%w: cannot create a task in terminal status %s", store.ErrValidation, t.Status)
	}
	if t.Owner == "" {
		t.Owner = store.OwnerUser
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO tasks (`+taskCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, taskArgs(t)...)
	if err != nil {
		return store.Task{}, fmt.Errorf("pg: create task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (store.Task, error) {
	row := s.db.QueryRow(ctx, "SELECT "+taskCols+" FROM tasks WHERE id = $1", id)
	return scanTask(row)
}

func (s *TaskStore) ListActive(ctx context.Context) ([]store.Task, error) {
	rows, err := s.db.Query(ctx, "SELECT "+taskCols+" FROM tasks WHERE status = $1 ORDER BY created_at ASC",
		store.TaskStatusActive)
	if err != nil {
		return nil, fmt.Errorf("pg: list active tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *TaskStore) ListByOwner(ctx context.Context, owner string) ([]store.Task, error) {
	rows, err := s.db.Query(ctx, "SELECT "+taskCols+" FROM tasks WHERE owner = $1 ORDER BY created_at ASC", owner)
	if err != nil {
		return nil, fmt.Errorf("pg: list tasks by owner: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows pgx.Rows) ([]store.Task, error) {
	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TaskStore) Update(ctx context.Context, t store.Task) (store.Task, error) {
	current, err := s.Get(ctx, t.ID)
	if err != nil {
		return store.Task{}, err
	}
	if t.Status.IsTerminal() {
		return store.Task{}, fmt.Errorf("%w: terminal transitions go through Close", store.ErrValidation)
	}
	if err := store.ValidateTaskTransition(current.Status, t.Status); err != nil {
		return store.Task{}, err
	}
	t.CreatedAt = current.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	steps, _ := json.Marshal(t.Steps)
	resources, _ := json.Marshal(t.Resources)
	tag, err := s.db.Exec(ctx, `
		UPDATE tasks SET subject=$2, description=$3, owner=$4, created_by=$5, thread_id=$6,
			parent_task_id=$7, status=$8, steps=$9, resources=$10, updated_at=$11
		WHERE id=$1`,
		t.ID, t.Subject, t.Description, t.Owner, t.CreatedBy, t.ThreadID, t.ParentTaskID, t.Status, steps, resources, t.UpdatedAt)
	if err != nil {
		return store.Task{}, fmt.Errorf("pg: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Task{}, store.ErrTaskNotFound
	}
	return t, nil
}

// Close moves the task (and, on cancellation, every live step-linked
// subtask) from tasks to task_history in one transaction, so a crash
// mid-close never leaves a task in both sets or in neither.
func (s *TaskStore) Close(ctx context.Context, id string, status store.TaskStatus) (store.Task, error) {
	if !status.IsTerminal() {
		return store.Task{}, fmt.Errorf("%w: Close requires done or canceled, got %s", store.ErrValidation, status)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return store.Task{}, fmt.Errorf("pg: close task: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	closed, err := closeInTx(ctx, tx, id, status)
	if err != nil {
		return store.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Task{}, fmt.Errorf("pg: close task: commit: %w", err)
	}
	return closed, nil
}

func closeInTx(ctx context.Context, tx pgx.Tx, id string, status store.TaskStatus) (store.Task, error) {
	row := tx.QueryRow(ctx, "SELECT "+taskCols+" FROM tasks WHERE id = $1 FOR UPDATE", id)
	t, err := scanTask(row)
	if err != nil {
		return store.Task{}, err
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id); err != nil {
		return store.Task{}, fmt.Errorf("pg: close task: delete live row: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO task_history (`+taskCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, taskArgs(t)...); err != nil {
		return store.Task{}, fmt.Errorf("pg: close task: append history: %w", err)
	}

	if status == store.TaskStatusCanceled {
		for _, step := range t.Steps {
			if step.TaskID == "" {
				continue
			}
			if _, err := closeInTx(ctx, tx, step.TaskID, store.TaskStatusCanceled); err != nil {
				if errors.Is(err, store.ErrTaskNotFound) {
					continue
				}
				return store.Task{}, err
			}
		}
	}
	return t, nil
}

func (s *TaskStore) ListHistory(ctx context.Context) ([]store.Task, error) {
	rows, err := s.db.Query(ctx, "SELECT "+taskCols+" FROM task_history ORDER BY updated_at ASC")
	if err != nil {
		return nil, fmt.Errorf("pg: list task history: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("pg: delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}
