package store

import "context"

// TaskStore is the CRUD surface over standing Tasks and their Step DAG.
// Live tasks and terminal ones are kept apart:
// Get/ListActive/ListByOwner/Update only see the live set; Close moves a
// task to the append-only history log, cascading a cancellation to every
// subtask its steps link to. The Task Scheduler consults ListActive on
// every tick to decide which bound threads to nudge.
type TaskStore interface {
	Create(ctx context.Context, t Task) (Task, error)
	Get(ctx context.Context, id string) (Task, error)
	ListActive(ctx context.Context) ([]Task, error)
	ListByOwner(ctx context.Context, owner string) ([]Task, error)

	// Update rewrites a live task's fields. Moving to a terminal status
	// goes through Close instead; Update rejects it.
	Update(ctx context.Context, t Task) (Task, error)

	// Close transitions a live task to done or canceled, removes it from
	// the live set, and appends it to the history log. status=canceled
	// cascades to every live subtask linked from the task's steps.
	Close(ctx context.Context, id string, status TaskStatus) (Task, error)

	// ListHistory returns terminal tasks in the order they were closed.
	ListHistory(ctx context.Context) ([]Task, error)

	Delete(ctx context.Context, id string) error
}
