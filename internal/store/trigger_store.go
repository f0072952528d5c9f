package store

import (
	"context"
	"time"
)

// TriggerStore is the CRUD surface over cron-scheduled Triggers.
// SetLastRun is the crash-safety primitive: the Trigger
// Scheduler must persist it BEFORE invoking the Runner, so a crash between
// the two never causes a double-fire.
type TriggerStore interface {
	Create(ctx context.Context, t Trigger) (Trigger, error)
	Get(ctx context.Context, id string) (Trigger, error)
	List(ctx context.Context) ([]Trigger, error)
	ListEnabled(ctx context.Context) ([]Trigger, error)
	Update(ctx context.Context, t Trigger) (Trigger, error)
	Delete(ctx context.Context, id string) error

	SetLastRun(ctx context.Context, id string, lastRun *time.Time) error
}
