package pg

import (
	"fmt"

	"github.com/castellan-dev/castellan/internal/store"
)

// New creates all stores backed by Postgres (managed mode), one
// implementation per store interface across this daemon's five
// entities.
func New(cfg store.Config) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}

	return &store.Stores{
		Threads:  NewThreadStore(db),
		Agents:   NewAgentStore(db),
		Triggers: NewTriggerStore(db),
		Tasks:    NewTaskStore(db),
		Usage:    NewUsageStore(db),
	}, nil
}
