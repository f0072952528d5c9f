package file

import (
	"fmt"
	"os"

	"github.com/castellan-dev/castellan/internal/store"
)

// New builds the standalone-mode store.Stores: every entity backed by
// plain files under cfg.WorkDir.
func New(cfg store.Config) (*store.Stores, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("file store: WorkDir is required")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: mkdir %s: %w", cfg.WorkDir, err)
	}
	return &store.Stores{
		Threads:  NewThreadStore(cfg.WorkDir),
		Agents:   NewAgentStore(cfg.WorkDir),
		Triggers: NewTriggerStore(cfg.WorkDir),
		Tasks:    NewTaskStore(cfg.WorkDir),
		Usage:    NewUsageStore(cfg.WorkDir),
	}, nil
}
