package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/store"
)

const defaultTaskTick = time.Hour

// TaskScheduler nudges every agent-owned active task forward once per
// tick by invoking the Runner over the task's bound thread. User-owned
// tasks are never nudged — there is no agent to act on them. An
// in-memory in-flight set prevents a slow-running task from being nudged
// twice across overlapping ticks; on daemon restart every task starts
// not-in-flight, deliberately (no durable lease).
type TaskScheduler struct {
	Stores *store.Stores
	Runner *runner.Runner

	TickInterval time.Duration
	Now          func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

func (s *TaskScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *TaskScheduler) tickInterval() time.Duration {
	if s.TickInterval > 0 {
		return s.TickInterval
	}
	return defaultTaskTick
}

// Run blocks, ticking at TickInterval until ctx is canceled. The first
// tick happens one full interval after startup, never immediately.
func (s *TaskScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *TaskScheduler) tick(ctx context.Context) {
	tasks, err := s.Stores.Tasks.ListActive(ctx)
	if err != nil {
		slog.Error("task scheduler: list active tasks failed", "error", err)
		return
	}

	for _, t := range tasks {
		if t.Owner == store.OwnerUser {
			continue
		}
		if !s.tryMarkInFlight(t.ID) {
			continue
		}
		go s.nudge(ctx, t)
	}
}

func (s *TaskScheduler) tryMarkInFlight(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == nil {
		s.inFlight = make(map[string]bool)
	}
	if s.inFlight[taskID] {
		return false
	}
	s.inFlight[taskID] = true
	return true
}

func (s *TaskScheduler) clearInFlight(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, taskID)
}

// nudge resolves the task's bound thread (creating one if somehow
// absent) and invokes the Runner with a stock work prompt; the
// task-bound thread's manifest already carries the taskId, so the
// Runner's system-prompt builder appends the Task-context block.
func (s *TaskScheduler) nudge(ctx context.Context, t store.Task) {
	defer s.clearInFlight(t.ID)

	threadID := t.ThreadID
	if threadID == "" {
		now := s.now()
		manifest, err := s.Stores.Threads.Create(ctx, store.Manifest{
			ID:        uuid.NewString(),
			AgentID:   t.Owner,
			Channel:   "internal",
			TaskID:    t.ID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			slog.Error("task scheduler: create bound thread failed", "task", t.ID, "error", err)
			return
		}
		threadID = manifest.ID
		t.ThreadID = threadID
		if _, err := s.Stores.Tasks.Update(ctx, t); err != nil {
			slog.Error("task scheduler: bind thread to task failed", "task", t.ID, "error", err)
		}
	} else {
		if manifest, err := s.Stores.Threads.Get(ctx, threadID); err == nil && manifest.TaskID == "" {
			manifest.TaskID = t.ID
			_ = s.Stores.Threads.UpdateManifest(ctx, manifest)
		}
	}

	_, err := s.Runner.Run(ctx, t.Owner, threadID, "Continue working on your task: "+t.Subject, runner.Options{
		Source:    "task",
		SourceID:  t.ID,
		Overrides: runner.Overrides{Background: true},
	})
	if err != nil {
		slog.Error("task scheduler: run failed", "task", t.ID, "agent", t.Owner, "error", err)
	}
}
