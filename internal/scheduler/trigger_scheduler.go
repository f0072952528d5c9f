// Package scheduler implements the trigger scheduler and task scheduler:
// the two periodic tickers that inject turns into the Agent Runner
// without any user in the loop, each with its own crash-safety rules.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/store"
)

const defaultTriggerTick = time.Minute

// TriggerScheduler fires cron-scheduled turns. Exactly one instance runs
// per daemon process; every trigger lives in the shared store.
type TriggerScheduler struct {
	Stores *store.Stores
	Runner *runner.Runner

	TickInterval time.Duration
	Now          func() time.Time
}

func (s *TriggerScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *TriggerScheduler) tickInterval() time.Duration {
	if s.TickInterval > 0 {
		return s.TickInterval
	}
	return defaultTriggerTick
}

// Run blocks, ticking at TickInterval until ctx is canceled.
func (s *TriggerScheduler) Run(ctx context.Context) {
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

// tick iterates every persisted trigger once. The ordering is load-
// bearing: persist lastRun BEFORE launching the turn, so a crash between
// the two leaves the store already reflecting "fired" rather than
// risking a duplicate fire on restart.
func (s *TriggerScheduler) tick(ctx context.Context) {
	triggers, err := s.Stores.Triggers.List(ctx)
	if err != nil {
		slog.Error("trigger scheduler: list triggers failed", "error", err)
		return
	}

	now := s.now()
	for _, t := range triggers {
		if !t.Enabled {
			continue
		}
		s.evaluate(ctx, t, now)
	}
}

func (s *TriggerScheduler) evaluate(ctx context.Context, t store.Trigger, now time.Time) {
	loc := time.Local
	if t.Timezone != "" {
		l, err := time.LoadLocation(t.Timezone)
		if err != nil {
			slog.Error("trigger scheduler: invalid timezone, skipping", "trigger", t.ID, "timezone", t.Timezone, "error", err)
			return
		}
		loc = l
	}
	localNow := now.In(loc)

	prev, err := gronx.PrevTickBefore(t.CronExpr, localNow, true)
	if err != nil {
		slog.Error("trigger scheduler: invalid cron expression, skipping", "trigger", t.ID, "cron", t.CronExpr, "error", err)
		return
	}

	if t.LastRun == nil {
		// Never fire on first sighting: a freshly created trigger only
		// starts counting from here.
		lastRun := now
		if err := s.Stores.Triggers.SetLastRun(ctx, t.ID, &lastRun); err != nil {
			slog.Error("trigger scheduler: set initial lastRun failed", "trigger", t.ID, "error", err)
		}
		return
	}

	lastRunLocal := t.LastRun.In(loc)
	if !prev.After(lastRunLocal) {
		return
	}

	fireAt := now
	if err := s.Stores.Triggers.SetLastRun(ctx, t.ID, &fireAt); err != nil {
		slog.Error("trigger scheduler: persist lastRun before firing failed, skipping this tick", "trigger", t.ID, "error", err)
		return
	}

	go s.fire(ctx, t)
}

// fire creates a fresh internal thread under the trigger's owner agent
// and invokes the Runner in background mode. Errors are logged, never
// surfaced to a user — there is no user attached to this turn.
func (s *TriggerScheduler) fire(ctx context.Context, t store.Trigger) {
	now := s.now()
	manifest, err := s.Stores.Threads.Create(ctx, store.Manifest{
		ID:        uuid.NewString(),
		AgentID:   t.AgentID,
		Channel:   "internal",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		slog.Error("trigger scheduler: create thread failed", "trigger", t.ID, "error", err)
		return
	}

	_, err = s.Runner.Run(ctx, t.AgentID, manifest.ID, t.Prompt, runner.Options{
		Source:    "trigger",
		SourceID:  t.ID,
		Overrides: runner.Overrides{Background: true},
	})
	if err != nil {
		slog.Error("trigger scheduler: run failed", "trigger", t.ID, "agent", t.AgentID, "error", err)
	}
}
