package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/bus"
	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/store/file"
	"github.com/castellan-dev/castellan/internal/tools"
)

type countingEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEngine) Run(ctx context.Context, req engine.Request) (*engine.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return &engine.Result{Text: "done"}, nil
}

func (e *countingEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestScheduler(t *testing.T, eng engine.Engine, now func() time.Time) (*TriggerScheduler, *store.Stores) {
	t.Helper()
	stores, err := file.New(store.Config{Mode: "standalone", WorkDir: t.TempDir()})
	require.NoError(t, err)

	_, err = stores.Agents.Create(context.Background(), store.Agent{
		ID: "assistant", Key: "assistant", Name: "assistant", Trust: store.TrustControlled,
	})
	require.NoError(t, err)

	r := &runner.Runner{
		Stores:   stores,
		Engine:   eng,
		Tools:    tools.NewRegistry(),
		Bus:      bus.New(),
		MaxDepth: 3,
		Now:      now,
	}
	return &TriggerScheduler{Stores: stores, Runner: r, Now: now}, stores
}

// A trigger never fires on first sighting, and fires at most once per
// scheduled instant even across a simulated restart.
func TestTriggerNeverFiresOnFirstSighting(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 10, 0, time.UTC)
	s, stores := newTestScheduler(t, &countingEngine{}, func() time.Time { return now })

	trig, err := stores.Triggers.Create(context.Background(), store.Trigger{
		ID: "t1", AgentID: "assistant", CronExpr: "*/5 * * * *", Enabled: true,
	})
	require.NoError(t, err)
	require.Nil(t, trig.LastRun)

	s.tick(context.Background())

	got, err := stores.Triggers.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	require.Equal(t, now, *got.LastRun)
}

func TestTriggerFiresOnceAtScheduledInstant(t *testing.T) {
	eng := &countingEngine{}
	now := time.Date(2026, 7, 29, 12, 0, 10, 0, time.UTC)
	s, stores := newTestScheduler(t, eng, func() time.Time { return now })

	_, err := stores.Triggers.Create(context.Background(), store.Trigger{
		ID: "t1", AgentID: "assistant", CronExpr: "*/5 * * * *", Enabled: true,
	})
	require.NoError(t, err)

	// First tick only bootstraps lastRun; never fires.
	s.tick(context.Background())
	require.Equal(t, 0, eng.count())

	// Advance to the next 5-minute boundary: should fire exactly once.
	now = time.Date(2026, 7, 29, 12, 5, 5, 0, time.UTC)
	s.tick(context.Background())
	waitForCalls(t, eng, 1)

	got, err := stores.Triggers.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, now, *got.LastRun)

	// A tick at the same instant (simulated restart before the next cron
	// boundary) must not fire again.
	s.tick(context.Background())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, eng.count())
}

func TestTriggerInvalidCronIsSkippedNotDisabled(t *testing.T) {
	eng := &countingEngine{}
	now := time.Date(2026, 7, 29, 12, 0, 10, 0, time.UTC)
	s, stores := newTestScheduler(t, eng, func() time.Time { return now })

	_, err := stores.Triggers.Create(context.Background(), store.Trigger{
		ID: "t1", AgentID: "assistant", CronExpr: "not-a-cron", Enabled: true,
	})
	require.NoError(t, err)

	s.tick(context.Background())

	got, err := stores.Triggers.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, got.Enabled)
	require.Nil(t, got.LastRun)
	require.Equal(t, 0, eng.count())
}

func TestTriggerDisabledNeverFires(t *testing.T) {
	eng := &countingEngine{}
	now := time.Date(2026, 7, 29, 12, 5, 5, 0, time.UTC)
	s, stores := newTestScheduler(t, eng, func() time.Time { return now })

	past := now.Add(-time.Hour)
	_, err := stores.Triggers.Create(context.Background(), store.Trigger{
		ID: "t1", AgentID: "assistant", CronExpr: "*/5 * * * *", Enabled: false, LastRun: &past,
	})
	require.NoError(t, err)

	s.tick(context.Background())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, eng.count())
}

func waitForCalls(t *testing.T, eng *countingEngine, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if eng.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, n, eng.count(), "timed out waiting for engine calls")
}
