package scheduler

import (
	"context"
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

func newTestTaskScheduler(t *testing.T, eng engine.Engine) (*TaskScheduler, *store.Stores) {
	t.Helper()
	stores, err := file.New(store.Config{Mode: "standalone", WorkDir: t.TempDir()})
	require.NoError(t, err)

	_, err = stores.Agents.Create(context.Background(), store.Agent{
		ID: "helper", Key: "helper", Name: "helper", Trust: store.TrustControlled,
	})
	require.NoError(t, err)

	r := &runner.Runner{
		Stores:   stores,
		Engine:   eng,
		Tools:    tools.NewRegistry(),
		Bus:      bus.New(),
		MaxDepth: 3,
	}
	return &TaskScheduler{Stores: stores, Runner: r}, stores
}

func TestTaskSchedulerSkipsUserOwnedTasks(t *testing.T) {
	eng := &countingEngine{}
	s, stores := newTestTaskScheduler(t, eng)

	_, err := stores.Tasks.Create(context.Background(), store.Task{
		ID: "t1", Subject: "human chore", Owner: store.OwnerUser,
	})
	require.NoError(t, err)

	s.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, eng.count())
}

func TestTaskSchedulerNudgesAgentOwnedActiveTask(t *testing.T) {
	eng := &countingEngine{}
	s, stores := newTestTaskScheduler(t, eng)

	created, err := stores.Tasks.Create(context.Background(), store.Task{
		ID: "t1", Subject: "standing work", Owner: "helper",
	})
	require.NoError(t, err)

	s.tick(context.Background())
	waitForCalls(t, eng, 1)

	// The nudge bound a fresh internal thread to the task.
	got, err := stores.Tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.ThreadID)

	manifest, err := stores.Threads.Get(context.Background(), got.ThreadID)
	require.NoError(t, err)
	require.Equal(t, "internal", manifest.Channel)
	require.Equal(t, created.ID, manifest.TaskID)
}

func TestTaskSchedulerInFlightPreventsDoubleNudge(t *testing.T) {
	eng := &countingEngine{}
	s, stores := newTestTaskScheduler(t, eng)

	_, err := stores.Tasks.Create(context.Background(), store.Task{
		ID: "t1", Subject: "slow work", Owner: "helper",
	})
	require.NoError(t, err)

	require.True(t, s.tryMarkInFlight("t1"))
	s.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, eng.count())

	s.clearInFlight("t1")
	s.tick(context.Background())
	waitForCalls(t, eng, 1)
}
