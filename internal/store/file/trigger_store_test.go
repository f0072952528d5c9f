package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
)

func TestTriggerUpdateNeverAdvancesLastRun(t *testing.T) {
	s := NewTriggerStore(t.TempDir())
	ctx := context.Background()

	created, err := s.Create(ctx, store.Trigger{
		ID: "t1", AgentID: "assistant", CronExpr: "*/5 * * * *", Prompt: "go", Enabled: true,
	})
	require.NoError(t, err)
	require.Nil(t, created.LastRun)

	fired := time.Date(2026, 7, 29, 12, 5, 0, 0, time.UTC)
	require.NoError(t, s.SetLastRun(ctx, "t1", &fired))

	// A field edit that sneaks a different LastRun in must not stick.
	edit := created
	edit.Prompt = "go harder"
	stale := fired.Add(-time.Hour)
	edit.LastRun = &stale
	updated, err := s.Update(ctx, edit)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRun)
	require.Equal(t, fired, *updated.LastRun)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, fired, *got.LastRun)
	require.Equal(t, "go harder", got.Prompt)
}

func TestTriggerSetLastRunUnknownID(t *testing.T) {
	s := NewTriggerStore(t.TempDir())
	now := time.Now().UTC()
	err := s.SetLastRun(context.Background(), "nope", &now)
	require.ErrorIs(t, err, store.ErrTriggerNotFound)
}
