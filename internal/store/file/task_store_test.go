package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
)

func newTaskStore(t *testing.T) *TaskStore {
	t.Helper()
	return NewTaskStore(t.TempDir())
}

func TestTaskCreateDefaultsToActiveUserOwned(t *testing.T) {
	s := newTaskStore(t)
	created, err := s.Create(context.Background(), store.Task{ID: "t1", Subject: "do a thing"})
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusActive, created.Status)
	require.Equal(t, store.OwnerUser, created.Owner)
}

func TestTaskCancelMovesToHistoryAndLeavesLiveSetUnchanged(t *testing.T) {
	s := newTaskStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, store.Task{ID: "keep", Subject: "keep", Owner: "helper"})
	require.NoError(t, err)

	before, err := s.ListActive(ctx)
	require.NoError(t, err)

	_, err = s.Create(ctx, store.Task{ID: "gone", Subject: "gone", Owner: "helper"})
	require.NoError(t, err)

	closed, err := s.Close(ctx, "gone", store.TaskStatusCanceled)
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusCanceled, closed.Status)

	after, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))

	history, err := s.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "gone", history[0].ID)

	_, err = s.Get(ctx, "gone")
	require.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskCancelCascadesToLinkedSubtasks(t *testing.T) {
	s := newTaskStore(t)
	ctx := context.Background()

	child, err := s.Create(ctx, store.Task{ID: "child", Subject: "sub", Owner: "helper", ParentTaskID: "parent"})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.Task{
		ID: "parent", Subject: "main", Owner: "helper",
		Steps: []store.Step{{Title: "sub", TaskID: child.ID}, {Title: "plain"}},
	})
	require.NoError(t, err)

	_, err = s.Close(ctx, "parent", store.TaskStatusCanceled)
	require.NoError(t, err)

	_, err = s.Get(ctx, "child")
	require.ErrorIs(t, err, store.ErrTaskNotFound)

	history, err := s.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		require.Equal(t, store.TaskStatusCanceled, h.Status)
	}
}

func TestTaskDoneDoesNotCascade(t *testing.T) {
	s := newTaskStore(t)
	ctx := context.Background()

	child, err := s.Create(ctx, store.Task{ID: "child", Subject: "sub", Owner: "helper"})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.Task{
		ID: "parent", Subject: "main", Owner: "helper",
		Steps: []store.Step{{Title: "sub", TaskID: child.ID}},
	})
	require.NoError(t, err)

	_, err = s.Close(ctx, "parent", store.TaskStatusDone)
	require.NoError(t, err)

	got, err := s.Get(ctx, "child")
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusActive, got.Status)
}

func TestTaskUpdateRejectsTerminalStatus(t *testing.T) {
	s := newTaskStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, store.Task{ID: "t1", Subject: "x", Owner: "helper"})
	require.NoError(t, err)

	created.Status = store.TaskStatusDone
	_, err = s.Update(ctx, created)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestTaskWaitingIsExcludedFromActiveList(t *testing.T) {
	s := newTaskStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, store.Task{ID: "t1", Subject: "x", Owner: "helper"})
	require.NoError(t, err)
	created.Status = store.TaskStatusWaiting
	_, err = s.Update(ctx, created)
	require.NoError(t, err)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	byOwner, err := s.ListByOwner(ctx, "helper")
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
}

func TestTaskCloseRequiresTerminalStatus(t *testing.T) {
	s := newTaskStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, store.Task{ID: "t1", Subject: "x"})
	require.NoError(t, err)

	_, err = s.Close(ctx, "t1", store.TaskStatusWaiting)
	require.ErrorIs(t, err, store.ErrValidation)
}
