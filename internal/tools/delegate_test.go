package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/store/file"
)

func newDelegateContext(t *testing.T, caller store.Agent, runFn RunAgentFn) FactoryContext {
	t.Helper()
	stores, err := file.New(store.Config{Mode: "standalone", WorkDir: t.TempDir()})
	require.NoError(t, err)

	for _, a := range []store.Agent{caller, {ID: "b", Key: "b", Name: "b", Trust: store.TrustControlled}} {
		if a.ID == "" {
			continue
		}
		_, err := stores.Agents.Create(context.Background(), a)
		require.NoError(t, err)
	}

	return FactoryContext{
		Agent:      caller,
		ThreadID:   "parent-thread",
		Stores:     stores,
		MaxDepth:   3,
		RunAgentFn: runFn,
	}
}

func callerAgent(allowed ...string) store.Agent {
	return store.Agent{ID: "a", Key: "a", Name: "a", Trust: store.TrustControlled, AllowedDelegates: allowed}
}

func TestAskAgentRejectsSelf(t *testing.T) {
	fctx := newDelegateContext(t, callerAgent("a", "b"), nil)
	_, err := askAgent(context.Background(), fctx, fctx.Agent, "a", "hi")
	require.ErrorIs(t, err, ErrDelegationSelf)
}

func TestAskAgentEnforcesAllowList(t *testing.T) {
	fctx := newDelegateContext(t, callerAgent(), nil)
	_, err := askAgent(context.Background(), fctx, fctx.Agent, "b", "hi")
	require.ErrorIs(t, err, ErrDelegationDenied)
}

func TestAskAgentWildcardAllowsAnyTarget(t *testing.T) {
	called := false
	fctx := newDelegateContext(t, callerAgent("*"), func(ctx context.Context, target, threadID, msg string, depth int) (string, error) {
		called = true
		require.Equal(t, "b", target)
		require.Equal(t, 1, depth)
		return "done", nil
	})
	text, err := askAgent(context.Background(), fctx, fctx.Agent, "b", "hi")
	require.NoError(t, err)
	require.Equal(t, "done", text)
	require.True(t, called)
}

// At the depth cap, the call returns an error result without creating a
// target thread.
func TestAskAgentDepthCapCreatesNoThread(t *testing.T) {
	fctx := newDelegateContext(t, callerAgent("b"), func(ctx context.Context, target, threadID, msg string, depth int) (string, error) {
		t.Fatal("runner must not be reentered past the depth cap")
		return "", nil
	})
	fctx.AskDepth = 3

	_, err := askAgent(context.Background(), fctx, fctx.Agent, "b", "hi")
	require.ErrorIs(t, err, ErrDelegationDepthExceeded)

	threads, lerr := fctx.Stores.Threads.List(context.Background(), "b")
	require.NoError(t, lerr)
	require.Empty(t, threads)
}

func TestAskAgentUnknownTarget(t *testing.T) {
	fctx := newDelegateContext(t, callerAgent("ghost"), nil)
	_, err := askAgent(context.Background(), fctx, fctx.Agent, "ghost", "hi")
	require.ErrorIs(t, err, store.ErrAgentNotFound)
}

// A fresh internal thread appears under the target, spawned
// from the parent thread at depth+1.
func TestAskAgentCreatesInternalTargetThread(t *testing.T) {
	fctx := newDelegateContext(t, callerAgent("b"), func(ctx context.Context, target, threadID, msg string, depth int) (string, error) {
		return "helped", nil
	})
	fctx.AskDepth = 0

	text, err := askAgent(context.Background(), fctx, fctx.Agent, "b", "help")
	require.NoError(t, err)
	require.Equal(t, "helped", text)

	threads, err := fctx.Stores.Threads.List(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, "internal", threads[0].Channel)
	require.Equal(t, "parent-thread", threads[0].SpawnedBy)
	require.Equal(t, 1, threads[0].SpawnDepth)
}

func TestDelegationTrackerCapsConcurrentLoad(t *testing.T) {
	tr := NewDelegationTracker(2)
	require.True(t, tr.TryAcquire("a"))
	require.True(t, tr.TryAcquire("a"))
	require.False(t, tr.TryAcquire("a"))
	tr.Release("a")
	require.True(t, tr.TryAcquire("a"))
}
