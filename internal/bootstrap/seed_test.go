package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/store/file"
)

func TestEnsureBuiltinAgentsSeedsOnceAndKeepsEdits(t *testing.T) {
	stores, err := file.New(store.Config{Mode: "standalone", WorkDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := EnsureBuiltinAgents(ctx, stores.Agents)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{store.ProtectedAgentChiefOfStaff, store.ProtectedAgentBuilder}, created)

	// An operator edit to a builtin must survive restarts.
	chief, err := stores.Agents.GetByID(ctx, store.ProtectedAgentChiefOfStaff)
	require.NoError(t, err)
	chief.Instructions = "Answer in French."
	_, err = stores.Agents.Update(ctx, chief, store.UpdateOpts{})
	require.NoError(t, err)

	created, err = EnsureBuiltinAgents(ctx, stores.Agents)
	require.NoError(t, err)
	require.Empty(t, created)

	chief, err = stores.Agents.GetByID(ctx, store.ProtectedAgentChiefOfStaff)
	require.NoError(t, err)
	require.Equal(t, "Answer in French.", chief.Instructions)
}
