package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
)

func TestAgentStoreProtectedIDCannotBeDeleted(t *testing.T) {
	s := NewAgentStore(t.TempDir())
	ctx := context.Background()

	_, err := s.Create(ctx, store.Agent{ID: store.ProtectedAgentChiefOfStaff, Key: "chief", Trust: store.TrustUnrestricted})
	require.NoError(t, err)

	err = s.Delete(ctx, store.ProtectedAgentChiefOfStaff)
	require.ErrorIs(t, err, store.ErrProtectedAgent)
}

func TestAgentStoreAgentMutationCannotAlterTrust(t *testing.T) {
	s := NewAgentStore(t.TempDir())
	ctx := context.Background()

	created, err := s.Create(ctx, store.Agent{ID: "a1", Key: "a1", Trust: store.TrustSandbox})
	require.NoError(t, err)

	attempt := created
	attempt.Trust = store.TrustUnrestricted
	attempt.Capabilities = []store.Capability{store.CapSecrets}

	updated, err := s.Update(ctx, attempt, store.UpdateOpts{MutatedByAgent: true})
	require.NoError(t, err)
	require.Equal(t, store.TrustSandbox, updated.Trust)
	require.Empty(t, updated.Capabilities)
}

func TestAgentStoreDirectMutationCanAlterTrust(t *testing.T) {
	s := NewAgentStore(t.TempDir())
	ctx := context.Background()

	created, err := s.Create(ctx, store.Agent{ID: "a1", Key: "a1", Trust: store.TrustSandbox})
	require.NoError(t, err)

	attempt := created
	attempt.Trust = store.TrustUnrestricted

	updated, err := s.Update(ctx, attempt, store.UpdateOpts{MutatedByAgent: false})
	require.NoError(t, err)
	require.Equal(t, store.TrustUnrestricted, updated.Trust)
}

func TestAgentStoreUnknownCapabilityRejected(t *testing.T) {
	s := NewAgentStore(t.TempDir())
	ctx := context.Background()

	_, err := s.Create(ctx, store.Agent{ID: "a1", Key: "a1", Trust: store.TrustSandbox, Capabilities: []store.Capability{"not-real"}})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestAgentStoreDuplicateIDRejected(t *testing.T) {
	s := NewAgentStore(t.TempDir())
	ctx := context.Background()

	_, err := s.Create(ctx, store.Agent{ID: "a1", Key: "a1", Trust: store.TrustSandbox})
	require.NoError(t, err)

	_, err = s.Create(ctx, store.Agent{ID: "a1", Key: "a1-dup", Trust: store.TrustSandbox})
	require.ErrorIs(t, err, store.ErrValidation)
}
