package trust

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
)

func TestSandboxNeverAllowsShell(t *testing.T) {
	res, err := Resolve(store.TrustSandbox, nil, Context{})
	require.NoError(t, err)
	require.NotContains(t, res.AllowedTools, "shell")
	require.Contains(t, res.DisallowedTools, "shell")
}

func TestUnrestrictedAllowsShellAndBypassesApproval(t *testing.T) {
	res, err := Resolve(store.TrustUnrestricted, nil, Context{})
	require.NoError(t, err)
	require.Contains(t, res.AllowedTools, "shell")
	require.Equal(t, ModeBypassPermissions, res.PermissionMode)
	require.Empty(t, res.DisallowedTools)
}

func TestUnknownCapabilityIsRejected(t *testing.T) {
	_, err := Resolve(store.TrustSandbox, []store.Capability{"not-a-real-capability"}, Context{})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestCapabilityGrantsAreMonotonic(t *testing.T) {
	base, err := Resolve(store.TrustControlled, []store.Capability{store.CapMemory}, Context{})
	require.NoError(t, err)

	wider, err := Resolve(store.TrustControlled, []store.Capability{store.CapMemory, store.CapNotes}, Context{})
	require.NoError(t, err)

	for _, s := range base.Servers {
		require.Contains(t, wider.Servers, s)
	}
	for _, tl := range base.AllowedTools {
		require.Contains(t, wider.AllowedTools, tl)
	}
}

func TestAgentsCapabilityOmittedWithoutRunAgentFn(t *testing.T) {
	res, err := Resolve(store.TrustControlled, []store.Capability{store.CapAgents}, Context{HasRunAgentFn: false, HasDelegates: true})
	require.NoError(t, err)
	require.NotContains(t, res.Servers, "agents-delegate")

	res, err = Resolve(store.TrustControlled, []store.Capability{store.CapAgents}, Context{HasRunAgentFn: true, HasDelegates: true})
	require.NoError(t, err)
	require.Contains(t, res.Servers, "agents-delegate")
}

func TestDelegationRequiresAllowListAndTrust(t *testing.T) {
	res, err := Resolve(store.TrustControlled, []store.Capability{store.CapAgents}, Context{HasRunAgentFn: true, HasDelegates: false})
	require.NoError(t, err)
	require.NotContains(t, res.Servers, "agents-delegate")

	res, err = Resolve(store.TrustSandbox, []store.Capability{store.CapAgents}, Context{HasRunAgentFn: true, HasDelegates: true})
	require.NoError(t, err)
	require.NotContains(t, res.Servers, "agents-delegate")
}
