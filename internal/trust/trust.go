// Package trust implements the trust and capability resolver: a pure
// function from an agent's trust level and granted capabilities to a
// concrete permission mode, tool allow/deny lists, and tool-server
// namespace set. The model has two axes: a fixed per-trust-level
// baseline, widened by capability grants.
package trust

import (
	"fmt"
	"sort"

	"github.com/castellan-dev/castellan/internal/store"
)

// PermissionMode is passed straight through to the engine adapter, which
// maps it onto whatever its underlying provider's tool-approval knob is
// ("dontAsk", "bypassPermissions", ...).
type PermissionMode string

const (
	ModeDontAsk           PermissionMode = "dontAsk"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
)

// Resolution is the resolver's output: what internal/runner hands to the
// engine adapter for one turn.
type Resolution struct {
	PermissionMode  PermissionMode
	AllowedTools    []string
	DisallowedTools []string
	Servers         []string
}

// Context carries the external state the resolver needs that isn't
// captured by (trust, capabilities) alone. The "agents" capability is
// omitted entirely when no delegation callback is wired up, rather than
// granted and then failing at call time.
type Context struct {
	HasRunAgentFn bool

	// HasDelegates mirrors whether the calling agent's allow-list is
	// non-empty; the delegation server is only granted when there is
	// someone to delegate to.
	HasDelegates bool

	// ExtraServersByCapability extends a capability's server grant with
	// operator-configured namespaces (external stdio servers registered
	// at startup). Part of the resolver's input, so resolution stays a
	// pure function of its arguments.
	ExtraServersByCapability map[string][]string
}

var baselineTools = map[store.TrustLevel][]string{
	store.TrustSandbox:      {"web_search", "web_fetch", "sub_task"},
	store.TrustControlled:   {"web_search", "web_fetch", "sub_task", "read_file", "write_file", "list_files", "read_notebook", "write_notebook"},
	store.TrustUnrestricted: {"web_search", "web_fetch", "sub_task", "read_file", "write_file", "list_files", "read_notebook", "write_notebook", "shell"},
}

var baselineServers = map[store.TrustLevel][]string{
	store.TrustSandbox:      {"memory:*", "triggers:*", "agents:*", "usage:*", "suggest-edit:*"},
	store.TrustControlled:   {"memory:*", "triggers:*", "agents:*", "usage:*", "suggest-edit:*"},
	store.TrustUnrestricted: {"memory:*", "triggers:*", "agents:*", "usage:*", "suggest-edit:*"},
}

func permissionModeFor(level store.TrustLevel) PermissionMode {
	if level == store.TrustUnrestricted {
		return ModeBypassPermissions
	}
	return ModeDontAsk
}

// capabilityServers maps each capability to the tool-server namespace(s)
// it grants. "agents" is handled separately in Resolve because it also
// depends on Context.HasRunAgentFn.
var capabilityServers = map[store.Capability][]string{
	store.CapMemory:          {"memory"},
	store.CapHistory:         {"history"},
	store.CapTasks:           {"tasks"},
	store.CapNotes:           {"notes"},
	store.CapSelf:            {"self"},
	store.CapMedia:           {"media"},
	store.CapSecrets:         {"secrets"},
	store.CapAgentManagement: {"agent-management"},
	store.CapTriggers:        {"triggers"},
	store.CapBrowser:         {"browser"},
}

// ValidateCapabilities returns store.ErrValidation wrapped with the
// offending name for the first capability that isn't in the known set.
// The Runner calls this before appending the user's message to the
// thread, per the "CapabilityUnknown fails before append" decision.
func ValidateCapabilities(caps []store.Capability) error {
	for _, c := range caps {
		if !store.KnownCapabilities[c] {
			return fmt.Errorf("%w: unknown capability %q", store.ErrValidation, c)
		}
	}
	return nil
}

// Resolve computes the tool surface for one turn. It is a pure function:
// same (trust, capabilities, ctx) always yields the same Resolution, and
// Resolve(level, c1, ctx)'s servers/tools are always a subset of
// Resolve(level, c1 ∪ {c}, ctx)'s — adding a capability only ever widens
// the surface, never narrows it.
func Resolve(level store.TrustLevel, capabilities []store.Capability, ctx Context) (Resolution, error) {
	if err := ValidateCapabilities(capabilities); err != nil {
		return Resolution{}, err
	}

	tools, ok := baselineTools[level]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: unknown trust level %q", store.ErrValidation, level)
	}
	servers := append([]string{}, baselineServers[level]...)

	serverSet := make(map[string]bool, len(servers))
	for _, s := range servers {
		serverSet[s] = true
	}

	for _, c := range capabilities {
		if c == store.CapAgents {
			// ask_agent requires a wired runner reentry point, a non-empty
			// allow-list, and non-sandbox trust; anything less and the
			// server is omitted entirely rather than offered and failing.
			if ctx.HasRunAgentFn && ctx.HasDelegates && level != store.TrustSandbox {
				serverSet["agents-delegate"] = true
			}
			continue
		}
		for _, s := range capabilityServers[c] {
			serverSet[s] = true
		}
		for _, s := range ctx.ExtraServersByCapability[string(c)] {
			serverSet[s] = true
		}
	}

	servers = servers[:0]
	for s := range serverSet {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	var disallowed []string
	if level != store.TrustUnrestricted {
		disallowed = append(disallowed, "shell")
	}

	return Resolution{
		PermissionMode:  permissionModeFor(level),
		AllowedTools:    append([]string{}, tools...),
		DisallowedTools: disallowed,
		Servers:         servers,
	}, nil
}
