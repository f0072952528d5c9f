package store

import (
	"context"
	"fmt"
)

// AgentStore is the validated CRUD surface over Agent records.
// Create/Update enforce: known capability names, a non-empty trust
// level, and immutability of trust-relevant fields (Trust, Capabilities,
// AllowedDelegates) when the mutation is agent-sourced (MutatedByAgent).
type AgentStore interface {
	Create(ctx context.Context, a Agent) (Agent, error)
	Get(ctx context.Context, key string) (Agent, error)
	GetByID(ctx context.Context, id string) (Agent, error)
	List(ctx context.Context) ([]Agent, error)
	Update(ctx context.Context, a Agent, opts UpdateOpts) (Agent, error)
	Delete(ctx context.Context, id string) error
}

// UpdateOpts flags whether the mutation originates from an agent's own
// agent-management tool call (in which case trust fields are frozen) or
// from a direct operator/API call.
type UpdateOpts struct {
	MutatedByAgent bool
}

// ValidateAgent enforces the field-level invariants every AgentStore
// implementation must apply before persisting a record: known capability
// names and a recognized trust level. Unknown capability names are a hard
// error, never silently dropped.
func ValidateAgent(a Agent) error {
	switch a.Trust {
	case TrustSandbox, TrustControlled, TrustUnrestricted:
	default:
		return fmt.Errorf("%w: unknown trust level %q", ErrValidation, a.Trust)
	}
	for _, c := range a.Capabilities {
		if !KnownCapabilities[c] {
			return fmt.Errorf("%w: unknown capability %q", ErrValidation, c)
		}
	}
	if a.ID == "" || a.Key == "" {
		return fmt.Errorf("%w: agent id and key are required", ErrValidation)
	}
	return nil
}

// ApplyProtectedFieldPolicy clears trust-relevant fields from the
// mutation when it is agent-sourced and the target is a protected agent,
// or when the target is any agent and the caller asked for an
// agent-sourced mutation: trust/capabilities/delegation rights may only
// change via a direct (non-agent) call, full stop. current is the
// persisted record; next is the proposed replacement.
func ApplyProtectedFieldPolicy(current, next Agent, opts UpdateOpts) (Agent, error) {
	if IsProtectedAgentID(current.ID) && next.ID != current.ID {
		return Agent{}, fmt.Errorf("%w: %s cannot be renamed", ErrProtectedAgent, current.ID)
	}
	if opts.MutatedByAgent {
		next.Trust = current.Trust
		next.Capabilities = current.Capabilities
		next.AllowedDelegates = current.AllowedDelegates
		next.Directories = current.Directories
	}
	return next, nil
}
