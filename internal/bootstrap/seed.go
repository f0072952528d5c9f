// Package bootstrap seeds a workspace's built-in agents on first run.
// The two protected IDs (chief-of-staff, agent-builder) are assumed to
// exist by the delegation allow-lists, the agent-management tool surface,
// and the protected-field policy, so the daemon creates them itself
// rather than leaving a fresh workspace agentless.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/castellan-dev/castellan/internal/store"
)

var builtinAgents = []store.Agent{
	{
		ID:       store.ProtectedAgentChiefOfStaff,
		Key:      store.ProtectedAgentChiefOfStaff,
		Name:     "Chief of Staff",
		Identity: "You are the workspace's chief of staff: the first point of contact for the user and the coordinator of every other agent.",
		Instructions: "Handle requests yourself when they are small. For anything larger, find or create the right standing task, and delegate to a specialist agent when one exists. " +
			"Keep the user informed of what is running on their behalf.",
		Trust:            store.TrustControlled,
		Capabilities:     []store.Capability{store.CapMemory, store.CapHistory, store.CapTasks, store.CapNotes, store.CapAgents, store.CapTriggers},
		AllowedDelegates: []string{"*"},
	},
	{
		ID:       store.ProtectedAgentBuilder,
		Key:      store.ProtectedAgentBuilder,
		Name:     "Agent Builder",
		Identity: "You design and maintain the workspace's other agents.",
		Instructions: "When asked for a new agent, draft its identity and instructions, create it through your agent-management tools, and report its id back. " +
			"New agents always start at sandbox trust; tell the user to raise trust themselves if the agent needs more.",
		Trust:        store.TrustControlled,
		Capabilities: []store.Capability{store.CapMemory, store.CapAgentManagement},
	},
}

// EnsureBuiltinAgents creates any missing built-in agent, leaving
// existing records untouched — an operator's edits to a builtin's
// prompts or capabilities survive every restart. Returns the ids it
// created.
func EnsureBuiltinAgents(ctx context.Context, agents store.AgentStore) ([]string, error) {
	var created []string
	for _, a := range builtinAgents {
		if _, err := agents.GetByID(ctx, a.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrAgentNotFound) {
			return created, fmt.Errorf("bootstrap: check agent %s: %w", a.ID, err)
		}
		if _, err := agents.Create(ctx, a); err != nil {
			return created, fmt.Errorf("bootstrap: create agent %s: %w", a.ID, err)
		}
		slog.Info("seeded builtin agent", "agent", a.ID)
		created = append(created, a.ID)
	}
	return created, nil
}
