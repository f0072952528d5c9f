package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
)

// Sentinel errors for the delegation rules. Returned to
// the caller's turn as a tool-level error result, never raised through the
// Runner — a misbehaving delegation must not crash the parent turn.
var (
	ErrDelegationSelf         = errors.New("tools: cannot delegate to self")
	ErrDelegationDepthExceeded = errors.New("tools: delegation depth limit reached")
	ErrDelegationDenied       = errors.New("tools: target agent is not in the allow-list")
)

// DelegateFactory backs the "agents-delegate" server: ask_agent and
// list_available_agents, the bounded-depth nested-runner-invocation
// path. Only registered when trust.Resolve granted it, which in
// turn only happens when the calling agent declared the "agents"
// capability AND a RunAgentFn is wired into context (no delegation
// possible, e.g., from a context with no runner to reenter).
func DelegateFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	stores := fctx.Stores
	caller := fctx.Agent

	return Server{
		Name: "agents-delegate",
		Tools: []engine.ToolDefinition{
			{
				Name:        "ask_agent",
				Description: "Delegate a message to another agent and return its response.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"targetAgentId", "message"},
					"properties": map[string]interface{}{
						"targetAgentId": map[string]interface{}{"type": "string"},
						"message":       map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					targetID, _ := args["targetAgentId"].(string)
					message, _ := args["message"].(string)
					text, err := askAgent(ctx, fctx, caller, targetID, message)
					if err != nil {
						return errResult("%v", err)
					}
					return textResult(text)
				},
			},
			{
				Name:        "list_available_agents",
				Description: "List the agent ids this agent is allowed to delegate to, excluding itself.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					all, err := stores.Agents.List(ctx)
					if err != nil {
						return errResult("list_available_agents: %v", err)
					}
					wildcard := false
					allowed := map[string]bool{}
					for _, a := range caller.AllowedDelegates {
						if a == "*" {
							wildcard = true
						}
						allowed[a] = true
					}
					var ids []string
					for _, a := range all {
						if a.ID == caller.ID {
							continue
						}
						if wildcard || allowed[a.ID] {
							ids = append(ids, a.ID)
						}
					}
					return textResult(fmt.Sprintf("%v", ids))
				},
			},
		},
	}, nil
}

// askAgent applies the delegation rules in order — self, depth,
// allow-list, target resolution — then creates a fresh internal
// thread for the target and reenters the Runner on it. Any error here is
// returned as a tool-level error result by the caller — it never
// propagates as a Go error out of the parent turn.
func askAgent(ctx context.Context, fctx FactoryContext, caller store.Agent, targetID, message string) (string, error) {
	if targetID == caller.ID {
		return "", ErrDelegationSelf
	}

	maxDepth := fctx.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if fctx.AskDepth >= maxDepth {
		return "", fmt.Errorf("%w (max %d). Cannot delegate further.", ErrDelegationDepthExceeded, maxDepth)
	}

	wildcard := false
	allowed := false
	for _, a := range caller.AllowedDelegates {
		if a == "*" {
			wildcard = true
		}
		if a == targetID {
			allowed = true
		}
	}
	if !wildcard && !allowed {
		return "", fmt.Errorf("%w: %s", ErrDelegationDenied, targetID)
	}

	target, err := fctx.Stores.Agents.GetByID(ctx, targetID)
	if err != nil {
		return "", fmt.Errorf("tools: target agent %s: %w", targetID, err)
	}

	if fctx.Delegations != nil && !fctx.Delegations.TryAcquire(caller.ID) {
		return "", fmt.Errorf("tools: %s has too many outstanding delegations", caller.ID)
	}
	if fctx.Delegations != nil {
		defer fctx.Delegations.Release(caller.ID)
	}

	now := fctx.now()
	manifest, err := fctx.Stores.Threads.Create(ctx, store.Manifest{
		ID:         uuid.NewString(),
		AgentID:    target.ID,
		Channel:    "internal",
		SpawnedBy:  fctx.ThreadID,
		SpawnDepth: fctx.AskDepth + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return "", fmt.Errorf("tools: create delegation thread: %w", err)
	}

	if fctx.RunAgentFn == nil {
		return "", fmt.Errorf("tools: delegation is not available in this context")
	}
	text, err := fctx.RunAgentFn(ctx, target.ID, manifest.ID, message, fctx.AskDepth+1)
	if err != nil {
		return "", fmt.Errorf("tools: agent %s: %w", target.ID, err)
	}
	return text, nil
}
