package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
)

// AgentManagementFactory backs the "agent-management" capability: the
// surface the distinguished agent-builder agent (and any other agent
// granted the capability) uses to create/update/delete other agents. Every
// mutation here is agent-sourced, so store.ApplyProtectedFieldPolicy
// freezes trust/capabilities/delegation rights and the two protected ids
// reject deletion outright.
func AgentManagementFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	stores := fctx.Stores

	return Server{
		Name: "agent-management",
		Tools: []engine.ToolDefinition{
			{
				Name:        "agent_list",
				Description: "List every agent defined in the workspace.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					agents, err := stores.Agents.List(ctx)
					if err != nil {
						return errResult("agent_list: %v", err)
					}
					data, _ := json.Marshal(agents)
					return textResult(string(data))
				},
			},
			{
				Name:        "agent_create",
				Description: "Create a new agent. New agents are created with sandbox trust and no capabilities; an operator must raise trust directly.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"key", "name", "identity"},
					"properties": map[string]interface{}{
						"key":          map[string]interface{}{"type": "string"},
						"name":         map[string]interface{}{"type": "string"},
						"identity":     map[string]interface{}{"type": "string"},
						"instructions": map[string]interface{}{"type": "string"},
						"model":        map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					key, _ := args["key"].(string)
					name, _ := args["name"].(string)
					identity, _ := args["identity"].(string)
					instructions, _ := args["instructions"].(string)
					model, _ := args["model"].(string)
					now := time.Now().UTC()
					a := store.Agent{
						ID:           key,
						Key:          key,
						Name:         name,
						Identity:     identity,
						Instructions: instructions,
						Trust:        store.TrustSandbox,
						Model:        model,
						CreatedAt:    now,
						UpdatedAt:    now,
					}
					if err := store.ValidateAgent(a); err != nil {
						return errResult("agent_create: %v", err)
					}
					created, err := stores.Agents.Create(ctx, a)
					if err != nil {
						return errResult("agent_create: %v", err)
					}
					data, _ := json.Marshal(created)
					return textResult(string(data))
				},
			},
			{
				Name:        "agent_update_prompt",
				Description: "Update another agent's identity and instructions. Cannot alter trust, capabilities, directories, or delegation rights.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"agentId"},
					"properties": map[string]interface{}{
						"agentId":      map[string]interface{}{"type": "string"},
						"identity":     map[string]interface{}{"type": "string"},
						"instructions": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					agentID, _ := args["agentId"].(string)
					current, err := stores.Agents.GetByID(ctx, agentID)
					if err != nil {
						return errResult("agent_update_prompt: %v", err)
					}
					next := current
					if identity, ok := args["identity"].(string); ok {
						next.Identity = identity
					}
					if instructions, ok := args["instructions"].(string); ok {
						next.Instructions = instructions
					}
					next, err = store.ApplyProtectedFieldPolicy(current, next, store.UpdateOpts{MutatedByAgent: true})
					if err != nil {
						return errResult("agent_update_prompt: %v", err)
					}
					if _, err := stores.Agents.Update(ctx, next, store.UpdateOpts{MutatedByAgent: true}); err != nil {
						return errResult("agent_update_prompt: %v", err)
					}
					return textResult("updated")
				},
			},
			{
				Name:        "agent_delete",
				Description: "Delete an agent. Protected system agents cannot be deleted.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"agentId"},
					"properties": map[string]interface{}{
						"agentId": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					agentID, _ := args["agentId"].(string)
					if store.IsProtectedAgentID(agentID) {
						return errResult("agent_delete: %s is a protected agent and cannot be deleted", agentID)
					}
					if err := stores.Agents.Delete(ctx, agentID); err != nil {
						return errResult("agent_delete: %v", err)
					}
					return textResult("deleted")
				},
			},
		},
	}, nil
}
