package tools

import (
	"context"
	"encoding/json"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/google/uuid"
)

// TriggersFactory backs the "triggers" capability: an agent's own
// read/write surface over the cron triggers the Trigger Scheduler
// fires. An agent may only see and mutate triggers it owns.
func TriggersFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	stores := fctx.Stores
	agentID := fctx.Agent.ID

	return Server{
		Name: "triggers",
		Tools: []engine.ToolDefinition{
			{
				Name:        "trigger_list",
				Description: "List this agent's own cron triggers.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					all, err := stores.Triggers.List(ctx)
					if err != nil {
						return errResult("trigger_list: %v", err)
					}
					var mine []store.Trigger
					for _, t := range all {
						if t.AgentID == agentID {
							mine = append(mine, t)
						}
					}
					data, _ := json.Marshal(mine)
					return textResult(string(data))
				},
			},
			{
				Name:        "trigger_create",
				Description: "Create a new cron trigger that fires this agent with a given prompt.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"cron", "prompt"},
					"properties": map[string]interface{}{
						"cron":     map[string]interface{}{"type": "string", "description": "5-field cron expression"},
						"timezone": map[string]interface{}{"type": "string", "description": "IANA tz name, defaults to process timezone"},
						"prompt":   map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					cron, _ := args["cron"].(string)
					tz, _ := args["timezone"].(string)
					prompt, _ := args["prompt"].(string)
					now := fctx.now()
					t, err := stores.Triggers.Create(ctx, store.Trigger{
						ID:        uuid.NewString(),
						AgentID:   agentID,
						CronExpr:  cron,
						Timezone:  tz,
						Prompt:    prompt,
						Enabled:   true,
						CreatedAt: now,
						UpdatedAt: now,
					})
					if err != nil {
						return errResult("trigger_create: %v", err)
					}
					data, _ := json.Marshal(t)
					return textResult(string(data))
				},
			},
			{
				Name:        "trigger_set_enabled",
				Description: "Enable or disable one of this agent's own triggers.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"triggerId", "enabled"},
					"properties": map[string]interface{}{
						"triggerId": map[string]interface{}{"type": "string"},
						"enabled":   map[string]interface{}{"type": "boolean"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					triggerID, _ := args["triggerId"].(string)
					enabled, _ := args["enabled"].(bool)
					t, err := stores.Triggers.Get(ctx, triggerID)
					if err != nil {
						return errResult("trigger_set_enabled: %v", err)
					}
					if t.AgentID != agentID {
						return errResult("trigger_set_enabled: trigger %s is not owned by this agent", triggerID)
					}
					t.Enabled = enabled
					t.UpdatedAt = fctx.now()
					if _, err := stores.Triggers.Update(ctx, t); err != nil {
						return errResult("trigger_set_enabled: %v", err)
					}
					return textResult("updated")
				},
			},
			{
				Name:        "trigger_delete",
				Description: "Delete one of this agent's own triggers.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"triggerId"},
					"properties": map[string]interface{}{
						"triggerId": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					triggerID, _ := args["triggerId"].(string)
					t, err := stores.Triggers.Get(ctx, triggerID)
					if err != nil {
						return errResult("trigger_delete: %v", err)
					}
					if t.AgentID != agentID {
						return errResult("trigger_delete: trigger %s is not owned by this agent", triggerID)
					}
					if err := stores.Triggers.Delete(ctx, triggerID); err != nil {
						return errResult("trigger_delete: %v", err)
					}
					return textResult("deleted")
				},
			},
		},
	}, nil
}
