package tools

import (
	"context"
	"encoding/json"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
)

// UsageFactory backs the "usage" namespace, part of the always-on
// baseline every trust level grants: a
// read-only view of an agent's own token/cost accounting, letting an
// agent answer "how much have I spent" without an operator capability
// grant. Never exposes other agents' totals.
func UsageFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	stores := fctx.Stores
	agentID := fctx.Agent.ID

	return Server{
		Name: "usage",
		Tools: []engine.ToolDefinition{
			{
				Name:        "usage_summary",
				Description: "Return this agent's total token usage across all threads.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					totals, err := stores.Usage.SumByAgent(ctx, agentID)
					if err != nil {
						return errResult("usage_summary: %v", err)
					}
					data, _ := json.Marshal(totals)
					return textResult(string(data))
				},
			},
			{
				Name:        "usage_recent",
				Description: "List this agent's most recent usage records for the current thread.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					records, err := stores.Usage.Query(ctx, store.UsageFilter{
						AgentID:  agentID,
						ThreadID: fctx.ThreadID,
						Limit:    20,
					})
					if err != nil {
						return errResult("usage_recent: %v", err)
					}
					data, _ := json.Marshal(records)
					return textResult(string(data))
				},
			},
		},
	}, nil
}
