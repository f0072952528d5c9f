package tools

import (
	"context"
	"encoding/json"

	"github.com/castellan-dev/castellan/internal/engine"
)

// agentSummary strips an Agent down to the fields safe to expose to any
// other agent at any trust level — never the system prompt, trust
// level, or delegation allow-list.
type agentSummary struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// AgentsFactory backs the "agents" namespace, part of the always-on
// baseline every trust level carries. This is a read-only directory
// lookup, distinct from the
// "agents-delegate" server the "agents" *capability* grants: every agent
// can see who else exists, but only a capability grant (plus a wired
// RunAgentFn) can actually ask_agent into one of them.
func AgentsFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	stores := fctx.Stores

	return Server{
		Name: "agents",
		Tools: []engine.ToolDefinition{
			{
				Name:        "agents_directory",
				Description: "List the name and id of every agent in the workspace.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					all, err := stores.Agents.List(ctx)
					if err != nil {
						return errResult("agents_directory: %v", err)
					}
					summaries := make([]agentSummary, 0, len(all))
					for _, a := range all {
						summaries = append(summaries, agentSummary{ID: a.ID, Key: a.Key, Name: a.Name})
					}
					data, _ := json.Marshal(summaries)
					return textResult(string(data))
				},
			},
		},
	}, nil
}
