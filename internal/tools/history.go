package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/castellan-dev/castellan/internal/engine"
)

// HistoryFactory backs the "history" capability: read-only search over an
// agent's own past threads, letting it recall earlier conversations
// without the calling channel having to paste them back in.
func HistoryFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	stores := fctx.Stores
	agentID := fctx.Agent.ID

	return Server{
		Name: "history",
		Tools: []engine.ToolDefinition{
			{
				Name:        "history_search",
				Description: "Search this agent's own past thread messages for a substring, most recent first.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"query"},
					"properties": map[string]interface{}{
						"query": map[string]interface{}{"type": "string"},
						"limit": map[string]interface{}{"type": "integer", "description": "max results, default 10"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					query, _ := args["query"].(string)
					if query == "" {
						return errResult("history_search: query is required")
					}
					limit := 10
					if lf, ok := args["limit"].(float64); ok && lf > 0 {
						limit = int(lf)
					}

					manifests, err := stores.Threads.List(ctx, agentID)
					if err != nil {
						return errResult("history_search: %v", err)
					}

					type hit struct {
						ThreadID string `json:"threadId"`
						Role     string `json:"role"`
						Snippet  string `json:"snippet"`
					}
					var hits []hit
					lowered := strings.ToLower(query)
					for _, m := range manifests {
						msgs, err := stores.Threads.LoadMessages(ctx, m.ID)
						if err != nil {
							continue
						}
						for i := len(msgs) - 1; i >= 0 && len(hits) < limit; i-- {
							msg := msgs[i]
							if strings.Contains(strings.ToLower(msg.Content), lowered) {
								hits = append(hits, hit{ThreadID: m.ID, Role: string(msg.Role), Snippet: snippet(msg.Content, query)})
							}
						}
						if len(hits) >= limit {
							break
						}
					}
					data, _ := json.Marshal(hits)
					return textResult(string(data))
				},
			},
		},
	}, nil
}

func snippet(content, query string) string {
	const radius = 80
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		if len(content) > 2*radius {
			return content[:2*radius] + "..."
		}
		return content
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + radius
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
