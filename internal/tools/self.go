package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
)

// SelfFactory backs the "self" capability: an agent's read/write access to
// its own prompt fragments — instructions and responsibilities. Trust,
// capabilities, and delegation rights stay frozen on agent-sourced
// mutations (store.ApplyProtectedFieldPolicy), so an agent can grow its
// own instructions but never loosen its own leash.
func SelfFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	agentID := fctx.Agent.ID
	stores := fctx.Stores

	mutate := func(ctx context.Context, apply func(store.Agent) store.Agent) error {
		a, err := stores.Agents.GetByID(ctx, agentID)
		if err != nil {
			return err
		}
		next := apply(a)
		next, err = store.ApplyProtectedFieldPolicy(a, next, store.UpdateOpts{MutatedByAgent: true})
		if err != nil {
			return err
		}
		_, err = stores.Agents.Update(ctx, next, store.UpdateOpts{MutatedByAgent: true})
		return err
	}

	return Server{
		Name: "self",
		Tools: []engine.ToolDefinition{
			{
				Name:        "self_describe",
				Description: "Return this agent's own current definition (name, trust, capabilities, prompt fragments).",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					a, err := stores.Agents.GetByID(ctx, agentID)
					if err != nil {
						return errResult("self_describe: %v", err)
					}
					data, _ := json.Marshal(a)
					return textResult(string(data))
				},
			},
			{
				Name:        "self_append_instructions",
				Description: "Append a new paragraph to this agent's own instructions.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"text"},
					"properties": map[string]interface{}{
						"text": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					text, _ := args["text"].(string)
					if strings.TrimSpace(text) == "" {
						return errResult("self_append_instructions: text is required")
					}
					err := mutate(ctx, func(a store.Agent) store.Agent {
						if a.Instructions == "" {
							a.Instructions = text
						} else {
							a.Instructions = strings.TrimRight(a.Instructions, "\n") + "\n\n" + text
						}
						return a
					})
					if err != nil {
						return errResult("self_append_instructions: %v", err)
					}
					return textResult("instructions updated")
				},
			},
			{
				Name:        "self_set_responsibility",
				Description: "Create or replace one of this agent's own responsibility fragments, identified by title.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"title", "content"},
					"properties": map[string]interface{}{
						"title":   map[string]interface{}{"type": "string"},
						"content": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					title, _ := args["title"].(string)
					content, _ := args["content"].(string)
					if strings.TrimSpace(title) == "" {
						return errResult("self_set_responsibility: title is required")
					}
					err := mutate(ctx, func(a store.Agent) store.Agent {
						for i, r := range a.Responsibilities {
							if r.Title == title {
								a.Responsibilities[i].Content = content
								return a
							}
						}
						a.Responsibilities = append(a.Responsibilities, store.Responsibility{Title: title, Content: content})
						return a
					})
					if err != nil {
						return errResult("self_set_responsibility: %v", err)
					}
					return textResult("responsibility saved")
				},
			},
			{
				Name:        "self_remove_responsibility",
				Description: "Remove one of this agent's own responsibility fragments by title.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"title"},
					"properties": map[string]interface{}{
						"title": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					title, _ := args["title"].(string)
					removed := false
					err := mutate(ctx, func(a store.Agent) store.Agent {
						kept := a.Responsibilities[:0]
						for _, r := range a.Responsibilities {
							if r.Title == title {
								removed = true
								continue
							}
							kept = append(kept, r)
						}
						a.Responsibilities = kept
						return a
					})
					if err != nil {
						return errResult("self_remove_responsibility: %v", err)
					}
					if !removed {
						return errResult("self_remove_responsibility: no responsibility titled %q", title)
					}
					return textResult("responsibility removed")
				},
			},
		},
	}, nil
}
