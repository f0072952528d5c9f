package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-dev/castellan/internal/engine"
)

// Suggestion is one proposed change to an agent's own instructions,
// queued for an operator (or agent-builder) to review rather than
// applied directly. This is the baseline-trust counterpart to
// agent_update_prompt: a sandbox agent cannot mutate its own system
// prompt, but it can record what it would change and why.
type Suggestion struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Summary   string    `json:"summary"`
	Proposed  string    `json:"proposedText"`
	CreatedAt time.Time `json:"createdAt"`
}

func suggestionsDir(workspaceDir string) string {
	return filepath.Join(workspaceDir, "suggestions")
}

// SuggestEditFactory backs the "suggest-edit" namespace, part of the
// always-on baseline: every agent, regardless of trust,
// may queue a suggested instruction change without needing the
// agent-management capability to act on it directly.
func SuggestEditFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	dir := suggestionsDir(fctx.WorkspaceDir)
	agentID := fctx.Agent.ID

	return Server{
		Name: "suggest-edit",
		Tools: []engine.ToolDefinition{
			{
				Name:        "suggest_edit",
				Description: "Queue a suggested change to this agent's own system prompt for operator review.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"summary", "proposedText"},
					"properties": map[string]interface{}{
						"summary":      map[string]interface{}{"type": "string"},
						"proposedText": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					summary, _ := args["summary"].(string)
					proposed, _ := args["proposedText"].(string)
					if summary == "" {
						return errResult("suggest_edit: summary is required")
					}
					s := Suggestion{
						ID:        uuid.NewString(),
						AgentID:   agentID,
						Summary:   summary,
						Proposed:  proposed,
						CreatedAt: fctx.now(),
					}
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return errResult("suggest_edit: %v", err)
					}
					data, err := json.MarshalIndent(s, "", "  ")
					if err != nil {
						return errResult("suggest_edit: %v", err)
					}
					path := filepath.Join(dir, s.ID+".json")
					if err := os.WriteFile(path, data, 0o644); err != nil {
						return errResult("suggest_edit: %v", err)
					}
					return textResult(fmt.Sprintf("queued suggestion %s", s.ID))
				},
			},
			{
				Name:        "suggest_edit_list",
				Description: "List this agent's own queued suggestions, most recent first.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(_ context.Context, _ map[string]interface{}) (string, bool) {
					entries, err := os.ReadDir(dir)
					if err != nil {
						if os.IsNotExist(err) {
							data, _ := json.Marshal([]Suggestion{})
							return textResult(string(data))
						}
						return errResult("suggest_edit_list: %v", err)
					}
					var mine []Suggestion
					for _, e := range entries {
						if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
							continue
						}
						data, err := os.ReadFile(filepath.Join(dir, e.Name()))
						if err != nil {
							continue
						}
						var s Suggestion
						if err := json.Unmarshal(data, &s); err != nil {
							continue
						}
						if s.AgentID == agentID {
							mine = append(mine, s)
						}
					}
					sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })
					data, _ := json.Marshal(mine)
					return textResult(string(data))
				},
			},
		},
	}, nil
}
