package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/castellan-dev/castellan/internal/engine"
)

// notesDir returns the per-agent notes directory, the minimal concrete
// shape the "notes" capability's tools need.
func notesDir(workspaceDir, agentID string) string {
	return filepath.Join(workspaceDir, "agents", agentID, "notes")
}

func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.ReplaceAll(title, "/", "-")
	title = strings.ReplaceAll(title, string(filepath.Separator), "-")
	return title
}

// NotesFactory backs the "notes" capability: simple titled text notes an
// agent writes for itself (or to hand to a channel via thread:note on the
// bus — wiring that emission is the Runner's job, not the tool's).
func NotesFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	dir := notesDir(fctx.WorkspaceDir, fctx.Agent.ID)

	return Server{
		Name: "notes",
		Tools: []engine.ToolDefinition{
			{
				Name:        "notes_write",
				Description: "Write (or overwrite) a titled note.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"title", "content"},
					"properties": map[string]interface{}{
						"title":   map[string]interface{}{"type": "string"},
						"content": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					title, _ := args["title"].(string)
					content, _ := args["content"].(string)
					title = sanitizeTitle(title)
					if title == "" {
						return errResult("notes_write: title is required")
					}
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return errResult("notes_write: %v", err)
					}
					path := filepath.Join(dir, title+".md")
					if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
						return errResult("notes_write: %v", err)
					}
					return textResult(fmt.Sprintf("saved note %q", title))
				},
			},
			{
				Name:        "notes_read",
				Description: "Read a previously written note by title.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"title"},
					"properties": map[string]interface{}{
						"title": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					title := sanitizeTitle(fmt.Sprint(args["title"]))
					data, err := os.ReadFile(filepath.Join(dir, title+".md"))
					if err != nil {
						return errResult("notes_read: no note titled %q", title)
					}
					return textResult(string(data))
				},
			},
			{
				Name:        "notes_list",
				Description: "List every note title this agent has saved.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(_ context.Context, _ map[string]interface{}) (string, bool) {
					entries, err := os.ReadDir(dir)
					if err != nil {
						if os.IsNotExist(err) {
							data, _ := json.Marshal([]string{})
							return textResult(string(data))
						}
						return errResult("notes_list: %v", err)
					}
					var titles []string
					for _, e := range entries {
						if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
							titles = append(titles, strings.TrimSuffix(e.Name(), ".md"))
						}
					}
					sort.Strings(titles)
					data, _ := json.Marshal(titles)
					return textResult(string(data))
				},
			},
		},
	}, nil
}
