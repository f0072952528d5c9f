package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/castellan-dev/castellan/internal/engine"
)

// memoryStore is a tiny file-backed key/value map, one file per agent:
// the minimal concrete shape that lets the memory capability's tools
// persist something across turns.
var (
	memoryMu    sync.Mutex
	memoryCache = map[string]map[string]string{}
)

func memoryPath(workspaceDir, agentID string) string {
	return filepath.Join(workspaceDir, "agents", agentID, "memory.json")
}

func loadMemory(workspaceDir, agentID string) (map[string]string, error) {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	if m, ok := memoryCache[agentID]; ok {
		return m, nil
	}
	path := memoryPath(workspaceDir, agentID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m := map[string]string{}
			memoryCache[agentID] = m
			return m, nil
		}
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("tools: corrupt memory file for agent %s: %w", agentID, err)
	}
	memoryCache[agentID] = m
	return m, nil
}

func saveMemory(workspaceDir, agentID string, m map[string]string) error {
	path := memoryPath(workspaceDir, agentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// MemoryFactory backs the "memory" namespace: a small persistent
// key/value scratchpad every trust level is allowed to use.
func MemoryFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	agentID := fctx.Agent.ID
	workspaceDir := fctx.WorkspaceDir

	return Server{
		Name: "memory",
		Tools: []engine.ToolDefinition{
			{
				Name:        "memory_save",
				Description: "Save a key/value fact to durable memory, overwriting any prior value for the same key.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"key", "value"},
					"properties": map[string]interface{}{
						"key":   map[string]interface{}{"type": "string"},
						"value": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					key, _ := args["key"].(string)
					value, _ := args["value"].(string)
					if key == "" {
						return errResult("memory_save: key is required")
					}
					m, err := loadMemory(workspaceDir, agentID)
					if err != nil {
						return errResult("memory_save: %v", err)
					}
					m[key] = value
					if err := saveMemory(workspaceDir, agentID, m); err != nil {
						return errResult("memory_save: %v", err)
					}
					return textResult(fmt.Sprintf("saved %q", key))
				},
			},
			{
				Name:        "memory_recall",
				Description: "Recall a previously saved memory value by key.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"key"},
					"properties": map[string]interface{}{
						"key": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					key, _ := args["key"].(string)
					m, err := loadMemory(workspaceDir, agentID)
					if err != nil {
						return errResult("memory_recall: %v", err)
					}
					v, ok := m[key]
					if !ok {
						return errResult("memory_recall: no value saved for key %q", key)
					}
					return textResult(v)
				},
			},
			{
				Name:        "memory_list",
				Description: "List every memory key currently saved.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(_ context.Context, _ map[string]interface{}) (string, bool) {
					m, err := loadMemory(workspaceDir, agentID)
					if err != nil {
						return errResult("memory_list: %v", err)
					}
					keys := make([]string, 0, len(m))
					for k := range m {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					data, _ := json.Marshal(keys)
					return textResult(string(data))
				},
			},
		},
	}, nil
}
