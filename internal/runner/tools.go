package runner

import (
	"context"
	"strings"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/tools"
	"github.com/castellan-dev/castellan/internal/trust"
)

// buildTools turns a turn's resolved server namespaces into the concrete
// engine.ToolDefinition list: every tool a factory produces is
// namespaced mcp__<server>__<tool>, plus the always-available
// notify_user built-in the Runner itself implements.
func (r *Runner) buildTools(ctx context.Context, agent store.Agent, manifest store.Manifest, opts Options, res trust.Resolution) ([]engine.ToolDefinition, error) {
	fctx := tools.FactoryContext{
		Agent:         agent,
		ThreadID:      manifest.ID,
		Channel:       manifest.Channel,
		WorkspaceDir:  r.WorkspaceDir,
		Directories:   r.Directories,
		Stores:        r.Stores,
		AskDepth:      opts.AskDepth,
		MaxDepth:      r.MaxDepth,
		RunAgentFn:    r.RunAgentFn(),
		Delegations:   r.Delegations,
		MaxConcurrent: r.MaxConcurrent,
		Now:           r.Now,
	}

	// Baseline namespaces arrive in "name:*" allow-list form while
	// capability grants arrive bare; both collapse to the same factory,
	// so build each server once no matter how many grants named it.
	built := make(map[string]bool, len(res.Servers))
	var defs []engine.ToolDefinition
	for _, serverName := range res.Servers {
		name := strings.TrimSuffix(serverName, ":*")
		if built[name] {
			continue
		}
		built[name] = true
		server, err := r.Tools.Build(ctx, name, fctx)
		if err != nil {
			return nil, err
		}
		for _, t := range server.Tools {
			namespaced := t
			namespaced.Name = "mcp__" + server.Name + "__" + t.Name
			defs = append(defs, namespaced)
		}
	}

	defs = append(defs, r.notifyUserTool(opts.Callbacks, manifest))
	return defs, nil
}

// notifyUserTool is the one built-in tool the Runner provides directly
// rather than through internal/tools: it has no persistent state of its
// own, only a callback to fire, and background mode is meaningless
// without it (the Background prompt block instructs the agent to use
// exactly this tool).
func (r *Runner) notifyUserTool(cb Callbacks, manifest store.Manifest) engine.ToolDefinition {
	return engine.ToolDefinition{
		Name:        "notify_user",
		Description: "Surface an important message to the user outside the normal response flow (the only way to reach the user in background mode).",
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
			text, _ := args["text"].(string)
			if cb.OnNotifyUser != nil {
				cb.OnNotifyUser(manifest.AgentID, manifest.ID, manifest.Channel, text)
			}
			return "notified", false
		},
	}
}
