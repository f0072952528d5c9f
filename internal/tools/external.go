package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/castellan-dev/castellan/internal/engine"
)

// ExternalServerSpec describes one stdio-speaking MCP server the daemon
// may spawn: the command line plus the namespace it registers under.
type ExternalServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// externalClient owns one spawned MCP subprocess, connected lazily on
// first use and shared by every turn thereafter — spawning a subprocess
// per turn would dwarf the turn itself.
type externalClient struct {
	spec ExternalServerSpec

	mu        sync.Mutex
	client    *client.Client
	toolDefs  []mcp.Tool
	connected bool
}

func (e *externalClient) connect(ctx context.Context) error {
	if e.connected {
		return nil
	}
	env := make([]string, 0, len(e.spec.Env))
	for k, v := range e.spec.Env {
		env = append(env, k+"="+v)
	}
	c, err := client.NewStdioMCPClient(e.spec.Command, env, e.spec.Args...)
	if err != nil {
		return fmt.Errorf("tools: spawn external server %s: %w", e.spec.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "castellan", Version: "1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("tools: initialize external server %s: %w", e.spec.Name, err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("tools: list tools on external server %s: %w", e.spec.Name, err)
	}

	e.client = c
	e.toolDefs = listResp.Tools
	e.connected = true
	slog.Info("external tool server connected", "server", e.spec.Name, "tools", len(e.toolDefs))
	return nil
}

func (e *externalClient) call(ctx context.Context, tool string, args map[string]interface{}) (string, bool) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := e.client.CallTool(ctx, req)
	if err != nil {
		return fmt.Sprintf("%s: %v", tool, err), true
	}

	var parts []string
	for _, c := range resp.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), resp.IsError
}

// NewExternalFactory returns a Factory for one configured external stdio
// server. The subprocess is shared across turns; the Factory only
// re-exposes its advertised tools with handlers that proxy CallTool.
func NewExternalFactory(spec ExternalServerSpec) Factory {
	ec := &externalClient{spec: spec}

	return func(ctx context.Context, _ FactoryContext) (Server, error) {
		ec.mu.Lock()
		defer ec.mu.Unlock()
		if err := ec.connect(ctx); err != nil {
			return Server{}, err
		}

		tools := make([]engine.ToolDefinition, 0, len(ec.toolDefs))
		for _, t := range ec.toolDefs {
			name := t.Name
			schema := map[string]interface{}{"type": "object"}
			if raw := t.InputSchema.Properties; raw != nil {
				schema["properties"] = raw
			}
			if len(t.InputSchema.Required) > 0 {
				schema["required"] = t.InputSchema.Required
			}
			tools = append(tools, engine.ToolDefinition{
				Name:        name,
				Description: t.Description,
				Parameters:  schema,
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					ec.mu.Lock()
					defer ec.mu.Unlock()
					return ec.call(ctx, name, args)
				},
			})
		}
		return Server{Name: spec.Name, Tools: tools}, nil
	}
}
