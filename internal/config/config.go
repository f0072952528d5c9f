// Package config holds the daemon's runtime configuration: storage mode,
// engine credentials, trust defaults, scheduler cadence, and channel
// bindings. Secrets are never read from the config file, only from
// environment variables (see config_load.go).
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// FlexibleStringSlice unmarshals either a JSON string array or a single
// scalar (string or number) into a []string, so operators can write
// "capabilities": "memory" instead of "capabilities": ["memory"] for the
// single-value case.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var multi []json.RawMessage
	if err := json.Unmarshal(data, &multi); err == nil {
		out := make([]string, 0, len(multi))
		for _, raw := range multi {
			s, err := scalarToString(raw)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		*f = out
		return nil
	}
	s, err := scalarToString(data)
	if err != nil {
		return err
	}
	*f = []string{s}
	return nil
}

func scalarToString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("config: cannot decode %s as string", string(raw))
}

// Config is the root configuration object. All mutation goes through
// ReplaceFrom so a running daemon can hot-reload without readers
// observing a half-updated struct.
type Config struct {
	mu sync.RWMutex

	Database  DatabaseConfig  `json:"database"`
	Engine    EngineConfig    `json:"engine"`
	Agents    AgentsConfig    `json:"agents"`
	Trust     TrustConfig     `json:"trust"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Tools     ToolsConfig     `json:"tools"`
	Identity  IdentityConfig  `json:"identity"`
}

// DatabaseConfig selects the persistence tier. Mode "standalone" uses the
// file-backed stores under WorkDir; Mode "managed" uses the Postgres stores
// against PostgresDSN (read from env, never from the config file).
type DatabaseConfig struct {
	Mode    string `json:"mode"`
	WorkDir string `json:"workDir"`

	PostgresDSN string `json:"-"`
}

func (d DatabaseConfig) IsManaged() bool {
	return d.Mode == "managed" && d.PostgresDSN != ""
}

// EngineConfig configures the LLM engine adapter (internal/engine).
type EngineConfig struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	BaseURL       string  `json:"baseURL"`
	MaxTokens     int     `json:"maxTokens"`
	Temperature   float64 `json:"temperature"`
	ContextWindow int     `json:"contextWindow"`

	APIKey string `json:"-"`

	RetryMaxAttempts int `json:"retryMaxAttempts"`
}

// AgentsConfig holds defaults applied to every agent unless overridden by
// the agent's own record.
type AgentsConfig struct {
	MaxToolIterations int              `json:"maxToolIterations"`
	Delegation        DelegationConfig `json:"delegation"`
}

type DelegationConfig struct {
	MaxDepth        int `json:"maxDepth"`
	MaxConcurrent   int `json:"maxConcurrent"`
	MaxLoadPerAgent int `json:"maxLoadPerAgent"`
}

// TrustConfig allows operators to extend the built-in trust/capability
// tables (internal/trust) with additional tool-server namespaces per
// capability, without recompiling the daemon.
type TrustConfig struct {
	ExtraServersByCapability map[string]FlexibleStringSlice `json:"extraServersByCapability"`
}

// SchedulerConfig sets the two scheduler tick cadences (trigger polling and
// task nudging).
type SchedulerConfig struct {
	TriggerTickSeconds int `json:"triggerTickSeconds"`
	TaskTickSeconds    int `json:"taskTickSeconds"`
}

type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	RateLimitRPM   int      `json:"rateLimitRPM"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

type TelemetryConfig struct {
	Enabled      bool   `json:"enabled"`
	OTLPEndpoint string `json:"otlpEndpoint"`
	OTLPProtocol string `json:"otlpProtocol"` // "grpc" | "http"
	ServiceName  string `json:"serviceName"`
}

// ToolsConfig declares external stdio tool servers: each entry becomes a
// registered tool-server namespace an agent can be granted alongside the
// built-in capabilities.
type ToolsConfig struct {
	ExternalServers []ExternalServerConfig `json:"externalServers"`
}

// ExternalServerConfig is one stdio-speaking MCP server: the daemon
// spawns Command with Args/Env and speaks the protocol over its pipes.
type ExternalServerConfig struct {
	Name    string              `json:"name"`
	Command string              `json:"command"`
	Args    FlexibleStringSlice `json:"args"`
	Env     map[string]string   `json:"env"`
}

type IdentityConfig struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

// ReplaceFrom atomically swaps every field from src into c, used for
// SIGHUP-style config hot-reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Database = src.Database
	c.Engine = src.Engine
	c.Agents = src.Agents
	c.Trust = src.Trust
	c.Scheduler = src.Scheduler
	c.Channels = src.Channels
	c.Gateway = src.Gateway
	c.Telemetry = src.Telemetry
	c.Tools = src.Tools
	c.Identity = src.Identity
}

// Snapshot returns a copy safe to read without holding the lock further.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
