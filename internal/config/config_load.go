package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Default returns the configuration a fresh install runs with: standalone
// file storage under ~/.castellan, the built-in trigger/task cadences, and
// every channel disabled until an operator opts in.
func Default() *Config {
	home, _ := os.UserHomeDir()
	workDir := filepath.Join(home, ".castellan")

	return &Config{
		Database: DatabaseConfig{
			Mode:    "standalone",
			WorkDir: workDir,
		},
		Engine: EngineConfig{
			Provider:         "anthropic",
			Model:            "claude-sonnet-4-5-20250929",
			BaseURL:          "https://api.anthropic.com/v1",
			MaxTokens:        8192,
			Temperature:      0.7,
			ContextWindow:    200000,
			RetryMaxAttempts: 3,
		},
		Agents: AgentsConfig{
			MaxToolIterations: 20,
			Delegation: DelegationConfig{
				MaxDepth:        3,
				MaxConcurrent:   20,
				MaxLoadPerAgent: 5,
			},
		},
		Scheduler: SchedulerConfig{
			TriggerTickSeconds: 60,
			TaskTickSeconds:    3600,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18790,
			RateLimitRPM: 20,
		},
		Identity: IdentityConfig{
			Name: "Castellan",
		},
	}
}

// Load reads path as JSON5 (comments and trailing commas tolerated, per the
// parser this daemon uses everywhere else it reads operator-edited files).
// A missing file is not an error: Load falls back to Default() overlaid
// with environment overrides, so a fresh checkout can run with zero setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers secret and deployment-specific values on top of
// whatever config.json contained. Secrets live only here: config.json is
// routinely shared/committed, env vars are not.
func applyEnvOverrides(cfg *Config) {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			*dst = parseIntDefault(v, *dst)
		}
	}

	envStr("CASTELLAN_ENGINE_API_KEY", &cfg.Engine.APIKey)
	envStr("CASTELLAN_ENGINE_BASE_URL", &cfg.Engine.BaseURL)
	envStr("CASTELLAN_POSTGRES_DSN", &cfg.Database.PostgresDSN)
	envStr("CASTELLAN_DISCORD_BOT_TOKEN", &cfg.Channels.Discord.BotToken)
	envStr("CASTELLAN_TELEGRAM_BOT_TOKEN", &cfg.Channels.Telegram.BotToken)
	envStr("CASTELLAN_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envInt("CASTELLAN_GATEWAY_PORT", &cfg.Gateway.Port)

	if cfg.Database.PostgresDSN != "" && cfg.Database.Mode == "" {
		cfg.Database.Mode = "managed"
	}
}

// Save writes cfg back to path as indented JSON (a valid JSON5 subset, so
// Load can read it back unchanged). Secrets (anything tagged `json:"-"`)
// are never marshaled, so Save is safe to call on a config an operator
// will check into version control.
func Save(path string, cfg *Config) error {
	snap := cfg.Snapshot()
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: rename temp file: %w", err)
	}
	return nil
}
