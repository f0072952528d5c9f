package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/castellan-dev/castellan/internal/bootstrap"
	"github.com/castellan-dev/castellan/internal/bus"
	"github.com/castellan-dev/castellan/internal/channels"
	"github.com/castellan-dev/castellan/internal/channels/discord"
	"github.com/castellan-dev/castellan/internal/channels/telegram"
	"github.com/castellan-dev/castellan/internal/config"
	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/gateway"
	httpchan "github.com/castellan-dev/castellan/internal/http"
	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/scheduler"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/store/file"
	"github.com/castellan-dev/castellan/internal/store/pg"
	"github.com/castellan-dev/castellan/internal/telemetry"
	"github.com/castellan-dev/castellan/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: schedulers, chat-bot channels, and the cowork/HTTP surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe wires every component together and blocks until an interrupt
// or terminate signal arrives: load config, build stores, build the
// engine, build the Runner, start the two schedulers and every enabled
// channel, then wait.
func runServe() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	stores, err := buildStores(cfg)
	if err != nil {
		return fmt.Errorf("serve: build stores: %w", err)
	}

	if _, err := bootstrap.EnsureBuiltinAgents(context.Background(), stores.Agents); err != nil {
		return fmt.Errorf("serve: seed builtin agents: %w", err)
	}

	if cfg.Engine.APIKey == "" {
		return fmt.Errorf("serve: CASTELLAN_ENGINE_API_KEY is not set")
	}
	eng := engine.WithSessionResume(engine.NewAnthropicEngine(
		cfg.Engine.APIKey,
		engine.WithAnthropicModel(cfg.Engine.Model),
		engine.WithAnthropicBaseURL(cfg.Engine.BaseURL),
		engine.WithAnthropicRetry(engine.RetryConfig{
			MaxAttempts: cfg.Engine.RetryMaxAttempts,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
		}),
	))

	b := bus.New()
	registry := tools.NewRegistry()
	for _, ext := range cfg.Tools.ExternalServers {
		if ext.Name == "" || ext.Command == "" {
			slog.Warn("serve: skipping external tool server with missing name or command")
			continue
		}
		registry.Register(ext.Name, tools.NewExternalFactory(tools.ExternalServerSpec{
			Name:    ext.Name,
			Command: ext.Command,
			Args:    ext.Args,
			Env:     ext.Env,
		}))
	}
	extraServers := make(map[string][]string, len(cfg.Trust.ExtraServersByCapability))
	for capName, servers := range cfg.Trust.ExtraServersByCapability {
		extraServers[capName] = []string(servers)
	}
	delegations := tools.NewDelegationTracker(cfg.Agents.Delegation.MaxLoadPerAgent)

	r := &runner.Runner{
		Stores:                 stores,
		Engine:                 eng,
		Tools:                  registry,
		Bus:                    b,
		Delegations:            delegations,
		WorkspaceDir:           cfg.Database.WorkDir,
		ExtraCapabilityServers: extraServers,
		MaxDepth:               cfg.Agents.Delegation.MaxDepth,
		MaxConcurrent:          cfg.Agents.Delegation.MaxConcurrent,
		MaxTurns:               cfg.Agents.MaxToolIterations,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("serve: telemetry setup failed, continuing without tracing", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	// Hot-reload the config on file changes for the rest of the process
	// lifetime; secrets still come from the environment on every reload.
	go func() {
		if err := config.Watch(ctx, resolveConfigPath(), cfg); err != nil {
			slog.Warn("serve: config watch unavailable", "error", err)
		}
	}()

	triggerSched := &scheduler.TriggerScheduler{
		Stores:       stores,
		Runner:       r,
		TickInterval: time.Duration(cfg.Scheduler.TriggerTickSeconds) * time.Second,
	}
	taskSched := &scheduler.TaskScheduler{
		Stores:       stores,
		Runner:       r,
		TickInterval: time.Duration(cfg.Scheduler.TaskTickSeconds) * time.Second,
	}
	go triggerSched.Run(ctx)
	go taskSched.Run(ctx)

	chanManager := channels.NewManager(stores, r)
	if err := registerChannels(chanManager, cfg); err != nil {
		return fmt.Errorf("serve: register channels: %w", err)
	}
	if err := chanManager.StartAll(ctx); err != nil {
		return fmt.Errorf("serve: start channels: %w", err)
	}
	defer chanManager.StopAll(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.Channels.HTTP.Enabled {
		httpchan.NewHandler(cfg.Channels.HTTP, stores, r, b).RegisterRoutes(mux)
	}
	if cfg.Channels.Cowork.Enabled {
		mux.HandleFunc("/ws", gateway.NewServer(cfg.Channels.Cowork, stores, r, b).Handler())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)

	// One file at the workspace root for external supervisors: our PID
	// and the port we listen on.
	pidPath := filepath.Join(cfg.Database.WorkDir, "castellan.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d %d\n", os.Getpid(), cfg.Gateway.Port)), 0o644); err != nil {
		slog.Warn("serve: write pid file failed", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("serve: http listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("serve: http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("serve: shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return nil
}

func buildStores(cfg *config.Config) (*store.Stores, error) {
	scfg := store.Config{
		Mode:        cfg.Database.Mode,
		WorkDir:     cfg.Database.WorkDir,
		PostgresDSN: cfg.Database.PostgresDSN,
	}
	if cfg.Database.IsManaged() {
		return pg.New(scfg)
	}
	return file.New(scfg)
}

// registerChannels constructs and registers every channel adapter enabled
// in config. Each adapter's InboundHandler is the Manager's own routing
// closure, so the channel package never imports internal/runner directly.
func registerChannels(m *channels.Manager, cfg *config.Config) error {
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, m.HandleInbound)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		m.Register(ch, cfg.Channels.Discord.DefaultAgent)
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, m.HandleInbound)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		m.Register(ch, cfg.Channels.Telegram.DefaultAgent)
	}
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
