package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/castellan-dev/castellan/internal/bus"
	"github.com/castellan-dev/castellan/internal/config"
	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/tools"
)

// chatCmd is a one-shot local REPL against a single agent, bypassing
// every channel adapter — the fastest way to exercise the Runner's full
// pipeline from a terminal while developing an agent's system prompt.
func chatCmd() *cobra.Command {
	var agentID, threadID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal session with one agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("chat: load config: %w", err)
			}
			if cfg.Engine.APIKey == "" {
				return fmt.Errorf("chat: CASTELLAN_ENGINE_API_KEY is not set")
			}

			stores, err := buildStores(cfg)
			if err != nil {
				return fmt.Errorf("chat: build stores: %w", err)
			}

			if threadID == "" {
				manifest, err := stores.Threads.Create(context.Background(), store.Manifest{
					ID:      uuid.NewString(),
					AgentID: agentID,
					Channel: "cli",
				})
				if err != nil {
					return fmt.Errorf("chat: create thread: %w", err)
				}
				threadID = manifest.ID
				fmt.Printf("# new thread %s\n", threadID)
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

			r := &runner.Runner{
				Stores:        stores,
				Engine:        eng,
				Tools:         tools.NewRegistry(),
				Bus:           bus.New(),
				Delegations:   tools.NewDelegationTracker(cfg.Agents.Delegation.MaxLoadPerAgent),
				WorkspaceDir:  cfg.Database.WorkDir,
				MaxDepth:      cfg.Agents.Delegation.MaxDepth,
				MaxConcurrent: cfg.Agents.Delegation.MaxConcurrent,
				MaxTurns:      cfg.Agents.MaxToolIterations,
			}

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("> ")
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					fmt.Print("> ")
					continue
				}
				res, err := r.Run(context.Background(), agentID, threadID, line, runner.Options{Source: "user"})
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				} else {
					fmt.Println(res.Text)
				}
				fmt.Print("> ")
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to chat with (required)")
	cmd.Flags().StringVar(&threadID, "thread", "", "resume an existing thread id")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}
