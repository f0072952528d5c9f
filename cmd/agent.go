package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/castellan-dev/castellan/internal/config"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/store/file"
	"github.com/castellan-dev/castellan/internal/store/pg"
)

// openStores is the shared store-construction path every non-serve
// subcommand uses: load config, pick the backend config.Database.Mode
// names, open it. Mirrors buildStores in serve.go without pulling in the
// engine/runner/scheduler wiring those commands never need.
func openStores() (*store.Stores, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
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

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agent records",
	}
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentCreateCmd())
	cmd.AddCommand(agentDeleteCmd())
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			agents, err := stores.Agents.List(context.Background())
			if err != nil {
				return err
			}
			return printJSON(agents)
		},
	}
}

func agentCreateCmd() *cobra.Command {
	var key, name, identity, instructions, trust string
	var capabilities, directories, allowedAgents []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			caps := make([]store.Capability, 0, len(capabilities))
			for _, c := range capabilities {
				caps = append(caps, store.Capability(c))
			}
			a := store.Agent{
				ID:               uuid.NewString(),
				Key:              key,
				Name:             name,
				Identity:         identity,
				Instructions:     instructions,
				Trust:            store.TrustLevel(trust),
				Capabilities:     caps,
				Directories:      directories,
				AllowedDelegates: allowedAgents,
			}
			created, err := stores.Agents.Create(context.Background(), a)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "unique agent key (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&identity, "identity", "", "identity prompt fragment")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions prompt fragment")
	cmd.Flags().StringVar(&trust, "trust", string(store.TrustSandbox), "trust level: sandbox|controlled|unrestricted")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability to grant (repeatable)")
	cmd.Flags().StringSliceVar(&directories, "directory", nil, "extra filesystem root the agent may touch (repeatable)")
	cmd.Flags().StringSliceVar(&allowedAgents, "allow-agent", nil, "agent id this agent may delegate to, or \"*\" (repeatable)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func agentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an agent by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			return stores.Agents.Delete(context.Background(), args[0])
		},
	}
}
