package cmd

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/castellan-dev/castellan/internal/store"
)

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage cron-scheduled triggers",
	}
	cmd.AddCommand(triggerListCmd())
	cmd.AddCommand(triggerCreateCmd())
	cmd.AddCommand(triggerDeleteCmd())
	return cmd
}

func triggerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			triggers, err := stores.Triggers.List(context.Background())
			if err != nil {
				return err
			}
			return printJSON(triggers)
		},
	}
}

func triggerCreateCmd() *cobra.Command {
	var agentID, cronExpr, timezone, prompt string
	var enabled bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			t := store.Trigger{
				ID:       uuid.NewString(),
				AgentID:  agentID,
				CronExpr: cronExpr,
				Timezone: timezone,
				Prompt:   prompt,
				Enabled:  enabled,
			}
			created, err := stores.Triggers.Create(context.Background(), t)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "owning agent id (required)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (required)")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone name")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt injected on fire (required)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable immediately")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func triggerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a trigger by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			return stores.Triggers.Delete(context.Background(), args[0])
		},
	}
}
