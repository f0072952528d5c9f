package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/castellan-dev/castellan/internal/store"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage standing tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskHistoryCmd())
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskCloseCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			tasks, err := stores.Tasks.ListActive(context.Background())
			if err != nil {
				return err
			}
			return printJSON(tasks)
		},
	}
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List closed (done or canceled) tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			tasks, err := stores.Tasks.ListHistory(context.Background())
			if err != nil {
				return err
			}
			return printJSON(tasks)
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var owner, subject, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new standing task",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			t := store.Task{
				ID:          uuid.NewString(),
				Subject:     subject,
				Description: description,
				Owner:       owner,
				CreatedBy:   store.OwnerUser,
				Status:      store.TaskStatusActive,
			}
			created, err := stores.Tasks.Create(context.Background(), t)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", store.OwnerUser, "task owner: \"user\" or an agent id")
	cmd.Flags().StringVar(&subject, "subject", "", "short description of the task (required)")
	cmd.Flags().StringVar(&description, "description", "", "longer task description")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Move a task between active and waiting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			ctx := context.Background()
			t, err := stores.Tasks.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if status != "" {
				t.Status = store.TaskStatus(status)
			}
			updated, err := stores.Tasks.Update(ctx, t)
			if err != nil {
				return err
			}
			return printJSON(updated)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status: active|waiting (use \"task close\" for done/canceled)")
	return cmd
}

func taskCloseCmd() *cobra.Command {
	var canceled bool

	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a task as done (or canceled with --canceled, cascading to subtasks)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			status := store.TaskStatusDone
			if canceled {
				status = store.TaskStatusCanceled
			}
			closed, err := stores.Tasks.Close(context.Background(), args[0], status)
			if err != nil {
				return fmt.Errorf("close task: %w", err)
			}
			return printJSON(closed)
		},
	}
	cmd.Flags().BoolVar(&canceled, "canceled", false, "close as canceled instead of done")
	return cmd
}
