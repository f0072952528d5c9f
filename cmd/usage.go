package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/castellan-dev/castellan/internal/store"
)

func usageCmd() *cobra.Command {
	var agentID, threadID string
	var limit int

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Query the usage log",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if agentID != "" && threadID == "" && limit == 0 {
				totals, err := stores.Usage.SumByAgent(ctx, agentID)
				if err != nil {
					return err
				}
				return printJSON(totals)
			}
			records, err := stores.Usage.Query(ctx, store.UsageFilter{AgentID: agentID, ThreadID: threadID, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&threadID, "thread", "", "filter by thread id")
	cmd.Flags().IntVar(&limit, "limit", 0, "max records to return (0 = unbounded)")
	return cmd
}
