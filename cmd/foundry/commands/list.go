package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cerina/foundry/internal/printer"
	"github.com/cerina/foundry/pkg/blackboard"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List protocol threads, most recent first",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	client, err := connectBlackboard(cfg)
	if err != nil {
		return printer.Error("connection failed", err.Error(), nil)
	}
	defer client.Close()

	threadIDs, err := client.ListThreads(ctx)
	if err != nil {
		return printer.Error("failed to list threads", err.Error(), nil)
	}

	if len(threadIDs) == 0 {
		printer.Println("No protocol threads found.")
		return nil
	}

	printer.Printf("%-38s %-18s %-5s %s\n", "THREAD", "STATUS", "ITER", "INTENT")
	for _, threadID := range threadIDs {
		st, err := client.LoadState(ctx, threadID)
		if err != nil {
			if blackboard.IsNotFound(err) {
				continue
			}
			return printer.Error("failed to load state", err.Error(), nil)
		}

		status, err := client.GetStatus(ctx, threadID)
		if err != nil && !blackboard.IsNotFound(err) {
			return printer.Error("failed to read status", err.Error(), nil)
		}

		printer.Printf("%-38s %-18s %-5d %s\n",
			threadID, status, st.Iteration, blackboard.Preview(st.Intent, 60))
	}

	return nil
}
