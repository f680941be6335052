package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cerina/foundry/internal/printer"
	"github.com/cerina/foundry/pkg/blackboard"
)

var (
	startIntent        string
	startMaxIterations int
	startFollow        bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new protocol drafting run",
	Long: `Start a new protocol drafting run for a therapeutic intent.

The run drafts a protocol, scores it for safety and empathy, and then halts
for human review. Resume it with 'foundry resume' after reviewing the draft.

Examples:
  # Start and follow the run to the review gate
  foundry start --intent "reduce exam anxiety"

  # Start with a higher refinement ceiling, print only the thread id
  foundry start --intent "sleep hygiene" --max-iterations 5 --follow=false`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startIntent, "intent", "i", "", "Therapeutic intent for the protocol (required)")
	startCmd.Flags().IntVar(&startMaxIterations, "max-iterations", blackboard.DefaultMaxIterations, "Refinement cycle ceiling")
	startCmd.Flags().BoolVarP(&startFollow, "follow", "f", true, "Stream run events until the review gate")
	_ = startCmd.MarkFlagRequired("intent")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
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

	if err := client.Ping(ctx); err != nil {
		return printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.RedisURL),
			[]string{"Check that Redis is running, or point --redis-url at it"},
		)
	}

	eng, err := buildEngine(cfg, client)
	if err != nil {
		return printer.Error("oracle setup failed", err.Error(), nil)
	}

	threadID := blackboard.NewThreadID()
	events, err := eng.Start(ctx, threadID, startIntent, startMaxIterations)
	if err != nil {
		return printer.Error("failed to start run", err.Error(), nil)
	}

	printer.Success("Run started\n")
	printer.Printf("Thread: %s\n\n", threadID)

	if !startFollow {
		// The run executes in this process, so the segment still has to be
		// drained before exiting; only the event output is suppressed.
		for range events {
		}
		printer.Printf("Run reached the review gate. Inspect it with:\n  foundry state %s\n", threadID)
		return nil
	}

	for ev := range events {
		printer.Event(&ev)
	}

	printer.Printf("\nWhen the draft looks right, resume with:\n  foundry resume %s [--draft <edited draft>]\n", threadID)
	return nil
}
