package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cerina/foundry/internal/engine"
	"github.com/cerina/foundry/internal/printer"
	"github.com/cerina/foundry/pkg/blackboard"
)

var (
	resumeDraft     string
	resumeDraftFile string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Resume a run halted for human review",
	Long: `Resume a run that is halted for human review, optionally supplying an
edited draft. Without a draft the reviewed draft is approved as-is.

Examples:
  # Approve the draft unchanged
  foundry resume 4f6cdd9e-21c0-44a8-9f54-2f3a27f1a001

  # Approve with inline edits
  foundry resume 4f6cdd9e-21c0-44a8-9f54-2f3a27f1a001 --draft "Revised protocol..."

  # Approve with edits from a file
  foundry resume 4f6cdd9e-21c0-44a8-9f54-2f3a27f1a001 --draft-file edited.md`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDraft, "draft", "", "Edited draft text to approve")
	resumeCmd.Flags().StringVar(&resumeDraftFile, "draft-file", "", "File containing the edited draft (takes precedence over --draft)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	threadID := args[0]

	if !blackboard.IsValidThreadID(threadID) {
		return printer.Error(
			"invalid thread id",
			fmt.Sprintf("%q is not a valid thread id", threadID),
			[]string{"List threads with:\n  foundry list"},
		)
	}

	draft := resumeDraft
	if resumeDraftFile != "" {
		data, err := os.ReadFile(resumeDraftFile)
		if err != nil {
			return printer.Error("failed to read draft file", err.Error(), nil)
		}
		draft = string(data)
	}

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

	events, err := eng.Resume(ctx, threadID, draft)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrThreadNotFound):
			return printer.Error(
				"thread not found",
				fmt.Sprintf("No checkpointed state exists for thread %s", threadID),
				[]string{"List threads with:\n  foundry list"},
			)
		case errors.Is(err, engine.ErrNothingToResume):
			return printer.Error(
				"nothing to resume",
				"The thread has no pending human-review suspension.",
				[]string{fmt.Sprintf("Check its status with:\n  foundry state %s", threadID)},
			)
		case errors.Is(err, engine.ErrRunInFlight):
			return printer.Error(
				"run already in flight",
				"Another execution for this thread is currently running in this process.",
				nil,
			)
		default:
			return printer.Error("failed to resume run", err.Error(), nil)
		}
	}

	printer.Success("Run resumed\n\n")

	for ev := range events {
		printer.Event(&ev)
	}

	st, _, status, err := eng.State(ctx, threadID)
	if err != nil {
		return printer.Error("failed to read final state", err.Error(), nil)
	}

	if status == blackboard.StatusCompleted && st.FinalProtocol != nil {
		printer.Success("Protocol finalized (iteration %d)\n\n", st.Iteration)
		printer.Println(*st.FinalProtocol)
	}
	return nil
}
