package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cerina/foundry/internal/engine"
	"github.com/cerina/foundry/internal/printer"
	"github.com/cerina/foundry/pkg/blackboard"
)

var stateCmd = &cobra.Command{
	Use:   "state <thread-id>",
	Short: "Show a thread's blackboard and run status",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	threadID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	client, err := connectBlackboard(cfg)
	if err != nil {
		return printer.Error("connection failed", err.Error(), nil)
	}
	defer client.Close()

	eng, err := buildEngine(cfg, client)
	if err != nil {
		return printer.Error("oracle setup failed", err.Error(), nil)
	}

	st, susp, status, err := eng.State(ctx, threadID)
	if err != nil {
		if errors.Is(err, engine.ErrThreadNotFound) {
			return printer.Error(
				"thread not found",
				fmt.Sprintf("No checkpointed state exists for thread %s", threadID),
				[]string{"List threads with:\n  foundry list"},
			)
		}
		return printer.Error("failed to load state", err.Error(), nil)
	}

	printer.Printf("Thread:     %s\n", threadID)
	printer.Printf("Status:     %s\n", status)
	printer.Printf("Intent:     %s\n", st.Intent)
	printer.Printf("Iteration:  %d/%d\n", st.Iteration, st.MaxIterations)
	printer.Printf("Drafts:     %d\n", len(st.DraftVersions))
	printer.Printf("Last agent: %s\n", st.LastAgent)

	if st.SafetyScore != nil {
		printer.Printf("Safety:     %.2f\n", *st.SafetyScore)
	}
	if st.EmpathyScore != nil {
		printer.Printf("Empathy:    %.2f\n", *st.EmpathyScore)
	}

	if len(st.Notes) > 0 {
		printer.Println("\nNotes:")
		for _, note := range st.Notes {
			printer.Printf("  - %s\n", note)
		}
	}

	if susp != nil {
		printer.HaltPrompt(susp)
		printer.Printf("\nResume with:\n  foundry resume %s [--draft <edited draft>]\n", threadID)
	}

	if status == blackboard.StatusCompleted && st.FinalProtocol != nil {
		printer.Println("\nFinal protocol:")
		printer.Println(*st.FinalProtocol)
	}

	return nil
}
