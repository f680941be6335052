package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cerina/foundry/internal/printer"
	"github.com/cerina/foundry/pkg/blackboard"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch <thread-id>",
	Short: "Stream a thread's live events",
	Long: `Stream a thread's events as they are published, from any process.

Unlike 'start --follow', watch attaches to the live relay channel and can
observe a run driven elsewhere (for example by foundryd).

Output Formats:
  default - Human-readable colored output
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch a run with human-readable output
  foundry watch 4f6cdd9e-21c0-44a8-9f54-2f3a27f1a001

  # Export events as JSON
  foundry watch 4f6cdd9e-21c0-44a8-9f54-2f3a27f1a001 --output=json > events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	threadID := args[0]

	if watchOutputFormat != "default" && watchOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

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

	sub, err := client.SubscribeEvents(ctx, threadID)
	if err != nil {
		return printer.Error("failed to subscribe", err.Error(), nil)
	}
	defer sub.Close()

	printer.Step("Watching thread %s (Ctrl-C to stop)\n\n", threadID)

	return streamWatchedEvents(ctx, sub.Events(), sub.Errors(), watchOutputFormat, os.Stdout)
}

func streamWatchedEvents(ctx context.Context, events <-chan *blackboard.Event, errs <-chan error, format string, out io.Writer) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if format == "json" {
				line, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintln(out, string(line))
			} else {
				printer.Event(ev)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			// Decode errors are non-fatal; later events may still arrive.
			printer.Warning("skipping malformed event: %v", err)
		case <-ctx.Done():
			printer.Println("\nStopped.")
			return nil
		}
	}
}
