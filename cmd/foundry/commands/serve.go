package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cerina/foundry/internal/printer"
	"github.com/cerina/foundry/internal/server"
	"github.com/cerina/foundry/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server: protocol creation, SSE run streams, the human
approval endpoint, and audit replay.

The listen address, oracle, policy, and optional Postgres audit store come
from foundry.yml (--config) or their defaults.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	var sink server.EventSink
	if cfg.Audit != nil && cfg.Audit.PostgresURL != "" {
		auditStore, err := store.Open(ctx, cfg.Audit.PostgresURL)
		if err != nil {
			printer.Warning("audit store unavailable, continuing without it: %v\n", err)
		} else {
			defer auditStore.Close()
			if err := auditStore.EnsureSchema(ctx); err != nil {
				printer.Warning("audit schema setup failed, continuing without it: %v\n", err)
			} else {
				sink = store.NewRecorder(auditStore)
				printer.Success("Audit store initialized\n")
			}
		}
	}

	api := server.New(eng, client, sink)
	httpServer := &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     api.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: SSE relays stay open for the length of a run.
	}

	printer.Success("Serving instance '%s' on %s\n", cfg.Instance, cfg.ListenAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		printer.Printf("Received signal %v, shutting down gracefully...\n", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return printer.Error("shutdown failed", err.Error(), nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return printer.Error("server failed", err.Error(), nil)
		}
	}

	printer.Println("Server stopped")
	return nil
}
