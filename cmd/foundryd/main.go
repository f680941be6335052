package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cerina/foundry/internal/engine"
	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/internal/server"
	"github.com/cerina/foundry/internal/store"
	"github.com/cerina/foundry/pkg/blackboard"
)

func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("FOUNDRY_INSTANCE_NAME")
	if instanceName == "" {
		instanceName = "default"
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	listenAddr := os.Getenv("FOUNDRY_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8000"
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 3. Create blackboard client
	bbClient, err := blackboard.NewClient(redisOpts, instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create blackboard client: %v\n", err)
		os.Exit(1)
	}
	defer bbClient.Close()

	// 4. Verify Redis connectivity
	ctx := context.Background()
	if err := bbClient.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Select the oracle: Anthropic when credentials are present, the
	// deterministic stub otherwise.
	var o oracle.Oracle
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		opts := []oracle.AnthropicOption{}
		if model := os.Getenv("FOUNDRY_ORACLE_MODEL"); model != "" {
			opts = append(opts, oracle.WithModel(model))
		}
		anthropic, err := oracle.NewAnthropic(apiKey, opts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to create oracle client: %v\n", err)
			os.Exit(1)
		}
		o = anthropic
		fmt.Println("Oracle: anthropic")
	} else {
		o = oracle.NewStub()
		fmt.Println("Oracle: stub (ANTHROPIC_API_KEY not set)")
	}

	// 6. Optional Postgres audit store
	var sink server.EventSink
	var auditStore *store.Store
	if postgresURL := os.Getenv("FOUNDRY_POSTGRES_URL"); postgresURL != "" {
		auditStore, err = store.Open(ctx, postgresURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: audit store unavailable, continuing without it: %v\n", err)
		} else {
			if err := auditStore.EnsureSchema(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: audit schema setup failed, continuing without it: %v\n", err)
				auditStore.Close()
				auditStore = nil
			} else {
				sink = store.NewRecorder(auditStore)
				fmt.Println("Audit store initialized")
			}
		}
	}
	if auditStore != nil {
		defer auditStore.Close()
	}

	// 7. Create the engine and HTTP surface
	eng := engine.New(bbClient, o, engine.DefaultPolicy())
	api := server.New(eng, bbClient, sink)

	httpServer := &http.Server{
		Addr:        listenAddr,
		Handler:     api.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: SSE relays stay open for the length of a run.
	}

	fmt.Printf("foundryd starting for instance '%s' on %s\n", instanceName, listenAddr)

	// 8. Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("foundryd stopped")
}
