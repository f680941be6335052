// go:build integration
//go:build integration

package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/pkg/blackboard"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisURL := fmt.Sprintf("redis://%s:%s", host, port.Port())

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return redisURL, cleanup
}

// TestEngine_FullRunAgainstRealRedis drives a run through suspension and
// resume against a real Redis, including a live pub/sub subscriber.
func TestEngine_FullRunAgainstRealRedis(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	client, err := blackboard.NewClient(opts, "test-instance")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	o := oracle.NewScripted(
		oracle.ScriptedResponse{Text: "integration draft"},
		oracle.ScriptedResponse{Text: `{"score": 0.9, "explanation": "safe"}`},
		oracle.ScriptedResponse{Text: `{"score": 0.85, "explanation": "warm"}`},
	)
	eng := New(client, o, DefaultPolicy())

	threadID := blackboard.NewThreadID()

	// Attach a live subscriber before starting the run.
	sub, err := client.SubscribeEvents(ctx, threadID)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()
	time.Sleep(500 * time.Millisecond)

	events, err := eng.Start(ctx, threadID, "reduce exam anxiety", 3)
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}
	for range events {
	}

	status, err := client.GetStatus(ctx, threadID)
	if err != nil {
		t.Fatalf("Failed to read status: %v", err)
	}
	if status != blackboard.StatusHaltedForHuman {
		t.Fatalf("Expected status %q, got %q", blackboard.StatusHaltedForHuman, status)
	}

	// The live relay saw a halt event.
	sawHalt := false
	deadline := time.After(5 * time.Second)
	for !sawHalt {
		select {
		case ev := <-sub.Events():
			if ev.Type == blackboard.EventTypeHalt {
				sawHalt = true
			}
		case err := <-sub.Errors():
			t.Fatalf("Subscription error: %v", err)
		case <-deadline:
			t.Fatal("Never observed halt event on live channel")
		}
	}

	events, err = eng.Resume(ctx, threadID, "approved by reviewer")
	if err != nil {
		t.Fatalf("Failed to resume run: %v", err)
	}
	for range events {
	}

	st, _, status, err := eng.State(ctx, threadID)
	if err != nil {
		t.Fatalf("Failed to read state: %v", err)
	}
	if status != blackboard.StatusCompleted {
		t.Fatalf("Expected status %q, got %q", blackboard.StatusCompleted, status)
	}
	if st.FinalProtocol == nil || *st.FinalProtocol != "approved by reviewer" {
		t.Fatalf("Final protocol not adopted from resume value: %+v", st.FinalProtocol)
	}

	replayed, err := client.ReplayEvents(ctx, threadID)
	if err != nil {
		t.Fatalf("Failed to replay events: %v", err)
	}
	if len(replayed) == 0 {
		t.Fatal("Audit stream is empty after a full run")
	}
}
