package commands

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerina/foundry/pkg/blackboard"
)

// TestStreamWatchedEvents_ClosedChannels tests that the watch loop exits
// cleanly when the subscription shuts down and closes both channels, instead
// of treating a zero-value receive as a fatal error.
func TestStreamWatchedEvents_ClosedChannels(t *testing.T) {
	events := make(chan *blackboard.Event)
	errs := make(chan error)
	close(events)
	close(errs)

	done := make(chan error, 1)
	go func() {
		done <- streamWatchedEvents(context.Background(), events, errs, "json", new(bytes.Buffer))
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not exit after channels closed")
	}
}

// TestStreamWatchedEvents_DecodeErrorIsNonFatal tests that a malformed
// event reported on the errors channel does not stop the stream; events
// arriving afterwards are still rendered.
func TestStreamWatchedEvents_DecodeErrorIsNonFatal(t *testing.T) {
	events := make(chan *blackboard.Event, 1)
	errs := make(chan error, 1)
	out := new(bytes.Buffer)

	errs <- errors.New("failed to unmarshal event")
	events <- &blackboard.Event{
		Type:  blackboard.EventTypeState,
		State: &blackboard.State{Intent: "reduce exam anxiety"},
	}

	done := make(chan error, 1)
	go func() {
		done <- streamWatchedEvents(context.Background(), events, errs, "json", out)
	}()

	// Let the loop drain both buffered sends, then close to end it.
	require.Eventually(t, func() bool {
		return len(events) == 0 && len(errs) == 0
	}, 2*time.Second, 10*time.Millisecond)
	close(events)
	close(errs)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not exit after channels closed")
	}

	assert.Contains(t, out.String(), "reduce exam anxiety")
}

// TestStreamWatchedEvents_ContextCancel tests that cancelling the context
// stops the loop even while both channels stay open.
func TestStreamWatchedEvents_ContextCancel(t *testing.T) {
	events := make(chan *blackboard.Event)
	errs := make(chan error)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- streamWatchedEvents(ctx, events, errs, "default", new(bytes.Buffer))
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not exit after context cancel")
	}
}
