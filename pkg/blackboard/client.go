package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple
// goroutines, but note that the engine serializes work per thread id.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
// The client automatically namespaces all keys and channels with the
// instance name.
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the instance this client is scoped to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// SaveState checkpoints a thread's blackboard state to Redis. The state is
// validated and written as a full hash replacement. A failed save must be
// treated as fatal for the in-flight step: the engine must not continue past
// an unpersisted state.
func (c *Client) SaveState(ctx context.Context, threadID string, state *State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}

	hash, err := StateToHash(state)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	key := StateKey(c.instanceName, threadID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write state to Redis: %w", err)
	}

	return nil
}

// LoadState retrieves the last checkpointed state for a thread.
// Returns (nil, redis.Nil) if no checkpoint exists. Use IsNotFound() to
// check for not-found errors.
func (c *Client) LoadState(ctx context.Context, threadID string) (*State, error) {
	key := StateKey(c.instanceName, threadID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys.
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	state, err := HashToState(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize state: %w", err)
	}

	return state, nil
}

// ThreadExists checks if a thread has any checkpointed state without
// fetching it.
func (c *Client) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	key := StateKey(c.instanceName, threadID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check thread existence: %w", err)
	}
	return exists > 0, nil
}

// MarkSuspended durably records that a thread is suspended with a specific
// request payload. The marker survives process restarts; a later resume call
// claims it via TakeSuspension.
func (c *Client) MarkSuspended(ctx context.Context, threadID string, susp *Suspension) error {
	if err := susp.Validate(); err != nil {
		return fmt.Errorf("invalid suspension: %w", err)
	}

	payload, err := json.Marshal(susp)
	if err != nil {
		return fmt.Errorf("failed to marshal suspension: %w", err)
	}

	key := SuspensionKey(c.instanceName, threadID)
	if err := c.rdb.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to write suspension marker: %w", err)
	}

	return nil
}

// PendingSuspension returns the thread's pending suspension payload, or
// (nil, redis.Nil) if the thread is not suspended.
func (c *Client) PendingSuspension(ctx context.Context, threadID string) (*Suspension, error) {
	key := SuspensionKey(c.instanceName, threadID)

	payload, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read suspension marker: %w", err)
	}

	var susp Suspension
	if err := json.Unmarshal([]byte(payload), &susp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suspension: %w", err)
	}

	return &susp, nil
}

// TakeSuspension atomically claims and removes the thread's pending
// suspension marker. Returns (nil, redis.Nil) if none is pending. The
// atomic claim is what makes a second concurrent resume fail cleanly instead
// of running twice.
func (c *Client) TakeSuspension(ctx context.Context, threadID string) (*Suspension, error) {
	key := SuspensionKey(c.instanceName, threadID)

	payload, err := c.rdb.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to claim suspension marker: %w", err)
	}

	var susp Suspension
	if err := json.Unmarshal([]byte(payload), &susp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suspension: %w", err)
	}

	return &susp, nil
}

// SetStatus records a thread's run status.
func (c *Client) SetStatus(ctx context.Context, threadID string, status Status) error {
	if err := status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	key := StatusKey(c.instanceName, threadID)
	if err := c.rdb.Set(ctx, key, string(status), 0).Err(); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}

	return nil
}

// GetStatus returns a thread's run status.
// Returns ("", redis.Nil) if the thread has no recorded status.
func (c *Client) GetStatus(ctx context.Context, threadID string) (Status, error) {
	key := StatusKey(c.instanceName, threadID)

	value, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to read status: %w", err)
	}

	return Status(value), nil
}

// StageApprovedDraft stores a human-edited draft for a suspended thread so a
// later resume can pick it up. Overwrites a previously staged draft.
func (c *Client) StageApprovedDraft(ctx context.Context, threadID, draft string) error {
	key := ApprovedDraftKey(c.instanceName, threadID)
	if err := c.rdb.Set(ctx, key, draft, 0).Err(); err != nil {
		return fmt.Errorf("failed to stage approved draft: %w", err)
	}
	return nil
}

// TakeApprovedDraft atomically claims and removes the staged human draft.
// Returns ("", redis.Nil) if nothing was staged.
func (c *Client) TakeApprovedDraft(ctx context.Context, threadID string) (string, error) {
	key := ApprovedDraftKey(c.instanceName, threadID)

	draft, err := c.rdb.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to claim approved draft: %w", err)
	}

	return draft, nil
}

// RegisterThread adds a thread to the instance's thread index, scored by
// creation time. Idempotent.
func (c *Client) RegisterThread(ctx context.Context, threadID string, createdAt time.Time) error {
	key := ThreadIndexKey(c.instanceName)

	z := redis.Z{
		Score:  float64(createdAt.UnixMilli()),
		Member: threadID,
	}

	if err := c.rdb.ZAdd(ctx, key, z).Err(); err != nil {
		return fmt.Errorf("failed to register thread: %w", err)
	}

	return nil
}

// ListThreads returns all thread ids of this instance, newest first.
func (c *Client) ListThreads(ctx context.Context) ([]string, error) {
	key := ThreadIndexKey(c.instanceName)

	ids, err := c.rdb.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	return ids, nil
}

// AppendEvent appends an event to the thread's durable audit stream and then
// publishes it to the live relay channel. Stream entries give at-least-once
// replay; Pub/Sub gives real-time observation. Both preserve production
// order because the engine appends from a single goroutine per thread.
func (c *Client) AppendEvent(ctx context.Context, threadID string, event *Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streamKey := EventStreamKey(c.instanceName, threadID)
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"event": string(eventJSON)},
	}).Err(); err != nil {
		return fmt.Errorf("failed to append event to stream: %w", err)
	}

	channel := EventsChannel(c.instanceName, threadID)
	if err := c.rdb.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// ReplayEvents returns the full audit trail of a thread in production order.
// Returns an empty slice for unknown threads (not an error).
func (c *Client) ReplayEvents(ctx context.Context, threadID string) ([]*Event, error) {
	streamKey := EventStreamKey(c.instanceName, threadID)

	messages, err := c.rdb.XRange(ctx, streamKey, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}

	events := make([]*Event, 0, len(messages))
	for _, msg := range messages {
		payload, ok := msg.Values["event"].(string)
		if !ok {
			return nil, fmt.Errorf("malformed stream entry %s: missing event field", msg.ID)
		}

		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", msg.ID, err)
		}

		events = append(events, &event)
	}

	return events, nil
}

// Subscription represents an active Pub/Sub subscription to a thread's live
// event relay. Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of events. The channel will be closed when the
// subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors. Errors include JSON
// unmarshaling failures and other non-fatal issues. The subscription
// continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to a thread's live event relay.
// Returns a Subscription that delivers full event objects.
// Caller must call subscription.Close() when done. Context cancellation
// also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery); use ReplayEvents for the durable trail.
func (c *Client) SubscribeEvents(ctx context.Context, threadID string) (*Subscription, error) {
	channel := EventsChannel(c.instanceName, threadID)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *Event, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if LoadState, PendingSuspension, or
// GetStatus returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
