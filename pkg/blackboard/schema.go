package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Foundry instances to safely coexist on a single Redis
// server.
//
// Key pattern: foundry:{instance_name}:thread:{thread_id}:{entity}
// Channel pattern: foundry:{instance_name}:thread:{thread_id}:events

// StateKey returns the Redis key for a thread's checkpointed state hash.
// Pattern: foundry:{instance_name}:thread:{thread_id}:state
func StateKey(instanceName, threadID string) string {
	return fmt.Sprintf("foundry:%s:thread:%s:state", instanceName, threadID)
}

// SuspensionKey returns the Redis key for a thread's pending suspension
// marker. Pattern: foundry:{instance_name}:thread:{thread_id}:suspend
func SuspensionKey(instanceName, threadID string) string {
	return fmt.Sprintf("foundry:%s:thread:%s:suspend", instanceName, threadID)
}

// StatusKey returns the Redis key for a thread's run status.
// Pattern: foundry:{instance_name}:thread:{thread_id}:status
func StatusKey(instanceName, threadID string) string {
	return fmt.Sprintf("foundry:%s:thread:%s:status", instanceName, threadID)
}

// ApprovedDraftKey returns the Redis key where a human-edited draft is staged
// between approval and resume.
// Pattern: foundry:{instance_name}:thread:{thread_id}:approved_draft
func ApprovedDraftKey(instanceName, threadID string) string {
	return fmt.Sprintf("foundry:%s:thread:%s:approved_draft", instanceName, threadID)
}

// EventStreamKey returns the Redis Stream key holding a thread's append-only
// event audit trail.
// Pattern: foundry:{instance_name}:thread:{thread_id}:events
func EventStreamKey(instanceName, threadID string) string {
	return fmt.Sprintf("foundry:%s:thread:%s:events", instanceName, threadID)
}

// EventsChannel returns the Pub/Sub channel name for a thread's live event
// relay. Pattern: foundry:{instance_name}:thread:{thread_id}:event_channel
func EventsChannel(instanceName, threadID string) string {
	return fmt.Sprintf("foundry:%s:thread:%s:event_channel", instanceName, threadID)
}

// ThreadIndexKey returns the Redis ZSET key indexing all threads of an
// instance, scored by creation time in milliseconds.
// Pattern: foundry:{instance_name}:threads
func ThreadIndexKey(instanceName string) string {
	return fmt.Sprintf("foundry:%s:threads", instanceName)
}
