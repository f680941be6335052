// Package blackboard provides type-safe Go definitions and Redis schema
// patterns for the Foundry blackboard: the single shared state record that
// every workflow node reads and partially updates. The blackboard is also the
// unit of durability - after every node execution the merged state is
// checkpointed to Redis keyed by thread id, so a crash loses at most the
// in-flight node's work.
//
// All Redis keys and channels are namespaced by instance name to enable
// multiple Foundry instances to safely coexist on a single Redis server.
//
// The package exposes four concerns:
//
//   - State and Update: the fixed, strongly-typed state record and the
//     partial-update type each node returns, merged by the Apply reducer.
//   - Serialization: State <-> Redis hash conversion helpers.
//   - Client: instance-scoped Redis operations for checkpoints, suspension
//     markers, run status, and the per-thread event stream.
//   - Event: the closed tagged set of observable events (agent_event, state,
//     halt) delivered in strict production order, both as a durable audit
//     trail (Redis stream) and as a live relay (Pub/Sub).
package blackboard
