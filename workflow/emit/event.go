// Package emit provides the observability event stream for workflow
// executions. Every state transition the engine makes (execution started,
// node dispatched, node finished, node skipped, execution finished) is
// emitted as an Event to a pluggable Emitter.
package emit

// Event is one observability event from an execution.
type Event struct {
	// ExecutionID identifies the execution that emitted this event.
	ExecutionID string

	// NodeID identifies the node the event concerns. Empty for
	// execution-level events (started, completed, cancelled).
	NodeID string

	// Msg is the event name, e.g. "execution_started", "node_dispatched",
	// "node_completed", "node_skipped", "execution_finished".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "status": node or execution status after the transition
	//   - "duration_ms": node execution duration
	//   - "error": normalized error message
	//   - "branch": branch discriminator emitted by a conditional node
	//   - "skip_reason": why a node was skipped
	Meta map[string]any
}
