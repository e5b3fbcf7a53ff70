// Package workflow implements the workflow execution engine: graph
// validation, per-node input resolution, bounded concurrent scheduling,
// branch-skip propagation, live status tracking, and replay of finished runs.
package workflow

import "time"

// Status is the execution-level state machine.
//
// PENDING -> QUEUED -> RUNNING -> {COMPLETED, FAILED, CANCELLED}
type Status string

// Execution-level statuses (wire values).
const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// NodeStatus is the per-node state machine.
type NodeStatus string

// Node-level statuses (wire values).
const (
	NodePending NodeStatus = "PENDING"
	NodeRunning NodeStatus = "RUNNING"
	NodeSuccess NodeStatus = "SUCCESS"
	NodeFailed  NodeStatus = "FAILED"
	NodeSkipped NodeStatus = "SKIPPED"
)

// Terminal reports whether the node status is final.
func (s NodeStatus) Terminal() bool {
	return s == NodeSuccess || s == NodeFailed || s == NodeSkipped
}

// SkipReason records why a node reached SKIPPED.
type SkipReason string

const (
	// SkipBranchNotTaken marks nodes only reachable through an untaken branch.
	SkipBranchNotTaken SkipReason = "branch_not_taken"

	// SkipFailedAncestor marks nodes whose every live path runs through a
	// failed node. Retry-failed re-runs these.
	SkipFailedAncestor SkipReason = "failed_ancestor"

	// SkipCancelled marks nodes that had not started when the run was
	// cancelled or aborted.
	SkipCancelled SkipReason = "cancelled"
)

// WorkflowDefinition is the immutable snapshot of a saved graph used for one
// run. Edits to the live workflow never affect in-flight executions; the
// engine copies the definition into the ExecutionRecord at initiation.
type WorkflowDefinition struct {
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	Nodes    []NodeSpec `json:"nodes"`
	Edges    []Edge     `json:"edges"`
	Settings Settings   `json:"settings"`
}

// Settings holds per-workflow execution tuning.
type Settings struct {
	// MaxConcurrency bounds how many nodes may run at once. Zero means the
	// engine default.
	MaxConcurrency int `json:"maxConcurrency,omitempty"`
}

// NodeSpec describes one node of a workflow.
type NodeSpec struct {
	// ID is unique within the workflow.
	ID string `json:"id"`

	// Type selects the handler that executes this node.
	Type string `json:"type"`

	// Config is free-form configuration interpreted by the handler and by
	// input resolution.
	Config map[string]any `json:"config,omitempty"`

	// Inputs are statically declared inputs. Two legacy shapes are accepted:
	// an ordered list of {name, value} pairs or a name -> value mapping.
	Inputs any `json:"inputs,omitempty"`

	// Value is the legacy node-level value field, retained for backward
	// compatibility with old saved workflows.
	Value any `json:"value,omitempty"`

	// ContinueOnFail lets the run proceed past a failure of this node. The
	// node itself stays FAILED; its exclusive descendants are skipped.
	ContinueOnFail bool `json:"continueOnFail,omitempty"`

	// TimeoutMS overrides the engine's default per-node timeout.
	TimeoutMS int `json:"timeoutMs,omitempty"`

	// Credentials are opaque references forwarded to the handler.
	Credentials []string `json:"credentials,omitempty"`
}

// Edge is a directed connection between two nodes. SourceHandle discriminates
// among the outgoing branches of a conditional node ("true"/"false"); an
// empty handle matches any branch.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// ExecutionRecord is the record of one run of a workflow.
//
// It is owned exclusively by the coordinator for writes; readers only ever
// see committed copy-on-write snapshots published by the StatusTracker.
type ExecutionRecord struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`
	Status     Status `json:"status"`

	// Definition is the immutable workflow snapshot this run executes.
	Definition *WorkflowDefinition `json:"definition,omitempty"`

	StartTime time.Time     `json:"startTime,omitzero"`
	EndTime   time.Time     `json:"endTime,omitzero"`
	Duration  time.Duration `json:"duration,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`

	NodeExecutions []NodeExecutionRecord `json:"nodeExecutions"`

	// FinalResult is the output of the run's leaf SUCCESS nodes keyed by
	// node ID, unwrapped when there is exactly one.
	FinalResult any `json:"finalResult,omitempty"`

	// Errors collects the normalized errors of failed nodes plus any
	// system-level failure, in occurrence order.
	Errors []ExecutionError `json:"errors,omitempty"`
}

// NodeExecutionRecord is the per-node slice of an ExecutionRecord. At most
// one record exists per node ID per execution; once SUCCESS it is immutable
// and serves as the upstream output source for descendants.
type NodeExecutionRecord struct {
	NodeID   string     `json:"nodeId"`
	NodeType string     `json:"nodeType"`
	Status   NodeStatus `json:"status"`

	StartTime time.Time     `json:"startTime,omitzero"`
	EndTime   time.Time     `json:"endTime,omitzero"`
	Duration  time.Duration `json:"duration,omitempty"`

	// Inputs is the resolved input actually passed to the handler.
	Inputs any `json:"inputs,omitempty"`

	// Outputs is the handler's return value on success.
	Outputs any `json:"outputs,omitempty"`

	// Branch is the discriminator a conditional node emitted, preserved so a
	// replayed run re-applies the same branch liveness.
	Branch string `json:"branch,omitempty"`

	// SkipReason is set when Status is SKIPPED.
	SkipReason SkipReason `json:"skipReason,omitempty"`

	Error *ExecutionError `json:"error,omitempty"`
}

// ExecutionError is the normalized error shape surfaced to clients. Raw
// handler stack traces never appear here, only message and cause.
type ExecutionError struct {
	// NodeID is the failing node, empty for system-level failures.
	NodeID string `json:"nodeId,omitempty"`

	Message string `json:"message"`

	// Cause distinguishes failure classes: "handler", "timeout", "cancelled",
	// "system".
	Cause string `json:"cause"`
}

// Error causes for ExecutionError.Cause.
const (
	CauseHandler   = "handler"
	CauseTimeout   = "timeout"
	CauseCancelled = "cancelled"
	CauseSystem    = "system"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Fingerprint is the cheap read shape used by the polling protocol: enough
// to detect change without transferring the node execution list.
type Fingerprint struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogLine is one append-only per-node log entry, ordered by Seq.
type LogLine struct {
	Seq         int64     `json:"seq"`
	ExecutionID string    `json:"executionId"`
	NodeID      string    `json:"nodeId,omitempty"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	Time        time.Time `json:"time"`
}

// Clone produces a deep copy of the record suitable for copy-on-write
// mutation. Inputs/Outputs/FinalResult values are shared; they are treated
// as immutable once recorded.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.NodeExecutions = make([]NodeExecutionRecord, len(r.NodeExecutions))
	copy(cp.NodeExecutions, r.NodeExecutions)
	for i := range cp.NodeExecutions {
		if cp.NodeExecutions[i].Error != nil {
			errCopy := *cp.NodeExecutions[i].Error
			cp.NodeExecutions[i].Error = &errCopy
		}
	}
	cp.Errors = make([]ExecutionError, len(r.Errors))
	copy(cp.Errors, r.Errors)
	return &cp
}

// Node returns the node execution record for id, or nil.
func (r *ExecutionRecord) Node(id string) *NodeExecutionRecord {
	for i := range r.NodeExecutions {
		if r.NodeExecutions[i].NodeID == id {
			return &r.NodeExecutions[i]
		}
	}
	return nil
}

// Fingerprint returns the record's cheap read shape.
func (r *ExecutionRecord) Fingerprint() Fingerprint {
	return Fingerprint{ID: r.ID, Status: r.Status, UpdatedAt: r.UpdatedAt}
}
