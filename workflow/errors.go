package workflow

import "errors"

// ErrNotFound is returned when a workflow, execution, or log page references
// an unknown identifier.
var ErrNotFound = errors.New("not found")

// ErrNothingToRetry is returned by RetryFailed when no node in the execution
// is FAILED or skipped because of a failed ancestor.
var ErrNothingToRetry = errors.New("nothing to retry")

// ValidationKind classifies graph validation failures.
type ValidationKind string

// Validation failure kinds.
const (
	// ValidationCycle: the edge set contains a directed cycle.
	ValidationCycle ValidationKind = "CYCLE"

	// ValidationDanglingEdge: an edge endpoint references a missing node.
	ValidationDanglingEdge ValidationKind = "DANGLING_EDGE"

	// ValidationDuplicateNode: two nodes share an ID.
	ValidationDuplicateNode ValidationKind = "DUPLICATE_NODE"

	// ValidationMalformed: a node spec is structurally invalid.
	ValidationMalformed ValidationKind = "MALFORMED"
)

// ValidationError is fatal before scheduling starts; a run that fails
// validation never reaches RUNNING.
type ValidationError struct {
	Kind    ValidationKind
	Message string

	// NodeID names the offending node when one can be identified.
	NodeID string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return string(e.Kind) + ": " + e.Message + " (node " + e.NodeID + ")"
	}
	return string(e.Kind) + ": " + e.Message
}

// SystemError wraps a persistence or transport failure hit while committing
// a status transition. It surfaces as a run-level FAILED with a system cause,
// distinct from node-level failures.
type SystemError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *SystemError) Error() string {
	return "system: " + e.Op + ": " + e.Err.Error()
}

// Unwrap supports errors.Is/As.
func (e *SystemError) Unwrap() error { return e.Err }

// StateError reports an operation applied to an execution in the wrong
// state, e.g. starting an already-running execution.
type StateError struct {
	ExecutionID string
	Status      Status
	Message     string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return "execution " + e.ExecutionID + " (" + string(e.Status) + "): " + e.Message
}
