package workflow

import "context"

// Store persists workflow definitions, execution records, and log lines.
//
// The engine treats the store as an external collaborator: the in-memory
// implementation backs tests and single-process deployments, the SQLite and
// MySQL implementations back durable ones. Implementations must be safe for
// concurrent use.
type Store interface {
	// SaveWorkflow persists a workflow definition, overwriting any previous
	// version under the same ID.
	SaveWorkflow(ctx context.Context, def *WorkflowDefinition) error

	// LoadWorkflow retrieves a definition. Returns ErrNotFound for unknown IDs.
	LoadWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error)

	// SaveExecution persists a full execution record snapshot. Called on
	// every committed status transition; implementations overwrite by ID.
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error

	// LoadExecution retrieves a full execution record. Returns ErrNotFound
	// for unknown IDs.
	LoadExecution(ctx context.Context, id string) (*ExecutionRecord, error)

	// ExecutionFingerprint retrieves only (id, status, updatedAt), without
	// materializing the node execution list. This is the cheap read behind
	// the status polling endpoint.
	ExecutionFingerprint(ctx context.Context, id string) (Fingerprint, error)

	// ListExecutions returns the fingerprints of all executions of a
	// workflow, most recently updated first.
	ListExecutions(ctx context.Context, workflowID string) ([]Fingerprint, error)

	// AppendLogs appends log lines to an execution's append-only log stream.
	AppendLogs(ctx context.Context, executionID string, lines []LogLine) error

	// Logs returns one page of an execution's log lines ordered by sequence
	// number, plus the total line count.
	Logs(ctx context.Context, executionID string, offset, limit int) ([]LogLine, int, error)
}
