package store

import (
	"context"
	"sort"
	"sync"

	"github.com/flowmatic/engine/workflow"
)

// MemStore is an in-memory implementation of workflow.Store.
//
// It keeps definitions, execution records, and log streams in maps.
// Designed for:
//   - Testing and development
//   - Single-process deployments where persistence isn't required
//
// MemStore is thread-safe. Data is lost when the process terminates; for
// durable deployments use SQLiteStore or MySQLStore.
type MemStore struct {
	mu         sync.RWMutex
	workflows  map[string]*workflow.WorkflowDefinition
	executions map[string]*workflow.ExecutionRecord
	logs       map[string][]workflow.LogLine
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows:  make(map[string]*workflow.WorkflowDefinition),
		executions: make(map[string]*workflow.ExecutionRecord),
		logs:       make(map[string][]workflow.LogLine),
	}
}

// SaveWorkflow stores a definition, replacing any previous version.
func (m *MemStore) SaveWorkflow(_ context.Context, def *workflow.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[def.ID] = def
	return nil
}

// LoadWorkflow retrieves a definition by ID.
func (m *MemStore) LoadWorkflow(_ context.Context, id string) (*workflow.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.workflows[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return def, nil
}

// SaveExecution stores a record snapshot, replacing any previous one.
func (m *MemStore) SaveExecution(_ context.Context, rec *workflow.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[rec.ID] = rec.Clone()
	return nil
}

// LoadExecution retrieves a full execution record by ID.
func (m *MemStore) LoadExecution(_ context.Context, id string) (*workflow.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return rec.Clone(), nil
}

// ExecutionFingerprint retrieves the cheap status triple for an execution.
func (m *MemStore) ExecutionFingerprint(_ context.Context, id string) (workflow.Fingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[id]
	if !ok {
		return workflow.Fingerprint{}, workflow.ErrNotFound
	}
	return rec.Fingerprint(), nil
}

// ListExecutions returns fingerprints of a workflow's executions, most
// recently updated first.
func (m *MemStore) ListExecutions(_ context.Context, workflowID string) ([]workflow.Fingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var fps []workflow.Fingerprint
	for _, rec := range m.executions {
		if rec.WorkflowID == workflowID {
			fps = append(fps, rec.Fingerprint())
		}
	}
	sort.Slice(fps, func(i, j int) bool {
		if !fps[i].UpdatedAt.Equal(fps[j].UpdatedAt) {
			return fps[i].UpdatedAt.After(fps[j].UpdatedAt)
		}
		return fps[i].ID < fps[j].ID
	})
	return fps, nil
}

// AppendLogs appends lines to an execution's log stream.
func (m *MemStore) AppendLogs(_ context.Context, executionID string, lines []workflow.LogLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[executionID] = append(m.logs[executionID], lines...)
	return nil
}

// Logs returns one page of an execution's log stream plus the total count.
func (m *MemStore) Logs(_ context.Context, executionID string, offset, limit int) ([]workflow.LogLine, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.logs[executionID]
	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]workflow.LogLine, end-offset)
	copy(page, all[offset:end])
	return page, total, nil
}
