package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowmatic/engine/workflow"
	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width RFC3339 variant so lexicographic ordering of
// the updated_at column matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is a SQLite implementation of workflow.Store.
//
// It keeps definitions, execution records, and log streams in a single-file
// database. Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments needing durable executions
//
// Execution records are stored whole as JSON, with the fingerprint columns
// (workflow_id, status, updated_at) denormalized so status polling and
// listing never deserialize the node execution list.
//
// WAL mode is enabled so status reads don't block the engine's writes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs the
// schema migration. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	workflows := `
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT NOT NULL PRIMARY KEY,
			definition TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, workflows); err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}

	executions := `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT NOT NULL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			record TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, executions); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, updated_at)"); err != nil {
		return fmt.Errorf("failed to create idx_executions_workflow: %w", err)
	}

	logs := `
		CREATE TABLE IF NOT EXISTS execution_logs (
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			ts TEXT NOT NULL,
			PRIMARY KEY (execution_id, seq)
		)
	`
	if _, err := s.db.ExecContext(ctx, logs); err != nil {
		return fmt.Errorf("failed to create execution_logs table: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveWorkflow persists a definition, replacing any previous version.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, def *workflow.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, definition, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET definition=excluded.definition, updated_at=excluded.updated_at`,
		def.ID, string(data), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// LoadWorkflow retrieves a definition by ID.
func (s *SQLiteStore) LoadWorkflow(ctx context.Context, id string) (*workflow.WorkflowDefinition, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT definition FROM workflows WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	var def workflow.WorkflowDefinition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &def, nil
}

// SaveExecution persists a full record snapshot, replacing any previous one.
func (s *SQLiteStore) SaveExecution(ctx context.Context, rec *workflow.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, updated_at, record) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id=excluded.workflow_id,
			status=excluded.status,
			updated_at=excluded.updated_at,
			record=excluded.record`,
		rec.ID, rec.WorkflowID, string(rec.Status),
		rec.UpdatedAt.UTC().Format(timeLayout), string(data))
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// LoadExecution retrieves a full execution record by ID.
func (s *SQLiteStore) LoadExecution(ctx context.Context, id string) (*workflow.ExecutionRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM executions WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	var rec workflow.ExecutionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &rec, nil
}

// ExecutionFingerprint reads the denormalized status columns without
// touching the record JSON.
func (s *SQLiteStore) ExecutionFingerprint(ctx context.Context, id string) (workflow.Fingerprint, error) {
	var fp workflow.Fingerprint
	var status, updated string
	err := s.db.QueryRowContext(ctx, "SELECT id, status, updated_at FROM executions WHERE id = ?", id).
		Scan(&fp.ID, &status, &updated)
	if err == sql.ErrNoRows {
		return workflow.Fingerprint{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Fingerprint{}, fmt.Errorf("failed to load fingerprint: %w", err)
	}
	fp.Status = workflow.Status(status)
	fp.UpdatedAt, err = time.Parse(timeLayout, updated)
	if err != nil {
		return workflow.Fingerprint{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return fp, nil
}

// ListExecutions returns fingerprints of a workflow's executions, most
// recently updated first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, workflowID string) ([]workflow.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, status, updated_at FROM executions WHERE workflow_id = ? ORDER BY updated_at DESC, id",
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var fps []workflow.Fingerprint
	for rows.Next() {
		var fp workflow.Fingerprint
		var status, updated string
		if err := rows.Scan(&fp.ID, &status, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fp.Status = workflow.Status(status)
		if fp.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// AppendLogs appends lines to an execution's log stream in one transaction.
func (s *SQLiteStore) AppendLogs(ctx context.Context, executionID string, lines []workflow.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_logs (execution_id, seq, node_id, level, message, ts)
			VALUES (?, ?, ?, ?, ?, ?)`,
			executionID, line.Seq, line.NodeID, line.Level, line.Message,
			line.Time.UTC().Format(timeLayout)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to append log line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit logs: %w", err)
	}
	return nil
}

// Logs returns one page of an execution's log stream ordered by sequence
// number, plus the total line count.
func (s *SQLiteStore) Logs(ctx context.Context, executionID string, offset, limit int) ([]workflow.LogLine, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM execution_logs WHERE execution_id = ?", executionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = total
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, node_id, level, message, ts FROM execution_logs
		WHERE execution_id = ? ORDER BY seq LIMIT ? OFFSET ?`,
		executionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var lines []workflow.LogLine
	for rows.Next() {
		line := workflow.LogLine{ExecutionID: executionID}
		var ts string
		if err := rows.Scan(&line.Seq, &line.NodeID, &line.Level, &line.Message, &ts); err != nil {
			return nil, 0, fmt.Errorf("failed to scan log line: %w", err)
		}
		if line.Time, err = time.Parse(timeLayout, ts); err != nil {
			return nil, 0, fmt.Errorf("failed to parse log timestamp: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, total, rows.Err()
}
