package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flowmatic/engine/workflow"
)

// MySQLStore is a MySQL implementation of workflow.Store, for deployments
// where several processes need to read execution state, or where the engine
// host is disposable.
//
// Layout mirrors SQLiteStore: whole records as JSON with the fingerprint
// columns denormalized for cheap polling.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects using a go-sql-driver DSN, e.g.
// "user:pass@tcp(localhost:3306)/flowmatic?parseTime=true", and runs the
// schema migration.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(191) NOT NULL PRIMARY KEY,
			definition JSON NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(191) NOT NULL PRIMARY KEY,
			workflow_id VARCHAR(191) NOT NULL,
			status VARCHAR(32) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			record JSON NOT NULL,
			INDEX idx_executions_workflow (workflow_id, updated_at)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			execution_id VARCHAR(191) NOT NULL,
			seq BIGINT NOT NULL,
			node_id VARCHAR(191) NOT NULL,
			level VARCHAR(16) NOT NULL,
			message TEXT NOT NULL,
			ts DATETIME(6) NOT NULL,
			PRIMARY KEY (execution_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// SaveWorkflow persists a definition, replacing any previous version.
func (s *MySQLStore) SaveWorkflow(ctx context.Context, def *workflow.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, definition, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE definition=VALUES(definition), updated_at=VALUES(updated_at)`,
		def.ID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// LoadWorkflow retrieves a definition by ID.
func (s *MySQLStore) LoadWorkflow(ctx context.Context, id string) (*workflow.WorkflowDefinition, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT definition FROM workflows WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	var def workflow.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &def, nil
}

// SaveExecution persists a full record snapshot, replacing any previous one.
func (s *MySQLStore) SaveExecution(ctx context.Context, rec *workflow.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, updated_at, record) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			workflow_id=VALUES(workflow_id),
			status=VALUES(status),
			updated_at=VALUES(updated_at),
			record=VALUES(record)`,
		rec.ID, rec.WorkflowID, string(rec.Status), rec.UpdatedAt.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// LoadExecution retrieves a full execution record by ID.
func (s *MySQLStore) LoadExecution(ctx context.Context, id string) (*workflow.ExecutionRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT record FROM executions WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	var rec workflow.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &rec, nil
}

// ExecutionFingerprint reads the denormalized status columns without
// touching the record JSON.
func (s *MySQLStore) ExecutionFingerprint(ctx context.Context, id string) (workflow.Fingerprint, error) {
	var fp workflow.Fingerprint
	var status string
	err := s.db.QueryRowContext(ctx, "SELECT id, status, updated_at FROM executions WHERE id = ?", id).
		Scan(&fp.ID, &status, &fp.UpdatedAt)
	if err == sql.ErrNoRows {
		return workflow.Fingerprint{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Fingerprint{}, fmt.Errorf("failed to load fingerprint: %w", err)
	}
	fp.Status = workflow.Status(status)
	return fp, nil
}

// ListExecutions returns fingerprints of a workflow's executions, most
// recently updated first.
func (s *MySQLStore) ListExecutions(ctx context.Context, workflowID string) ([]workflow.Fingerprint, error) {
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
		var status string
		if err := rows.Scan(&fp.ID, &status, &fp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fp.Status = workflow.Status(status)
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// AppendLogs appends lines to an execution's log stream in one transaction.
func (s *MySQLStore) AppendLogs(ctx context.Context, executionID string, lines []workflow.LogLine) error {
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
			executionID, line.Seq, line.NodeID, line.Level, line.Message, line.Time.UTC()); err != nil {
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
func (s *MySQLStore) Logs(ctx context.Context, executionID string, offset, limit int) ([]workflow.LogLine, int, error) {
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
		if err := rows.Scan(&line.Seq, &line.NodeID, &line.Level, &line.Message, &line.Time); err != nil {
			return nil, 0, fmt.Errorf("failed to scan log line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, total, rows.Err()
}
