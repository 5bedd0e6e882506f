package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register the "sqlite" driver
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// OpenStore opens the database at path and applies migrations.
func OpenStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	s := NewSQLiteStore(logger)
	if err := s.Open(path); err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a connection to the SQLite database, creating its directory.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := ":memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.logger.Debug("opened state store", "path", path)
	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HashSQL returns a short content hash of a compiled statement.
func HashSQL(sqlText string) string {
	h := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(h[:8])
}

// CreateRun starts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, trigger Trigger, commit string, dryRun bool) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if trigger == "" {
		trigger = TriggerManual
	}

	run := &Run{
		ID:         uuid.New().String(),
		Trigger:    trigger,
		CommitHash: commit,
		DryRun:     dryRun,
		Status:     RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("trigger", string(trigger)))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, "trigger", commit_hash, dry_run, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trigger, run.CommitHash, boolInt(dryRun), run.Status, run.StartedAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// RecordView stores the outcome of one view, replacing an earlier record for
// the same run and view.
func (s *SQLiteStore) RecordView(ctx context.Context, v ViewDeployment) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO view_deployments (run_id, "view", identifier, status, sql_hash, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.RunID, v.View, v.Identifier, v.Status, v.SQLHash, v.Duration.Milliseconds(), nullString(v.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record view %s: %w", v.View, err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC().Format(timeFormat), nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun returns a run with its view deployments.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, "trigger", commit_hash, dry_run, status, started_at, completed_at, error FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, "view", identifier, status, sql_hash, duration_ms, error
		 FROM view_deployments WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get view deployments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v ViewDeployment
		var ms int64
		var errMsg sql.NullString
		if err := rows.Scan(&v.RunID, &v.View, &v.Identifier, &v.Status, &v.SQLHash, &ms, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan view deployment: %w", err)
		}
		v.Duration = time.Duration(ms) * time.Millisecond
		v.Error = errMsg.String
		run.Views = append(run.Views, v)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, "trigger", commit_hash, dry_run, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var dryRun int
	var startedAt string
	var completedAt, errMsg sql.NullString
	if err := row.Scan(&run.ID, &run.Trigger, &run.CommitHash, &dryRun, &run.Status,
		&startedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	run.StartedAt = t
	if completedAt.Valid {
		t, err := time.Parse(timeFormat, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid completed_at %q: %w", completedAt.String, err)
		}
		run.CompletedAt = &t
	}
	run.DryRun = dryRun != 0
	run.Error = errMsg.String
	return run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
