package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/testnetbot/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the API read while a run is writing events.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		command TEXT NOT NULL,
		account TEXT,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT,
		attempts INTEGER DEFAULT 0,
		error_message TEXT,
		detail TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunSummary) error {
	status := run.Status
	if status == "" {
		status = types.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, command, status, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, string(run.Command), string(status), run.StartedAt.UTC())
	return err
}

// CompleteRun stores the final status and counters of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *types.RunSummary) error {
	completed := time.Now().UTC()
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			completed_at = ?,
			succeeded = ?,
			failed = ?,
			error_message = ?
		WHERE id = ?
	`, string(run.Status), completed, run.Succeeded, run.Failed, nullString(run.Error), run.ID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

const runColumns = `id, command, status, started_at, completed_at, COALESCE(succeeded, 0), COALESCE(failed, 0), error_message`

// GetRun returns a run with its events, or nil when it does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunDetail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	events, err := s.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.RunDetail{RunSummary: *run, Events: events}, nil
}

// ListRuns returns a page of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*types.PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &types.PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// InsertEvent appends a step event to its run.
func (s *SQLiteStorage) InsertEvent(ctx context.Context, e *types.Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, command, account, step, status, tx_hash, attempts, error_message, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, string(e.Command), nullString(e.Account), e.Step, string(e.Status),
		nullString(e.TxHash), e.Attempts, nullString(e.Error), nullString(e.Detail), ts.UTC())
	return err
}

// ListEvents returns a run's events in insertion order.
func (s *SQLiteStorage) ListEvents(ctx context.Context, runID string) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, command, account, step, status, tx_hash, COALESCE(attempts, 0), error_message, detail, created_at
		FROM events
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		var (
			e                               types.Event
			command, status                 string
			account, txHash, errMsg, detail sql.NullString
		)
		if err := rows.Scan(&e.RunID, &command, &account, &e.Step, &status, &txHash,
			&e.Attempts, &errMsg, &detail, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Command = types.Command(command)
		e.Status = types.EventStatus(status)
		e.Account = account.String
		e.TxHash = txHash.String
		e.Error = errMsg.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.RunSummary, error) {
	var (
		run             types.RunSummary
		command, status string
		completedAt     sql.NullTime
		errMsg          sql.NullString
	)
	if err := row.Scan(&run.ID, &command, &status, &run.StartedAt, &completedAt,
		&run.Succeeded, &run.Failed, &errMsg); err != nil {
		return nil, err
	}
	run.Command = types.Command(command)
	run.Status = types.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
