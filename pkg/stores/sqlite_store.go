package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/txn"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore persists run history in SQLite and implements
// engine.RunRecorder.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path string
}

// NewSQLiteStore creates a store instance; Init must be called before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("stores: database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database in WAL mode and runs pending migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("stores: open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("stores: ping database: %w", err)
	}

	// Connection-level setting, the DSN form alone is not enough for
	// every pooled connection.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("stores: enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("stores: migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("stores: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("stores: migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("stores: run migrations: %w", err)
	}
	return nil
}

// RecordRunStart persists a newly started run.
func (s *SQLiteStore) RecordRunStart(ctx context.Context, run *engine.Run) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, deployment, environment, status, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Deployment, run.Environment, run.Status, run.StartedAt.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("stores: record run start: %w", err)
	}
	return nil
}

// RecordStepResult appends one step outcome to a run.
func (s *SQLiteStore) RecordStepResult(ctx context.Context, runID string, result engine.StepResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_results (run_id, seq, step_id, status, resource_id, attempts, error, started_at, duration_ns)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM step_results WHERE run_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		runID, runID,
		result.StepID, result.Status, result.ResourceID, result.Attempts,
		result.Error, result.StartedAt.UTC(), int64(result.Duration),
	)
	if err != nil {
		return fmt.Errorf("stores: record step result: %w", err)
	}
	return nil
}

// RecordRunEnd persists the run's terminal state and any rollback actions.
func (s *SQLiteStore) RecordRunEnd(ctx context.Context, run *engine.Run) error {
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		run.Status, completedAt, run.Error, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return fmt.Errorf("stores: record run end: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("stores: record run end: %w", ErrRunNotFound)
	}

	if run.Rollback != nil {
		if err := s.insertRollback(ctx, run.ID, run.Rollback); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) insertRollback(ctx context.Context, runID string, report *txn.RollbackReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stores: begin rollback insert: %w", err)
	}
	defer tx.Rollback()

	seq := 0
	insert := func(result txn.CleanupResult) error {
		seq++
		var errMsg any
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rollback_actions (run_id, seq, resource, error)
			VALUES (?, ?, ?, ?)`,
			runID, seq, result.Label, errMsg,
		)
		return err
	}

	for _, result := range report.Cleaned {
		if err := insert(result); err != nil {
			return fmt.Errorf("stores: record rollback action: %w", err)
		}
	}
	for _, result := range report.Failed {
		if err := insert(result); err != nil {
			return fmt.Errorf("stores: record rollback action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stores: commit rollback insert: %w", err)
	}
	return nil
}

// GetRun loads one run with its step results.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, deployment, environment, status, started_at, completed_at, error
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stores: %w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("stores: get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, status, resource_id, attempts, error, started_at, duration_ns
		FROM step_results WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("stores: get step results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result engine.StepResult
		var resourceID, errMsg sql.NullString
		var durationNS int64
		if err := rows.Scan(&result.StepID, &result.Status, &resourceID, &result.Attempts, &errMsg, &result.StartedAt, &durationNS); err != nil {
			return nil, fmt.Errorf("stores: scan step result: %w", err)
		}
		result.ResourceID = resourceID.String
		result.Error = errMsg.String
		result.Duration = time.Duration(durationNS)
		run.Results = append(run.Results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stores: iterate step results: %w", err)
	}
	return run, nil
}

// ListRuns returns runs ordered newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deployment, environment, status, started_at, completed_at, error
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("stores: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("stores: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stores: iterate runs: %w", err)
	}
	return runs, nil
}

// RollbackActions returns the recorded rollback actions for a run in
// execution order, with the failure message when the cleanup failed.
func (s *SQLiteStore) RollbackActions(ctx context.Context, runID string) ([]RollbackAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource, error FROM rollback_actions
		WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("stores: list rollback actions: %w", err)
	}
	defer rows.Close()

	var actions []RollbackAction
	for rows.Next() {
		var action RollbackAction
		var errMsg sql.NullString
		if err := rows.Scan(&action.Resource, &errMsg); err != nil {
			return nil, fmt.Errorf("stores: scan rollback action: %w", err)
		}
		action.Error = errMsg.String
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stores: iterate rollback actions: %w", err)
	}
	return actions, nil
}

// RollbackAction is one recorded cleanup, as persisted.
type RollbackAction struct {
	Resource string `json:"resource"`
	Error    string `json:"error,omitempty"`
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("stores: database not initialized")
	}
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	var run engine.Run
	var completedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&run.ID, &run.Deployment, &run.Environment, &run.Status, &run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}
