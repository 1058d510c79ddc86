package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/jira-transitions/internal/model"
)

// timestampLayout is how transition times are stored; it sorts
// lexically in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables foreign keys, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases and the export
	// transaction on the same handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// BeginExport opens a transaction, clears the transitions of earlier runs
// and records run.
func (s *SQLiteStore) BeginExport(ctx context.Context, run Run) (Export, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM transitions"); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("clearing transitions: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO export_runs (id, jql, first_step, started_at)
		VALUES (:id, :jql, :first_step, :started_at)`,
		run,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("recording run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO transitions (
			run_id, issue_key, seq, from_status,
			to_status, transitioned_at, duration_seconds
		) VALUES (
			:run_id, :issue_key, :seq, :from_status,
			:to_status, :transitioned_at, :duration_seconds
		)`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}

	return &sqliteExport{tx: tx, stmt: stmt, run: run}, nil
}

// Runs lists committed runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, jql, first_step, started_at, finished_at,
			issue_count, row_count, skipped_count
		FROM export_runs
		ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Transitions returns the stored rows of issueKey in sequence order.
func (s *SQLiteStore) Transitions(ctx context.Context, issueKey string) ([]TransitionRow, error) {
	var rows []TransitionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, issue_key, seq, from_status, to_status,
			transitioned_at, duration_seconds
		FROM transitions
		WHERE issue_key = ?
		ORDER BY seq`, issueKey)
	if err != nil {
		return nil, fmt.Errorf("loading transitions for %s: %w", issueKey, err)
	}
	return rows, nil
}

// sqliteExport is an Export backed by a single SQLite transaction.
type sqliteExport struct {
	tx   *sqlx.Tx
	stmt *sqlx.NamedStmt
	run  Run
	done bool
}

func (e *sqliteExport) Add(ctx context.Context, seq model.Sequence) error {
	for _, t := range seq.Transitions {
		row := TransitionRow{
			RunID:           e.run.ID,
			IssueKey:        t.IssueKey,
			Seq:             t.Index,
			FromStatus:      sql.NullString{String: t.From, Valid: !t.IsStart()},
			ToStatus:        t.To,
			TransitionedAt:  t.At.UTC().Format(timestampLayout),
			DurationSeconds: t.Duration.Seconds(),
		}
		if _, err := e.stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("inserting transition %s#%d: %w", t.IssueKey, t.Index, err)
		}
		e.run.RowCount++
	}
	e.run.IssueCount++
	return nil
}

func (e *sqliteExport) Skip() {
	e.run.SkippedCount++
}

func (e *sqliteExport) Commit(ctx context.Context) error {
	if e.done {
		return nil
	}
	e.done = true
	defer e.stmt.Close()

	e.run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	_, err := e.tx.NamedExecContext(ctx, `
		UPDATE export_runs
		SET finished_at = :finished_at,
			issue_count = :issue_count,
			row_count = :row_count,
			skipped_count = :skipped_count
		WHERE id = :id`,
		e.run,
	)
	if err != nil {
		e.tx.Rollback()
		return fmt.Errorf("finishing run %s: %w", e.run.ID, err)
	}

	if err := e.tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", e.run.ID, err)
	}
	return nil
}

func (e *sqliteExport) Rollback() error {
	if e.done {
		return nil
	}
	e.done = true
	e.stmt.Close()
	return e.tx.Rollback()
}
