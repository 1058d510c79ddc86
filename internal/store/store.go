package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nhle/jira-transitions/internal/model"
)

// Run describes one export run recorded in the database.
type Run struct {
	ID           string       `db:"id"`
	JQL          string       `db:"jql"`
	FirstStep    string       `db:"first_step"`
	StartedAt    time.Time    `db:"started_at"`
	FinishedAt   sql.NullTime `db:"finished_at"`
	IssueCount   int          `db:"issue_count"`
	RowCount     int          `db:"row_count"`
	SkippedCount int          `db:"skipped_count"`
}

// TransitionRow is the stored form of a model.Transition.
type TransitionRow struct {
	RunID           string         `db:"run_id"`
	IssueKey        string         `db:"issue_key"`
	Seq             int            `db:"seq"`
	FromStatus      sql.NullString `db:"from_status"`
	ToStatus        string         `db:"to_status"`
	TransitionedAt  string         `db:"transitioned_at"`
	DurationSeconds float64        `db:"duration_seconds"`
}

// Store defines the persistence interface for exported transitions.
type Store interface {
	// BeginExport starts run, replacing the transitions of any previous
	// run once committed.
	BeginExport(ctx context.Context, run Run) (Export, error)

	// Runs lists committed runs, newest first.
	Runs(ctx context.Context) ([]Run, error)

	// Transitions returns the stored rows of issueKey in sequence order.
	Transitions(ctx context.Context, issueKey string) ([]TransitionRow, error)

	Close() error
}

// Export is an open export transaction.
type Export interface {
	// Add stores one issue's transitions.
	Add(ctx context.Context, seq model.Sequence) error

	// Skip records that an issue was left out of the export.
	Skip()

	// Commit finalizes the run and makes its rows visible.
	Commit(ctx context.Context) error

	// Rollback discards the run.
	Rollback() error
}
