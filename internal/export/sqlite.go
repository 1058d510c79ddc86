package export

import (
	"context"
	"fmt"

	"github.com/nhle/jira-transitions/internal/model"
	"github.com/nhle/jira-transitions/internal/store"
)

// SQLiteSink mirrors the exported rows into a SQLite database, replacing
// the rows of any previous run when committed.
type SQLiteSink struct {
	store  *store.SQLiteStore
	export store.Export
	closed bool
}

// OpenSQLite opens (or creates) the database at path and begins run.
func OpenSQLite(ctx context.Context, path string, run store.Run) (*SQLiteSink, error) {
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	exp, err := s.BeginExport(ctx, run)
	if err != nil {
		s.Close()
		return nil, err
	}

	return &SQLiteSink{store: s, export: exp}, nil
}

// Write stores the transitions of seq.
func (s *SQLiteSink) Write(ctx context.Context, seq model.Sequence) error {
	return s.export.Add(ctx, seq)
}

// Skip counts an issue left out of the export.
func (s *SQLiteSink) Skip(string) {
	s.export.Skip()
}

// Commit finalizes the run and closes the database.
func (s *SQLiteSink) Commit(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.export.Commit(ctx); err != nil {
		s.store.Close()
		return err
	}
	return s.store.Close()
}

// Abort discards the run and closes the database.
func (s *SQLiteSink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.export.Rollback()
	if closeErr := s.store.Close(); err == nil {
		err = closeErr
	}
	return err
}
