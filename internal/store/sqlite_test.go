package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jira-transitions/internal/model"
	"github.com/nhle/jira-transitions/internal/store"
	"github.com/nhle/jira-transitions/tests/testutil"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func sequence(key string, statuses ...string) model.Sequence {
	seq := model.Sequence{Issue: model.Issue{Key: key, Created: t0}}
	prev := ""
	for i, st := range statuses {
		seq.Transitions = append(seq.Transitions, model.Transition{
			IssueKey: key,
			Index:    i,
			From:     prev,
			To:       st,
			At:       t0.Add(time.Duration(i) * time.Hour),
			Duration: min(time.Duration(i), 1) * time.Hour,
		})
		prev = st
	}
	return seq
}

func TestSQLiteStore_ExportCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewTestStore(t)

	exp, err := s.BeginExport(ctx, store.Run{ID: "run-1", JQL: "project = P", FirstStep: "Backlog", StartedAt: t0})
	require.NoError(t, err)
	require.NoError(t, exp.Add(ctx, sequence("P-1", "Backlog", "In Progress", "Done")))
	exp.Skip()
	require.NoError(t, exp.Commit(ctx))

	rows, err := s.Transitions(ctx, "P-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, sql.NullString{}, rows[0].FromStatus)
	assert.Equal(t, "Backlog", rows[0].ToStatus)
	assert.Equal(t, sql.NullString{String: "Backlog", Valid: true}, rows[1].FromStatus)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", rows[1].TransitionedAt)
	assert.InDelta(t, 3600, rows[1].DurationSeconds, 0.001)
	assert.Equal(t, "run-1", rows[2].RunID)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].IssueCount)
	assert.Equal(t, 3, runs[0].RowCount)
	assert.Equal(t, 1, runs[0].SkippedCount)
	assert.True(t, runs[0].FinishedAt.Valid)
}

func TestSQLiteStore_NewExportReplacesRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewTestStore(t)

	first, err := s.BeginExport(ctx, store.Run{ID: "run-1", JQL: "q", FirstStep: "A", StartedAt: t0})
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, sequence("P-1", "A", "B")))
	require.NoError(t, first.Commit(ctx))

	second, err := s.BeginExport(ctx, store.Run{ID: "run-2", JQL: "q", FirstStep: "A", StartedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, second.Add(ctx, sequence("P-2", "A")))
	require.NoError(t, second.Commit(ctx))

	old, err := s.Transitions(ctx, "P-1")
	require.NoError(t, err)
	assert.Empty(t, old)

	current, err := s.Transitions(ctx, "P-2")
	require.NoError(t, err)
	assert.Len(t, current, 1)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
}

func TestSQLiteStore_RollbackKeepsPreviousRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewTestStore(t)

	first, err := s.BeginExport(ctx, store.Run{ID: "run-1", JQL: "q", FirstStep: "A", StartedAt: t0})
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, sequence("P-1", "A", "B")))
	require.NoError(t, first.Commit(ctx))

	failed, err := s.BeginExport(ctx, store.Run{ID: "run-2", JQL: "q", FirstStep: "A", StartedAt: t0})
	require.NoError(t, err)
	require.NoError(t, failed.Add(ctx, sequence("P-2", "A")))
	require.NoError(t, failed.Rollback())

	rows, err := s.Transitions(ctx, "P-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestNewSQLiteStore_ReopenSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "transitions.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
