package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jira-transitions/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func backlogSequence() model.Sequence {
	return model.Sequence{
		Issue: model.Issue{Key: "P-1", Created: t0},
		Transitions: []model.Transition{
			{IssueKey: "P-1", Index: 0, To: "Backlog", At: t0},
			{IssueKey: "P-1", Index: 1, From: "Backlog", To: "In Progress", At: t0.Add(time.Hour), Duration: time.Hour},
		},
	}
}

func untouchedSequence() model.Sequence {
	created := t0.Add(24 * time.Hour)
	return model.Sequence{
		Issue: model.Issue{Key: "P-2", Created: created},
		Transitions: []model.Transition{
			{IssueKey: "P-2", Index: 0, To: "Backlog", At: created},
		},
	}
}

const wantCSV = "issue,from_status,to_status,timestamp,duration\n" +
	"P-1,start,Backlog,2024-03-01T09:00:00.000Z,0\n" +
	"P-1,Backlog,In Progress,2024-03-01T10:00:00.000Z,3600\n" +
	"P-2,start,Backlog,2024-03-02T09:00:00.000Z,0\n"

func writeAll(t *testing.T, path string, seqs ...model.Sequence) {
	t.Helper()

	ctx := context.Background()
	w, err := NewCSVWriter(path)
	require.NoError(t, err)
	for _, seq := range seqs {
		require.NoError(t, w.Write(ctx, seq))
	}
	require.NoError(t, w.Commit(ctx))
}

func TestCSVWriter_WritesHeaderAndRowsInOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	writeAll(t, path, backlogSequence(), untouchedSequence())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, wantCSV, string(got))
}

func TestCSVWriter_RerunIsByteIdentical(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")

	writeAll(t, first, backlogSequence(), untouchedSequence())
	writeAll(t, second, backlogSequence(), untouchedSequence())

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestCSVWriter_OverwritesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale,data\nmore,stale,rows,than,before\n"), 0o644))

	writeAll(t, path, untouchedSequence())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"issue,from_status,to_status,timestamp,duration\nP-2,start,Backlog,2024-03-02T09:00:00.000Z,0\n",
		string(got))
}

func TestCSVWriter_AbortKeepsPreviousOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0o644))

	w, err := NewCSVWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), backlogSequence()))
	require.NoError(t, w.Abort())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}

func TestNewCSVWriter_When_PathNotWritable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{name: "missing directory", path: filepath.Join(dir, "missing", "out.csv")},
		{name: "path is a directory", path: dir},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewCSVWriter(tc.path)
			assert.Error(t, err)
		})
	}
}

func TestCSVStream_CountsRows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewCSVStream(&buf)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, backlogSequence()))
	require.NoError(t, w.Write(ctx, untouchedSequence()))
	require.NoError(t, w.Commit(ctx))

	assert.Equal(t, 3, w.Rows())
	assert.Equal(t, wantCSV, buf.String())
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "0"},
		{in: time.Hour, want: "3600"},
		{in: 1500 * time.Millisecond, want: "1.5"},
		{in: 72 * time.Hour, want: "259200"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatDuration(tc.in))
	}
}

func TestFormatTime_NormalizesToUTC(t *testing.T) {
	t.Parallel()

	zone := time.FixedZone("UTC+3", 3*60*60)
	at := time.Date(2024, 3, 1, 12, 30, 0, 250*int(time.Millisecond), zone)
	assert.Equal(t, "2024-03-01T09:30:00.250Z", FormatTime(at))
}

type recordingSink struct {
	writes    int
	commits   int
	aborts    int
	skipped   []string
	commitErr error
}

func (r *recordingSink) Write(context.Context, model.Sequence) error { r.writes++; return nil }
func (r *recordingSink) Commit(context.Context) error                { r.commits++; return r.commitErr }
func (r *recordingSink) Abort() error                                { r.aborts++; return nil }
func (r *recordingSink) Skip(key string)                             { r.skipped = append(r.skipped, key) }

func TestMulti_FansOut(t *testing.T) {
	t.Parallel()

	a, b := &recordingSink{}, &recordingSink{}
	m := Multi{a, b}
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, backlogSequence()))
	m.Skip("P-9")
	require.NoError(t, m.Commit(ctx))
	require.NoError(t, m.Abort())

	for _, s := range []*recordingSink{a, b} {
		assert.Equal(t, 1, s.writes)
		assert.Equal(t, 1, s.commits)
		assert.Equal(t, 1, s.aborts)
		assert.Equal(t, []string{"P-9"}, s.skipped)
	}
}

func TestMulti_FailedCommitKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0o644))

	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	db := &recordingSink{commitErr: errors.New("database is locked")}
	m := Multi{db, w}
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, backlogSequence()))
	assert.ErrorContains(t, m.Commit(ctx), "database is locked")
	require.NoError(t, m.Abort())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}
