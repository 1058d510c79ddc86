// Package export writes reconstructed transition sequences to their
// destinations.
package export

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/nhle/jira-transitions/internal/model"
	"github.com/nhle/jira-transitions/internal/transition"
)

// Header is the fixed column header of the CSV output.
var Header = []string{"issue", "from_status", "to_status", "timestamp", "duration"}

// TimestampLayout formats transition times: RFC 3339 in UTC with
// millisecond precision, matching what Jira records.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Sink receives transition sequences in fetch order. Nothing written is
// visible at the destination until Commit succeeds. Abort discards the run
// and is a no-op after Commit.
type Sink interface {
	Write(ctx context.Context, seq model.Sequence) error
	Commit(ctx context.Context) error
	Abort() error
}

// SkipRecorder is implemented by sinks that account for issues left out of
// the export.
type SkipRecorder interface {
	Skip(issueKey string)
}

// Multi fans every call out to each of its sinks in order.
type Multi []Sink

// Write writes seq to every sink, stopping at the first failure.
func (m Multi) Write(ctx context.Context, seq model.Sequence) error {
	for _, s := range m {
		if err := s.Write(ctx, seq); err != nil {
			return err
		}
	}
	return nil
}

// Commit commits the sinks in order. When one fails, the sinks after it
// are aborted instead, so a sink whose commit cannot be undone (such as a
// file rename) belongs last.
func (m Multi) Commit(ctx context.Context) error {
	for i, s := range m {
		if err := s.Commit(ctx); err != nil {
			for _, rest := range m[i+1:] {
				err = errors.Join(err, rest.Abort())
			}
			return err
		}
	}
	return nil
}

// Skip forwards to every sink that records skips.
func (m Multi) Skip(issueKey string) {
	for _, s := range m {
		if r, ok := s.(SkipRecorder); ok {
			r.Skip(issueKey)
		}
	}
}

// Abort aborts every sink and joins their errors.
func (m Multi) Abort() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Abort())
	}
	return errors.Join(errs...)
}

// Record returns the CSV fields of a single transition.
func Record(t model.Transition) []string {
	from := t.From
	if t.IsStart() {
		from = transition.StartLabel
	}
	return []string{
		t.IssueKey,
		from,
		t.To,
		FormatTime(t.At),
		FormatDuration(t.Duration),
	}
}

// FormatTime renders t with TimestampLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatDuration renders d as seconds in the shortest exact decimal form
// ("0", "3600", "1.5").
func FormatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
