// Package transition reconstructs per-issue workflow status sequences from
// raw changelog events.
package transition

import (
	"errors"
	"slices"
	"strings"

	"github.com/nhle/jira-transitions/internal/model"
	"github.com/nhle/jira-transitions/internal/source"
)

// DefaultStatusField is the changelog field name of the workflow status.
const DefaultStatusField = "status"

// StartLabel is how the missing predecessor of the synthetic first
// transition is rendered.
const StartLabel = "start"

// ErrNoFirstStep is returned when Extract is called without a first step.
var ErrNoFirstStep = errors.New("first step must not be empty")

// Mismatch describes an event whose recorded old status differs from the
// status the sequence had reached. The sequence is emitted unchanged.
type Mismatch struct {
	IssueKey string
	// Index is the index of the transition built from the event.
	Index    int
	Expected string
	Recorded string
}

// IsFirstStep reports whether the mismatch concerns the declared first step.
func (m Mismatch) IsFirstStep() bool {
	return m.Index == 1
}

type options struct {
	statusField string
	onMismatch  func(Mismatch)
}

// Option configures Extract.
type Option func(*options)

// WithStatusField sets the changelog field treated as the workflow status.
// Matching is case-insensitive.
func WithStatusField(field string) Option {
	return func(o *options) {
		if field != "" {
			o.statusField = field
		}
	}
}

// WithMismatchHandler registers fn to observe events whose recorded old
// status disagrees with the reconstructed sequence.
func WithMismatchHandler(fn func(Mismatch)) Option {
	return func(o *options) {
		o.onMismatch = fn
	}
}

// Extract builds the transition sequence of issue from its changelog. The
// sequence opens with a synthetic transition into firstStep at the issue's
// creation time, followed by one transition per status change in
// chronological order. Events with equal timestamps keep their input order.
//
// Each transition's From is the To of its predecessor and its Duration is the
// time since that predecessor, never negative.
func Extract(
	issue model.Issue,
	events []model.ChangeEvent,
	firstStep string,
	opts ...Option,
) (model.Sequence, error) {
	o := options{statusField: DefaultStatusField}
	for _, opt := range opts {
		opt(&o)
	}

	if firstStep == "" {
		return model.Sequence{}, ErrNoFirstStep
	}
	if issue.Key == "" {
		return model.Sequence{}, &source.MalformedError{IssueKey: "<unknown>", Reason: "issue has no key"}
	}
	if issue.Created.IsZero() {
		return model.Sequence{}, &source.MalformedError{IssueKey: issue.Key, Reason: "issue has no creation time"}
	}

	changes := statusChanges(events, o.statusField)
	for _, ev := range changes {
		if ev.At.IsZero() {
			return model.Sequence{}, &source.MalformedError{IssueKey: issue.Key, Reason: "status change has no timestamp"}
		}
		if ev.To == "" {
			return model.Sequence{}, &source.MalformedError{IssueKey: issue.Key, Reason: "status change has no new value"}
		}
	}

	slices.SortStableFunc(changes, func(a, b model.ChangeEvent) int {
		return a.At.Compare(b.At)
	})

	transitions := make([]model.Transition, 0, len(changes)+1)
	transitions = append(transitions, model.Transition{
		IssueKey: issue.Key,
		Index:    0,
		To:       firstStep,
		At:       issue.Created,
	})

	for i, ev := range changes {
		prev := transitions[len(transitions)-1]

		if o.onMismatch != nil && ev.From != prev.To {
			o.onMismatch(Mismatch{
				IssueKey: issue.Key,
				Index:    i + 1,
				Expected: prev.To,
				Recorded: ev.From,
			})
		}

		elapsed := ev.At.Sub(prev.At)
		if elapsed < 0 {
			elapsed = 0
		}

		transitions = append(transitions, model.Transition{
			IssueKey: issue.Key,
			Index:    i + 1,
			From:     prev.To,
			To:       ev.To,
			At:       ev.At,
			Duration: elapsed,
		})
	}

	return model.Sequence{Issue: issue, Transitions: transitions}, nil
}

// statusChanges returns the events changing field, in input order.
func statusChanges(events []model.ChangeEvent, field string) []model.ChangeEvent {
	var out []model.ChangeEvent
	for _, ev := range events {
		if strings.EqualFold(ev.Field, field) {
			out = append(out, ev)
		}
	}
	return out
}
