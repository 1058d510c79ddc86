package model

import "time"

// Issue is a single issue returned by the search query.
type Issue struct {
	// Key is the human-readable issue key (e.g., "PROJ-123").
	Key string `json:"key"`

	// Created is when the issue was created; it anchors the synthetic
	// first transition.
	Created time.Time `json:"created"`

	// Creator is the display name of the user who created the issue.
	Creator string `json:"creator,omitempty"`

	// Changelog holds the change history embedded in the search response,
	// if any.
	Changelog []ChangeEvent `json:"-"`

	// ChangelogComplete reports whether Changelog covers the issue's whole
	// history. When false the history must be paged separately.
	ChangelogComplete bool `json:"-"`
}

// ChangeEvent is one field change recorded in an issue's changelog.
// Events arrive unordered and are sorted by the extractor.
type ChangeEvent struct {
	IssueKey string    `json:"issue_key"`
	Field    string    `json:"field"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	At       time.Time `json:"at"`
	Author   string    `json:"author,omitempty"`
}

// Transition is a single workflow status change of an issue.
type Transition struct {
	IssueKey string `json:"issue_key"`

	// Index is the ordinal position within the issue's sequence. The
	// synthetic first-step entry has index 0.
	Index int `json:"index"`

	// From is empty for the synthetic entry.
	From string `json:"from"`
	To   string `json:"to"`

	At time.Time `json:"at"`

	// Duration is the time elapsed since the preceding transition.
	Duration time.Duration `json:"duration"`
}

// IsStart reports whether t is the synthetic first-step entry.
func (t Transition) IsStart() bool {
	return t.Index == 0 && t.From == ""
}

// Sequence is the ordered transition history of one issue.
type Sequence struct {
	Issue       Issue        `json:"issue"`
	Transitions []Transition `json:"transitions"`
}

// Total returns the sum of all transition durations.
func (s Sequence) Total() time.Duration {
	var total time.Duration
	for _, t := range s.Transitions {
		total += t.Duration
	}
	return total
}

// Last returns the final transition of the sequence.
func (s Sequence) Last() (Transition, bool) {
	if len(s.Transitions) == 0 {
		return Transition{}, false
	}
	return s.Transitions[len(s.Transitions)-1], true
}
