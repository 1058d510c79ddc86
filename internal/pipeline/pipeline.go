// Package pipeline runs one export: fetch issues, rebuild each issue's
// status transitions and hand them to the sinks, strictly in sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/jira-transitions/internal/export"
	"github.com/nhle/jira-transitions/internal/source"
	"github.com/nhle/jira-transitions/internal/transition"
)

// Options configures a single run.
type Options struct {
	RunID       string
	JQL         string
	PageSize    int
	FirstStep   string
	StatusField string

	// CheckFirstStep logs a warning for every issue whose recorded history
	// does not start from FirstStep. Output is unaffected.
	CheckFirstStep bool
}

// Summary reports what a run did.
type Summary struct {
	RunID       string
	Issues      int
	Rows        int
	Skipped     []string
	Mismatches  int
	Elapsed     time.Duration
	Destination string
}

// Pipeline connects an issue source to a sink.
type Pipeline struct {
	src    source.IssueSource
	sink   export.Sink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Pipeline reading from src and writing to sink.
func New(src source.IssueSource, sink export.Sink, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		src:    src,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Run exports every issue matched by opts.JQL. Issues whose changelog cannot
// be read or is malformed are skipped with a warning; auth, query and
// transport failures abort the run. The sink is committed only when the
// whole run succeeds and aborted otherwise.
func (p *Pipeline) Run(ctx context.Context, opts Options) (summary Summary, err error) {
	start := p.now()
	summary.RunID = opts.RunID
	logger := p.logger.With("run", opts.RunID)

	defer func() {
		summary.Elapsed = p.now().Sub(start)
		if err != nil {
			if abortErr := p.sink.Abort(); abortErr != nil {
				logger.Error("discarding partial output", "err", abortErr)
			}
		}
	}()

	if opts.FirstStep == "" {
		return summary, transition.ErrNoFirstStep
	}

	extractOpts := []transition.Option{transition.WithStatusField(opts.StatusField)}
	if opts.CheckFirstStep {
		extractOpts = append(extractOpts, transition.WithMismatchHandler(func(m transition.Mismatch) {
			summary.Mismatches++
			if m.IsFirstStep() {
				logger.Warn("first step does not match recorded history",
					"issue", m.IssueKey, "first_step", m.Expected, "recorded_from", m.Recorded)
				return
			}
			logger.Debug("recorded status differs from reconstructed status",
				"issue", m.IssueKey, "index", m.Index, "expected", m.Expected, "recorded_from", m.Recorded)
		}))
	}

	logger.Info("searching issues", "jql", opts.JQL, "page_size", opts.PageSize)

	// Offset paging repeats an issue when the result set shifts mid-run.
	seen := make(map[string]struct{})

	for issue, fetchErr := range p.src.Issues(ctx, opts.JQL, opts.PageSize) {
		if fetchErr != nil {
			return summary, fetchErr
		}
		if _, dup := seen[issue.Key]; dup {
			logger.Warn("issue returned twice by search, keeping the first", "issue", issue.Key)
			continue
		}
		seen[issue.Key] = struct{}{}

		events, err := p.src.Changelog(ctx, issue)
		if err != nil {
			if source.IsFatal(err) {
				return summary, err
			}
			p.skip(logger, &summary, issue.Key, err)
			continue
		}

		seq, err := transition.Extract(issue, events, opts.FirstStep, extractOpts...)
		if err != nil {
			if errors.Is(err, transition.ErrNoFirstStep) {
				return summary, err
			}
			p.skip(logger, &summary, issue.Key, err)
			continue
		}

		if err := p.sink.Write(ctx, seq); err != nil {
			return summary, fmt.Errorf("writing %s: %w", issue.Key, err)
		}

		summary.Issues++
		summary.Rows += len(seq.Transitions)
		logger.Debug("issue exported", "issue", issue.Key, "transitions", len(seq.Transitions))
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if err := p.sink.Commit(ctx); err != nil {
		return summary, fmt.Errorf("committing output: %w", err)
	}

	logger.Info("export complete",
		"issues", summary.Issues, "rows", summary.Rows, "skipped", len(summary.Skipped))
	return summary, nil
}

// skip records an issue left out of the export.
func (p *Pipeline) skip(logger *slog.Logger, summary *Summary, key string, err error) {
	logger.Warn("skipping issue", "issue", key, "err", err)
	summary.Skipped = append(summary.Skipped, key)
	if r, ok := p.sink.(export.SkipRecorder); ok {
		r.Skip(key)
	}
}
