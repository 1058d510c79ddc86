package jira

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/jira-transitions/internal/model"
	"github.com/nhle/jira-transitions/internal/source"
)

// DefaultPageSize is the number of issues or histories requested per page.
const DefaultPageSize = 100

// searchFields are the Jira fields requested during search queries.
var searchFields = []string{"created", "creator", "status"}

// Adapter implements source.IssueSource for Jira Server/DC and Cloud.
type Adapter struct {
	client *Client
}

var _ source.IssueSource = (*Adapter)(nil)

// NewAdapter creates a new Jira source adapter on top of client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// ValidateConnection verifies credentials by calling GET /rest/api/2/myself.
// Returns the user's display name on success.
func (a *Adapter) ValidateConnection(
	ctx context.Context,
) (string, error) {
	var me Myself
	if err := a.client.Get(ctx, "/rest/api/2/myself", &me); err != nil {
		return "", fmt.Errorf("validating Jira connection: %w", err)
	}
	return me.DisplayName, nil
}

// Issues returns a lazy sequence over every issue matching jql. A page is
// requested only once the previous one has been consumed, and paging stops
// as soon as the consumer stops ranging. The first error ends the sequence.
func (a *Adapter) Issues(
	ctx context.Context,
	jql string,
	pageSize int,
) iter.Seq2[model.Issue, error] {
	return func(yield func(model.Issue, error) bool) {
		if strings.TrimSpace(jql) == "" {
			yield(model.Issue{}, source.ErrEmptyQuery)
			return
		}
		if pageSize < 1 {
			pageSize = DefaultPageSize
		}

		startAt := 0
		for {
			page, err := a.searchPage(ctx, jql, startAt, pageSize)
			if err != nil {
				yield(model.Issue{}, err)
				return
			}

			for _, issue := range page.Issues {
				if !yield(toIssue(issue), nil) {
					return
				}
			}

			startAt += len(page.Issues)
			if len(page.Issues) == 0 || startAt >= page.Total {
				return
			}
		}
	}
}

// searchPage fetches one page of search results with changelogs expanded.
func (a *Adapter) searchPage(
	ctx context.Context,
	jql string,
	startAt int,
	pageSize int,
) (*SearchResponse, error) {
	body := SearchRequest{
		JQL:        jql,
		StartAt:    startAt,
		MaxResults: pageSize,
		Fields:     searchFields,
		Expand:     []string{"changelog"},
	}

	var searchResp SearchResponse
	if err := a.client.Post(ctx, "/rest/api/2/search", body, &searchResp); err != nil {
		return nil, fmt.Errorf("searching Jira issues at %d: %w", startAt, asQueryError(err, jql))
	}
	return &searchResp, nil
}

// Changelog returns every change recorded against issue. When the search
// response already carried the whole history no request is made; otherwise
// the history is paged from GET /rest/api/2/issue/{key}/changelog.
func (a *Adapter) Changelog(
	ctx context.Context,
	issue model.Issue,
) ([]model.ChangeEvent, error) {
	if issue.ChangelogComplete {
		return append([]model.ChangeEvent(nil), issue.Changelog...), nil
	}

	var events []model.ChangeEvent
	startAt := 0
	for {
		path := fmt.Sprintf(
			"/rest/api/2/issue/%s/changelog?startAt=%d&maxResults=%d",
			url.PathEscape(issue.Key), startAt, DefaultPageSize,
		)

		var page ChangelogPage
		if err := a.client.Get(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("fetching changelog for %s: %w", issue.Key, err)
		}

		pageEvents, err := historiesToEvents(issue.Key, page.Values)
		if err != nil {
			return nil, err
		}
		events = append(events, pageEvents...)

		startAt += len(page.Values)
		if page.IsLast || len(page.Values) == 0 || startAt >= page.Total {
			return events, nil
		}
	}
}

// toIssue converts a Jira Issue to a model.Issue. An unparsable creation
// time is left zero for the extractor to reject.
func toIssue(issue Issue) model.Issue {
	creator := ""
	if issue.Fields.Creator != nil {
		creator = issue.Fields.Creator.DisplayName
	}

	out := model.Issue{
		Key:     issue.Key,
		Created: parseJiraTime(issue.Fields.Created),
		Creator: creator,
	}

	if cl := issue.Changelog; cl != nil && cl.StartAt == 0 && len(cl.Histories) >= cl.Total {
		// A malformed embedded history is re-read from the changelog
		// endpoint, which reports it as such.
		if events, err := historiesToEvents(issue.Key, cl.Histories); err == nil {
			out.Changelog = events
			out.ChangelogComplete = true
		}
	}

	return out
}

// historiesToEvents flattens histories into one event per changed field,
// preserving the order received.
func historiesToEvents(key string, histories []History) ([]model.ChangeEvent, error) {
	var events []model.ChangeEvent
	for _, h := range histories {
		at := parseJiraTime(h.Created)
		if at.IsZero() {
			return nil, &source.MalformedError{
				IssueKey: key,
				Reason:   fmt.Sprintf("history %s has unparsable created time %q", h.ID, h.Created),
			}
		}

		author := ""
		if h.Author != nil {
			author = h.Author.DisplayName
		}

		for _, item := range h.Items {
			events = append(events, model.ChangeEvent{
				IssueKey: key,
				Field:    item.Field,
				From:     item.FromString,
				To:       item.ToString,
				At:       at,
				Author:   author,
			})
		}
	}
	return events, nil
}

// parseJiraTime parses a Jira timestamp string. Jira uses the format
// "2006-01-02T15:04:05.000+0000".
func parseJiraTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	layouts := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
		time.RFC3339Nano,
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
