package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/nhle/jira-transitions/internal/model"
)

// ErrEmptyQuery is returned when a search is attempted without a query.
var ErrEmptyQuery = errors.New("search query must not be empty")

// AuthError indicates that authentication or authorization has failed.
// It is returned by source clients when a 401 or 403 response is received.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d): %s", e.StatusCode, e.Message)
}

// QueryError carries the server's verbatim rejection of a search query.
type QueryError struct {
	Query    string
	Messages []string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query %q: %s", e.Query, strings.Join(e.Messages, "; "))
}

// StatusError is a non-2xx response that is neither an auth nor a
// query failure.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// TransportError wraps a failure to get any response from the server.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("executing request %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedError reports an issue whose data lacks fields needed to
// reconstruct its transitions.
type MalformedError struct {
	IssueKey string
	Reason   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed changelog for %s: %s", e.IssueKey, e.Reason)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsQueryError reports whether err (or any error in its chain) is a QueryError.
func IsQueryError(err error) bool {
	var queryErr *QueryError
	return errors.As(err, &queryErr)
}

// IsTransportError reports whether err (or any error in its chain) is a
// TransportError.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsMalformed reports whether err (or any error in its chain) is a
// MalformedError.
func IsMalformed(err error) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed)
}

// IsFatal reports whether err must abort the whole run rather than skip a
// single issue. Auth, query and transport failures are fatal, as is
// context cancellation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return IsAuthError(err) || IsQueryError(err) || IsTransportError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IssueSource is the contract the export pipeline needs from an issue
// tracker.
type IssueSource interface {
	// Issues lazily yields every issue matching query, one page at a time.
	// Iteration stops after the first error.
	Issues(ctx context.Context, query string, pageSize int) iter.Seq2[model.Issue, error]

	// Changelog returns every recorded field change of issue.
	Changelog(ctx context.Context, issue model.Issue) ([]model.ChangeEvent, error)
}
