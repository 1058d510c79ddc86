package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// FakeItem is one field change inside a FakeHistory.
type FakeItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// FakeHistory is one changelog entry served by FakeJira.
type FakeHistory struct {
	ID      string     `json:"id"`
	Created string     `json:"created"`
	Items   []FakeItem `json:"items"`
}

// FakeIssue is one issue served by FakeJira.
type FakeIssue struct {
	Key       string
	Created   string
	Histories []FakeHistory
}

// FakeJira is an in-process stand-in for the Jira REST API v2 endpoints
// used by the exporter.
type FakeJira struct {
	Server *httptest.Server

	Username string
	Token    string
	Issues   []FakeIssue

	// EmbedLimit caps the histories embedded in search results, as Jira
	// Cloud does. Zero embeds all of them.
	EmbedLimit int

	// ChangelogPageSize caps the histories per changelog page.
	ChangelogPageSize int

	// BadJQL is rejected with a 400 and JQLError.
	BadJQL   string
	JQLError string

	// ChangelogStatus forces an HTTP status for an issue's changelog.
	ChangelogStatus map[string]int

	mu             sync.Mutex
	SearchCalls    int
	ChangelogCalls map[string]int
}

// NewFakeJira starts a FakeJira accepting username/token and serving
// issues. The server is closed when the test completes.
func NewFakeJira(t *testing.T, username, token string, issues ...FakeIssue) *FakeJira {
	t.Helper()

	f := &FakeJira{
		Username:          username,
		Token:             token,
		Issues:            issues,
		ChangelogPageSize: 100,
		ChangelogStatus:   map[string]int{},
		ChangelogCalls:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/api/2/myself", f.authed(f.handleMyself))
	mux.HandleFunc("POST /rest/api/2/search", f.authed(f.handleSearch))
	mux.HandleFunc("GET /rest/api/2/issue/{key}/changelog", f.authed(f.handleChangelog))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

// URL returns the base URL of the fake server.
func (f *FakeJira) URL() string {
	return f.Server.URL
}

// Calls returns the number of search and changelog requests served.
func (f *FakeJira) Calls() (search int, changelog map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	changelog = make(map[string]int, len(f.ChangelogCalls))
	for k, v := range f.ChangelogCalls {
		changelog[k] = v
	}
	return f.SearchCalls, changelog
}

func (f *FakeJira) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != f.Username || pass != f.Token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *FakeJira) handleMyself(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        f.Username,
		"displayName": "Test User",
		"active":      true,
	})
}

func (f *FakeJira) handleSearch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.SearchCalls++
	f.mu.Unlock()

	var req struct {
		JQL        string   `json:"jql"`
		StartAt    int      `json:"startAt"`
		MaxResults int      `json:"maxResults"`
		Expand     []string `json:"expand"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessages": []string{err.Error()}})
		return
	}

	if f.BadJQL != "" && req.JQL == f.BadJQL {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessages": []string{f.JQLError}})
		return
	}

	expand := false
	for _, e := range req.Expand {
		expand = expand || e == "changelog"
	}

	end := min(req.StartAt+req.MaxResults, len(f.Issues))
	issues := []map[string]any{}
	for i := req.StartAt; i < end; i++ {
		issue := f.Issues[i]
		out := map[string]any{
			"id":  issue.Key,
			"key": issue.Key,
			"fields": map[string]any{
				"created": issue.Created,
				"creator": map[string]any{"displayName": "Reporter"},
			},
		}
		if expand {
			histories := issue.Histories
			if f.EmbedLimit > 0 && len(histories) > f.EmbedLimit {
				histories = histories[:f.EmbedLimit]
			}
			out["changelog"] = map[string]any{
				"startAt":    0,
				"maxResults": len(histories),
				"total":      len(issue.Histories),
				"histories":  nonNil(histories),
			}
		}
		issues = append(issues, out)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"startAt":    req.StartAt,
		"maxResults": req.MaxResults,
		"total":      len(f.Issues),
		"issues":     issues,
	})
}

func (f *FakeJira) handleChangelog(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	f.mu.Lock()
	f.ChangelogCalls[key]++
	status := f.ChangelogStatus[key]
	f.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]any{"errorMessages": []string{"changelog unavailable"}})
		return
	}

	var issue *FakeIssue
	for i := range f.Issues {
		if f.Issues[i].Key == key {
			issue = &f.Issues[i]
		}
	}
	if issue == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"errorMessages": []string{"Issue does not exist"}})
		return
	}

	startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
	end := min(startAt+f.ChangelogPageSize, len(issue.Histories))
	if startAt > end {
		startAt = end
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"startAt":    startAt,
		"maxResults": f.ChangelogPageSize,
		"total":      len(issue.Histories),
		"isLast":     end >= len(issue.Histories),
		"values":     nonNil(issue.Histories[startAt:end]),
	})
}

func nonNil(h []FakeHistory) []FakeHistory {
	if h == nil {
		return []FakeHistory{}
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
