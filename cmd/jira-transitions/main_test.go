package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jira-transitions/internal/credential"
	"github.com/nhle/jira-transitions/internal/store"
	"github.com/nhle/jira-transitions/tests/testutil"
)

const (
	user  = "alice"
	token = "s3cret"
)

const wantCSV = "issue,from_status,to_status,timestamp,duration\n" +
	"P-1,start,Backlog,2024-03-01T09:00:00.000Z,0\n" +
	"P-1,Backlog,In Progress,2024-03-01T10:00:00.000Z,3600\n" +
	"P-1,In Progress,Done,2024-03-01T12:00:00.000Z,7200\n" +
	"P-2,start,Backlog,2024-03-01T09:00:00.000Z,0\n"

type tokenStore map[string]string

func (s tokenStore) Get(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (s tokenStore) Set(key, value string) error {
	s[key] = value
	return nil
}

func (s tokenStore) Delete(key string) error {
	if _, ok := s[key]; !ok {
		return errors.New("not found")
	}
	delete(s, key)
	return nil
}

func newFake(t *testing.T) *testutil.FakeJira {
	t.Helper()

	return testutil.NewFakeJira(t, user, token,
		testutil.FakeIssue{
			Key:     "P-1",
			Created: "2024-03-01T09:00:00.000+0000",
			Histories: []testutil.FakeHistory{
				{ID: "2", Created: "2024-03-01T12:00:00.000+0000", Items: []testutil.FakeItem{
					{Field: "status", FromString: "In Progress", ToString: "Done"},
				}},
				{ID: "1", Created: "2024-03-01T10:00:00.000+0000", Items: []testutil.FakeItem{
					{Field: "Status", FromString: "Backlog", ToString: "In Progress"},
					{Field: "assignee", ToString: "bob"},
				}},
			},
		},
		testutil.FakeIssue{Key: "P-2", Created: "2024-03-01T09:00:00.000+0000"},
	)
}

// writeConfig writes a config file so runs never read the user's own.
func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type harness struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
	env    map[string]string
	tokens tokenStore
	prompt credential.Prompter
}

func newHarness() *harness {
	return &harness{
		env:    map[string]string{credential.TokenEnv: token},
		tokens: tokenStore{},
	}
}

func (h *harness) run(args ...string) int {
	return run(context.Background(), args, env{
		stdout: &h.stdout,
		stderr: &h.stderr,
		getenv: func(k string) string { return h.env[k] },
		tokens: h.tokens,
		prompt: h.prompt,
	})
}

func baseArgs(t *testing.T, fake *testutil.FakeJira, dir string) []string {
	t.Helper()

	return []string{
		"--server", fake.URL(),
		"--username", user,
		"--jql", "project = P",
		"--first-step", "Backlog",
		"--config", writeConfig(t, dir, "log-level: debug\n"),
	}
}

func TestRun_ExportsCSVAndSQLite(t *testing.T) {
	t.Parallel()

	fake := newFake(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	db := filepath.Join(dir, "transitions.db")

	h := newHarness()
	code := h.run(append(baseArgs(t, fake, dir), "-o", out, "--sqlite", db)...)
	require.Equal(t, exitOK, code, h.stderr.String())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, wantCSV, string(got))
	assert.Contains(t, h.stderr.String(), out)

	s, err := store.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].IssueCount)
	assert.Equal(t, 4, runs[0].RowCount)
	assert.Equal(t, "project = P", runs[0].JQL)

	rows, err := s.Transitions(context.Background(), "P-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.False(t, rows[0].FromStatus.Valid)
	assert.Equal(t, "Done", rows[2].ToStatus)
}

func TestRun_ConfigFileSetsPageSize(t *testing.T) {
	t.Parallel()

	fake := newFake(t)
	dir := t.TempDir()

	h := newHarness()
	code := h.run(
		"--server", fake.URL(),
		"--username", user,
		"--config", writeConfig(t, dir, "jql: project = P\nfirst-step: Backlog\npage-size: 1\n"),
		"-o", "-",
	)
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Equal(t, wantCSV, h.stdout.String())

	search, _ := fake.Calls()
	assert.Equal(t, 2, search)
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing required settings",
			args: []string{"--server", "https://jira.example.com"},
			want: "--jql is required",
		},
		{
			name: "server is not a url",
			args: []string{"--server", "jira", "--username", user, "--jql", "x", "--first-step", "Open"},
			want: "not an http(s) URL",
		},
		{
			name: "unknown flag",
			args: []string{"--nope"},
			want: "unknown flag",
		},
		{
			name: "missing explicit config",
			args: []string{"--config", "/nonexistent/config.yaml"},
			want: "reading config",
		},
		{
			name: "positional argument",
			args: []string{"extra"},
			want: "unexpected arguments",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			args := tc.args
			if !hasFlag(args, "--config") {
				args = append(args, "--config", writeConfig(t, dir, ""))
			}

			h := newHarness()
			assert.Equal(t, exitUsage, h.run(args...))
			assert.Contains(t, h.stderr.String(), tc.want)
		})
	}
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(h *harness, fake *testutil.FakeJira)
		want  string
	}{
		{
			name:  "wrong token",
			setup: func(h *harness, _ *testutil.FakeJira) { h.env[credential.TokenEnv] = "wrong" },
			want:  "authentication failed",
		},
		{
			name: "rejected jql",
			setup: func(_ *harness, fake *testutil.FakeJira) {
				fake.BadJQL = "project = P"
				fake.JQLError = "The value 'P' does not exist for the field 'project'."
			},
			want: "The value 'P' does not exist",
		},
		{
			name:  "no token available",
			setup: func(h *harness, _ *testutil.FakeJira) { delete(h.env, credential.TokenEnv) },
			want:  "no API token",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := newFake(t)
			dir := t.TempDir()
			out := filepath.Join(dir, "out.csv")

			h := newHarness()
			tc.setup(h, fake)

			assert.Equal(t, exitFailure, h.run(append(baseArgs(t, fake, dir), "-o", out)...))
			assert.Equal(t, 1, strings.Count(h.stderr.String(), tc.want), "error is reported once")
			assert.NoFileExists(t, out)
		})
	}
}

func TestRun_UnwritableOutputFailsBeforeRequests(t *testing.T) {
	t.Parallel()

	fake := newFake(t)
	dir := t.TempDir()

	h := newHarness()
	code := h.run(append(baseArgs(t, fake, dir), "-o", filepath.Join(dir, "missing", "out.csv"))...)
	assert.Equal(t, exitFailure, code)

	search, _ := fake.Calls()
	assert.Zero(t, search)
}

func TestRun_SavesPromptedToken(t *testing.T) {
	t.Parallel()

	fake := newFake(t)
	dir := t.TempDir()

	h := newHarness()
	delete(h.env, credential.TokenEnv)
	h.prompt = func(string) (string, error) { return token, nil }

	code := h.run(append(baseArgs(t, fake, dir), "-o", "-", "--save-token")...)
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Equal(t, token, h.tokens[credential.Key(fake.URL(), user)])
}

func TestRun_ForgetToken(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := newHarness()
	h.tokens[credential.Key("https://jira.example.com", user)] = token

	code := h.run(
		"--server", "https://jira.example.com",
		"--username", user,
		"--forget-token",
		"--config", writeConfig(t, dir, ""),
	)
	assert.Equal(t, exitOK, code, h.stderr.String())
	assert.Empty(t, h.tokens)
}

func TestRun_Version(t *testing.T) {
	t.Parallel()

	h := newHarness()
	assert.Equal(t, exitOK, h.run("--version"))
	assert.Contains(t, h.stdout.String(), "jira-transitions dev")
}
