package credential

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/huh"
)

// TokenEnv is the environment variable consulted first for the API token.
const TokenEnv = "JIRA_API_TOKEN"

// ErrNoToken is returned when no API token could be found or prompted for.
var ErrNoToken = errors.New("no API token: set " + TokenEnv + ", store one in the keyring, or run interactively")

// Origin records where a token was found.
type Origin string

const (
	OriginEnv     Origin = "environment"
	OriginKeyring Origin = "keyring"
	OriginPrompt  Origin = "prompt"
)

// Store is the keyring subset the resolver needs.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Prompter asks the user for a secret.
type Prompter func(title string) (string, error)

// Resolver finds the API token for a server/user pair, trying the
// environment, then the keyring, then an interactive prompt.
type Resolver struct {
	Getenv func(string) string
	Store  Store

	// Prompt is nil when no terminal is attached.
	Prompt Prompter

	Logger *slog.Logger
}

// Key returns the keyring key for server and username.
func Key(server, username string) string {
	return strings.TrimRight(server, "/") + "|" + username
}

// Token returns the API token and where it came from.
func (r Resolver) Token(server, username string) (string, Origin, error) {
	if r.Getenv != nil {
		if token := strings.TrimSpace(r.Getenv(TokenEnv)); token != "" {
			return token, OriginEnv, nil
		}
	}

	key := Key(server, username)
	if r.Store != nil {
		token, err := r.Store.Get(key)
		if err == nil && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), OriginKeyring, nil
		}
		if err != nil && r.Logger != nil {
			r.Logger.Debug("no token in keyring", "key", key, "err", err)
		}
	}

	if r.Prompt == nil {
		return "", "", ErrNoToken
	}

	token, err := r.Prompt(fmt.Sprintf("API token for %s on %s", username, server))
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", "", ErrNoToken
		}
		return "", "", fmt.Errorf("prompting for API token: %w", err)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrNoToken
	}
	return token, OriginPrompt, nil
}

// Save stores token in the keyring under the server/user key.
func (r Resolver) Save(server, username, token string) error {
	if r.Store == nil {
		return errors.New("no keyring configured")
	}
	return r.Store.Set(Key(server, username), token)
}

// Forget removes the stored token for the server/user pair.
func (r Resolver) Forget(server, username string) error {
	if r.Store == nil {
		return errors.New("no keyring configured")
	}
	return r.Store.Delete(Key(server, username))
}

// TerminalPrompt asks for a token with a masked single-field form. The
// form reads keys from In and draws on Out, which must not be the stream
// the export writes to.
type TerminalPrompt struct {
	In  io.Reader
	Out io.Writer

	// Accessible replaces the full-screen form with plain line prompts.
	Accessible bool
}

// Password shows the form titled title and returns what was typed.
func (p TerminalPrompt) Password(title string) (string, error) {
	var value string

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description("Input is hidden").
				EchoMode(huh.EchoModePassword).
				Value(&value).
				Validate(validateRequired("API token")),
		),
	).
		WithShowHelp(false).
		WithAccessible(p.Accessible).
		WithInput(p.In).
		WithOutput(p.Out).
		Run()
	if err != nil {
		return "", err
	}

	return value, nil
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
