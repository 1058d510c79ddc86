// jira-transitions exports the status transitions of Jira issues to CSV.
//
// Usage:
//
//	jira-transitions --server https://jira.example.com --username alice \
//	    --jql 'project = ABC' --first-step Backlog -o transitions.csv
//
// The API token is read from JIRA_API_TOKEN, then the OS keyring, then an
// interactive prompt when a terminal is attached.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/nhle/jira-transitions/internal/credential"
	"github.com/nhle/jira-transitions/internal/export"
	"github.com/nhle/jira-transitions/internal/logging"
	"github.com/nhle/jira-transitions/internal/model"
	"github.com/nhle/jira-transitions/internal/pipeline"
	"github.com/nhle/jira-transitions/internal/source/jira"
	"github.com/nhle/jira-transitions/internal/store"
	"github.com/nhle/jira-transitions/internal/theme"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// env is everything run needs from the process.
type env struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	tokens credential.Store

	// prompt is nil when stdin is not a terminal.
	prompt credential.Prompter
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
		tokens: credential.SystemStore{},
	}
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		// The CSV may be streamed to stdout, so the form draws on stderr.
		e.prompt = credential.TerminalPrompt{
			In:         os.Stdin,
			Out:        os.Stderr,
			Accessible: os.Getenv("ACCESSIBLE") != "",
		}.Password
	}

	os.Exit(run(ctx, os.Args[1:], e))
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("jira-transitions", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	fs.String("server", "", "Jira base URL, e.g. https://jira.example.com")
	fs.String("username", "", "Jira username used for Basic authentication")
	fs.String("jql", "", "JQL query selecting the issues to export")
	fs.String("first-step", "", "name of the workflow's initial status")
	fs.String("ca-path", "", "PEM file with additional trusted CA certificates")
	fs.StringP("output", "o", model.DefaultOutput, `CSV output path, "-" for stdout`)
	fs.String("sqlite", "", "also write the rows to this SQLite database")
	fs.Int("page-size", model.DefaultPageSize, "issues requested per search page")
	fs.String("status-field", model.DefaultStatusField, "changelog field holding the workflow status")
	fs.Bool("check-first-step", false, "warn when recorded history does not start from --first-step")
	fs.Duration("timeout", model.DefaultTimeout, "timeout for each HTTP request")
	fs.Bool("save-token", false, "store a prompted API token in the OS keyring")
	fs.Bool("forget-token", false, "remove the stored API token for --server and --username, then exit")
	fs.String("config", "", "config file (default "+model.DefaultConfigPath()+")")
	fs.String("log-level", model.DefaultLogLevel, "log level: debug, info, warn, error")
	fs.String("log-file", "", "also write logs to this rotating file")
	fs.BoolP("version", "v", false, "print the version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: jira-transitions [flags]\n\nFlags:\n%s", fs.FlagUsages())
	}
	return fs
}

func run(ctx context.Context, args []string, e env) int {
	fs := newFlagSet(e.stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(e.stderr, "jira-transitions: %v\n", err)
		fs.Usage()
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(e.stderr, "jira-transitions: unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return exitUsage
	}

	if v, _ := fs.GetBool("version"); v {
		fmt.Fprintf(e.stdout, "jira-transitions %s\n", version)
		return exitOK
	}

	v, err := model.NewViper(fs)
	if err != nil {
		fmt.Fprintf(e.stderr, "jira-transitions: %v\n", err)
		return exitUsage
	}
	configPath, _ := fs.GetString("config")
	cfg, err := model.LoadConfig(v, configPath)
	if err != nil {
		fmt.Fprintf(e.stderr, "jira-transitions: %v\n", err)
		return exitUsage
	}

	if forget, _ := fs.GetBool("forget-token"); forget {
		return forgetToken(cfg, e)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(e.stderr, "jira-transitions: invalid configuration:\n%v\n", err)
		fs.Usage()
		return exitUsage
	}

	logger, closeLog, err := logging.Setup(e.stderr, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(e.stderr, "jira-transitions: %v\n", err)
		return exitUsage
	}
	defer closeLog()

	if err := exportTransitions(ctx, cfg, e, logger); err != nil {
		fmt.Fprintf(e.stderr, "jira-transitions: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func forgetToken(cfg *model.Config, e env) int {
	if cfg.Server == "" || cfg.Username == "" {
		fmt.Fprintln(e.stderr, "jira-transitions: --forget-token needs --server and --username")
		return exitUsage
	}

	r := credential.Resolver{Store: e.tokens}
	if err := r.Forget(cfg.Server, cfg.Username); err != nil {
		fmt.Fprintf(e.stderr, "jira-transitions: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(e.stderr, "Removed stored token for %s on %s\n", cfg.Username, cfg.Server)
	return exitOK
}

// exportTransitions runs one export with cfg.
func exportTransitions(ctx context.Context, cfg *model.Config, e env, logger *slog.Logger) error {
	resolver := credential.Resolver{
		Getenv: e.getenv,
		Store:  e.tokens,
		Prompt: e.prompt,
		Logger: logger,
	}
	token, origin, err := resolver.Token(cfg.Server, cfg.Username)
	if err != nil {
		return err
	}
	logger.Debug("api token resolved", "origin", origin)

	runID := uuid.NewString()

	// The output is opened before any request so a bad path fails fast.
	sink, destination, err := openSinks(ctx, cfg, runID, e.stdout)
	if err != nil {
		return err
	}

	client, err := jira.NewClient(jira.ClientConfig{
		BaseURL:   cfg.Server,
		Username:  cfg.Username,
		Token:     token,
		CAPath:    cfg.CAPath,
		Timeout:   cfg.Timeout,
		UserAgent: "jira-transitions/" + version,
	})
	if err != nil {
		_ = sink.Abort()
		return err
	}
	adapter := jira.NewAdapter(client)

	who, err := adapter.ValidateConnection(ctx)
	if err != nil {
		_ = sink.Abort()
		return err
	}
	logger.Info("connected to Jira", "server", cfg.Server, "user", who)

	if origin == credential.OriginPrompt && cfg.SaveToken {
		if err := resolver.Save(cfg.Server, cfg.Username, token); err != nil {
			logger.Warn("could not store API token", "err", err)
		} else {
			logger.Info("API token stored in keyring")
		}
	}

	summary, err := pipeline.New(adapter, sink, logger).Run(ctx, pipeline.Options{
		RunID:          runID,
		JQL:            cfg.JQL,
		PageSize:       cfg.PageSize,
		FirstStep:      cfg.FirstStep,
		StatusField:    cfg.StatusField,
		CheckFirstStep: cfg.CheckFirstStep,
	})
	if err != nil {
		return err
	}

	summary.Destination = destination
	fmt.Fprintln(e.stderr, summary.Render(theme.New(e.stderr)))
	return nil
}

// openSinks opens the CSV output and, when configured, the SQLite mirror.
func openSinks(ctx context.Context, cfg *model.Config, runID string, stdout io.Writer) (export.Sink, string, error) {
	var (
		csvSink     *export.CSVWriter
		destination = cfg.Output
		err         error
	)
	if cfg.Output == export.StdoutPath {
		destination = "stdout"
		csvSink, err = export.NewCSVStream(stdout)
	} else {
		csvSink, err = export.NewCSVWriter(cfg.Output)
	}
	if err != nil {
		return nil, "", err
	}

	if cfg.SQLitePath == "" {
		return csvSink, destination, nil
	}

	db, err := export.OpenSQLite(ctx, cfg.SQLitePath, store.Run{
		ID:        runID,
		JQL:       cfg.JQL,
		FirstStep: cfg.FirstStep,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		_ = csvSink.Abort()
		return nil, "", err
	}

	// The database commits first: the CSV rename cannot be undone.
	return export.Multi{db, csvSink}, destination + ", " + cfg.SQLitePath, nil
}
