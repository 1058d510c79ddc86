package model

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the
// environment (e.g., JIRA_TRANSITIONS_SERVER).
const EnvPrefix = "JIRA_TRANSITIONS"

// Defaults applied when neither flag, environment nor config file set a key.
const (
	DefaultPageSize    = 100
	DefaultStatusField = "status"
	DefaultOutput      = "transitions.csv"
	DefaultTimeout     = 30 * time.Second
	DefaultLogLevel    = "info"
)

// Config is the resolved configuration for one export run.
type Config struct {
	// Server is the root URL of the Jira instance.
	Server string `mapstructure:"server" yaml:"server"`

	// Username is the account used for Basic authentication.
	Username string `mapstructure:"username" yaml:"username"`

	// JQL selects the issues to export.
	JQL string `mapstructure:"jql" yaml:"jql"`

	// FirstStep is the name of the workflow's initial status.
	FirstStep string `mapstructure:"first-step" yaml:"first-step"`

	// CAPath optionally points at a PEM file with extra trusted roots.
	CAPath string `mapstructure:"ca-path" yaml:"ca-path"`

	// Output is the CSV destination; "-" means standard output.
	Output string `mapstructure:"output" yaml:"output"`

	// SQLitePath, when set, also writes the rows to a SQLite database.
	SQLitePath string `mapstructure:"sqlite" yaml:"sqlite"`

	PageSize       int           `mapstructure:"page-size" yaml:"page-size"`
	StatusField    string        `mapstructure:"status-field" yaml:"status-field"`
	CheckFirstStep bool          `mapstructure:"check-first-step" yaml:"check-first-step"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SaveToken      bool          `mapstructure:"save-token" yaml:"save-token"`

	LogLevel string `mapstructure:"log-level" yaml:"log-level"`
	LogFile  string `mapstructure:"log-file" yaml:"log-file"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/jira-transitions/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "jira-transitions", "config.yaml")
}

// NewViper returns a Viper instance with defaults, environment lookup and
// the given command-line flags bound. Flags take precedence over the
// environment, which takes precedence over the config file.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("output", DefaultOutput)
	v.SetDefault("page-size", DefaultPageSize)
	v.SetDefault("status-field", DefaultStatusField)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("log-level", DefaultLogLevel)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}
	return v, nil
}

// LoadConfig reads the optional YAML config file at path into v and
// unmarshals the merged settings. An empty path falls back to
// DefaultConfigPath, which may be absent; an explicit path must exist.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if !missing || explicit {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize trims user input and restores defaults for zero values.
func (c *Config) normalize() {
	c.Server = strings.TrimRight(strings.TrimSpace(c.Server), "/")
	c.Username = strings.TrimSpace(c.Username)
	c.JQL = strings.TrimSpace(c.JQL)
	c.FirstStep = strings.TrimSpace(c.FirstStep)
	c.CAPath = strings.TrimSpace(c.CAPath)

	if c.PageSize < 1 {
		c.PageSize = DefaultPageSize
	}
	if c.StatusField == "" {
		c.StatusField = DefaultStatusField
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate reports every missing or invalid required setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server == "" {
		errs = append(errs, errors.New("--server is required"))
	} else if u, err := url.Parse(c.Server); err != nil ||
		(u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("--server %q is not an http(s) URL", c.Server))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("--username is required"))
	}
	if c.JQL == "" {
		errs = append(errs, errors.New("--jql is required"))
	}
	if c.FirstStep == "" {
		errs = append(errs, errors.New("--first-step is required"))
	}
	if c.CAPath != "" {
		if _, err := os.Stat(c.CAPath); err != nil {
			errs = append(errs, fmt.Errorf("--ca-path: %w", err))
		}
	}

	return errors.Join(errs...)
}
