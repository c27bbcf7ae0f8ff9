// Package config loads paramcmd configuration from YAML or TOML files with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/jdziat/simple-param-commands/pkg/schedule"
	"github.com/jdziat/simple-param-commands/pkg/security"
	"github.com/jdziat/simple-param-commands/pkg/tokenize"
)

// Environment variables that override file settings.
const (
	EnvDatabase = "PARAMCMD_DATABASE"
	EnvDriver   = "PARAMCMD_DRIVER"
	EnvLogLevel = "PARAMCMD_LOG_LEVEL"
)

// ErrUnknownFormat is returned for config files that are neither YAML nor TOML.
var ErrUnknownFormat = errors.New("config: unknown file format")

// Config is the paramcmd configuration.
type Config struct {
	Database  Database   `yaml:"database" toml:"database"`
	Log       Log        `yaml:"log" toml:"log"`
	Worker    Worker     `yaml:"worker" toml:"worker"`
	Metrics   Metrics    `yaml:"metrics" toml:"metrics"`
	Schedules []Schedule `yaml:"schedules" toml:"schedules"`
}

type Database struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text or json
}

type Worker struct {
	Queues       []string `yaml:"queues" toml:"queues"`
	Concurrency  int      `yaml:"concurrency" toml:"concurrency"`
	PollInterval string   `yaml:"pollInterval" toml:"poll_interval"`
	StaleLockAge string   `yaml:"staleLockAge" toml:"stale_lock_age"`
}

type Metrics struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Schedule runs a command line on a recurring schedule.
type Schedule struct {
	Spec   string `yaml:"spec" toml:"spec"` // "@every 5m", "@daily" or a cron expression
	Line   string `yaml:"line" toml:"line"`
	Queue  string `yaml:"queue" toml:"queue"`
	Unique bool   `yaml:"unique" toml:"unique"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: Database{Driver: "sqlite", DSN: "paramcmd.db"},
		Log:      Log{Level: "info", Format: "text"},
		Worker: Worker{
			Queues:       []string{"default"},
			Concurrency:  4,
			PollInterval: "500ms",
			StaleLockAge: "10m",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(data, formatOf(path), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	ApplyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in format ("yaml" or "toml") over the defaults.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}

func decode(data []byte, format string, cfg *Config) error {
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ApplyEnvOverrides replaces settings with non-empty environment values.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDatabase)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDriver)); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks every setting and schedule.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unsupported log format %q", c.Log.Format)
	}
	for _, q := range c.Worker.Queues {
		if err := security.ValidateQueueName(q); err != nil {
			return fmt.Errorf("config: worker queue %q: %w", q, err)
		}
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.StaleLockAge(); err != nil {
		return err
	}
	for i, s := range c.Schedules {
		if _, err := schedule.ParseSpec(s.Spec); err != nil {
			return fmt.Errorf("config: schedule %d: %w", i, err)
		}
		if _, _, err := tokenize.Command(s.Line); err != nil {
			return fmt.Errorf("config: schedule %d: %w", i, err)
		}
	}
	return nil
}

// LogLevel parses the configured level name.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// NewLogger builds the configured slog logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// PollInterval returns the worker poll interval; zero when unset.
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration("worker.pollInterval", c.Worker.PollInterval)
}

// StaleLockAge returns the stale lock age; zero disables the sweep.
func (c *Config) StaleLockAge() (time.Duration, error) {
	return parseDuration("worker.staleLockAge", c.Worker.StaleLockAge)
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", field)
	}
	return d, nil
}
