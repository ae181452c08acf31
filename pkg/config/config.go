// Package config resolves logit runtime paths and settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvOutDir       = "LOGIT_OUT_DIR"
	EnvDBDriver     = "LOGIT_DB_DRIVER"
	EnvDBDSN        = "LOGIT_DB_DSN"
	EnvBatchSize    = "LOGIT_BATCH_SIZE"
	EnvLogLevel     = "LOGIT_LOG_LEVEL"
	EnvOTLPEndpoint = "LOGIT_OTLP_ENDPOINT"
)

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	// DSN defaults to <out_dir>/mart.sqlite for the sqlite driver.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// Config holds logit settings.
type Config struct {
	OutDir    string          `yaml:"out_dir,omitempty" json:"out_dir,omitempty"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	BatchSize int             `yaml:"batch_size" json:"batch_size"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database:  DatabaseConfig{Driver: "sqlite"},
		BatchSize: 500,
		LogLevel:  "INFO",
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvOutDir); v != "" {
		c.OutDir = v
	}
	if v := getenv(EnvDBDriver); v != "" {
		c.Database.Driver = v
	}
	if v := getenv(EnvDBDSN); v != "" {
		c.Database.DSN = v
	}
	if v := getenv(EnvBatchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q: must be a positive integer", EnvBatchSize, v)
		}
		c.BatchSize = n
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// DatabaseDSN returns the configured DSN, or the default mart path under
// outDir for sqlite.
func (c *Config) DatabaseDSN(outDir string) string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	if c.Database.Driver == "" || c.Database.Driver == "sqlite" {
		return filepath.Join(outDir, "mart.sqlite")
	}
	return ""
}

// RuntimePaths are the resolved directories a command works in.
type RuntimePaths struct {
	HomeDir string `json:"home_dir"`
	CWD     string `json:"cwd"`
	OutDir  string `json:"out_dir"`
}

// EventsPath is the normalized events artifact under OutDir.
func (p RuntimePaths) EventsPath() string {
	return filepath.Join(p.OutDir, "events.jsonl")
}

var errTildeUser = errors.New("unsupported home expansion syntax (only `~` and `~/...` are supported)")

// ResolveRuntimePaths validates home and cwd and resolves the output
// directory. outOverride may be relative to cwd or start with "~".
func ResolveRuntimePaths(home, cwd, outOverride string) (RuntimePaths, error) {
	if !filepath.IsAbs(home) {
		return RuntimePaths{}, fmt.Errorf("home_dir must be absolute: %s", home)
	}
	if !filepath.IsAbs(cwd) {
		return RuntimePaths{}, fmt.Errorf("cwd must be absolute: %s", cwd)
	}
	paths := RuntimePaths{HomeDir: filepath.Clean(home), CWD: filepath.Clean(cwd)}
	if outOverride == "" {
		paths.OutDir = filepath.Join(paths.HomeDir, ".logit", "output")
		return paths, nil
	}
	out, err := ResolveUserPath(outOverride, paths.HomeDir, paths.CWD)
	if err != nil {
		return RuntimePaths{}, err
	}
	paths.OutDir = out
	return paths, nil
}

// ResolveUserPath expands a leading "~" against home and anchors relative
// paths at cwd.
func ResolveUserPath(path, home, cwd string) (string, error) {
	first, rest, _ := strings.Cut(filepath.ToSlash(path), "/")
	switch {
	case first == "~":
		path = filepath.Join(home, rest)
	case strings.HasPrefix(first, "~"):
		return "", fmt.Errorf("%w: %s", errTildeUser, path)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	return filepath.Clean(path), nil
}
