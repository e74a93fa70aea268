package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config holds all configurable termctx settings.
type Config struct {
	Capacity    int      `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	PollTimeout Duration `json:"poll_timeout,omitempty" yaml:"poll_timeout,omitempty"`
	MaxBackoff  Duration `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`

	History   HistoryConfig   `json:"history" yaml:"history"`
	Process   ProcessConfig   `json:"process" yaml:"process"`
	Tmux      TmuxConfig      `json:"tmux" yaml:"tmux"`
	Files     FilesConfig     `json:"files" yaml:"files"`
	Resolver  ResolverConfig  `json:"resolver" yaml:"resolver"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`

	IgnorePatterns []string `json:"ignore_patterns,omitempty" yaml:"ignore_patterns,omitempty"`
	DefaultFormat  string   `json:"default_format,omitempty" yaml:"default_format,omitempty"` // "json" | "markdown" | "cbor" | "sqlite"
	Compression    string   `json:"compression,omitempty" yaml:"compression,omitempty"`       // cbor only: "zstd" | "lz4" | "none"
	OutputDir      string   `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	LogLevel       string   `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile        string   `json:"log_file,omitempty" yaml:"log_file,omitempty"` // "-" for stderr
}

type HistoryConfig struct {
	Enabled  *bool         `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Interval Duration      `json:"interval,omitempty" yaml:"interval,omitempty"`
	Files    []HistoryFile `json:"files,omitempty" yaml:"files,omitempty"` // override auto-detect
	// FromStart replays history written before the session started.
	FromStart bool `json:"from_start,omitempty" yaml:"from_start,omitempty"`
}

type HistoryFile struct {
	Path   string `json:"path" yaml:"path"`
	Format string `json:"format" yaml:"format"` // "bash" | "zsh" | "fish" | "hook"
}

type ProcessConfig struct {
	Enabled  *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	EmitAll  bool     `json:"emit_all,omitempty" yaml:"emit_all,omitempty"`
}

type TmuxConfig struct {
	Enabled  *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	MaxLines int      `json:"max_lines,omitempty" yaml:"max_lines,omitempty"`
}

type FilesConfig struct {
	Enabled  *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Roots    []string `json:"roots,omitempty" yaml:"roots,omitempty"` // defaults to the working directory
	Coalesce Duration `json:"coalesce,omitempty" yaml:"coalesce,omitempty"`
	EnvKeys  []string `json:"env_keys,omitempty" yaml:"env_keys,omitempty"`
}

type ResolverConfig struct {
	MaxBytes int64    `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Allow    []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny     []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	// Base64Binary inlines non-text files base64-encoded instead of
	// withholding them.
	Base64Binary bool `json:"base64_binary,omitempty" yaml:"base64_binary,omitempty"`
}

type AnalyticsConfig struct {
	IdleThreshold Duration `json:"idle_threshold,omitempty" yaml:"idle_threshold,omitempty"`
	TopCommands   int      `json:"top_commands,omitempty" yaml:"top_commands,omitempty"`
	ByText        bool     `json:"by_text,omitempty" yaml:"by_text,omitempty"` // rank full command text instead of binaries
}

// Bool returns a pointer to b, for the Enabled fields.
func Bool(b bool) *bool { return &b }

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Capacity:    10000,
		PollTimeout: Duration(5 * time.Second),
		MaxBackoff:  Duration(time.Minute),
		History:     HistoryConfig{Enabled: Bool(true), Interval: Duration(time.Second)},
		Process:     ProcessConfig{Enabled: Bool(true), Interval: Duration(2 * time.Second)},
		Tmux:        TmuxConfig{Enabled: Bool(true), Interval: Duration(3 * time.Second), MaxLines: 200},
		Files: FilesConfig{
			Enabled:  Bool(true),
			Interval: Duration(time.Second),
			Coalesce: Duration(500 * time.Millisecond),
		},
		Resolver: ResolverConfig{
			MaxBytes: 256 << 10,
			Timeout:  Duration(2 * time.Second),
		},
		Analytics: AnalyticsConfig{
			IdleThreshold: Duration(5 * time.Minute),
			TopCommands:   10,
		},
		IgnorePatterns: []string{},
		DefaultFormat:  "json",
		Compression:    "zstd",
		OutputDir:      ".",
		LogLevel:       "info",
	}
}

// GlobalDir returns ~/.config/termctx.
func GlobalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "termctx"), nil
}

// LoadGlobal reads ~/.config/termctx/config.json (or config.yaml).
// Returns defaults if neither file is present.
func LoadGlobal() (*Config, error) {
	dir, err := GlobalDir()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		cfg, err := loadFile(filepath.Join(dir, name), false)
		if err != nil || cfg != nil {
			return cfg, err
		}
	}
	d := Defaults()
	return &d, nil
}

// LoadProject reads .termctxconfig (JSON) or .termctx.yaml in the current
// working directory. Returns nil (no error) if neither file is present.
func LoadProject() (*Config, error) {
	for _, name := range []string{".termctxconfig", ".termctx.yaml", ".termctx.yml"} {
		cfg, err := loadFile(name, false)
		if err != nil || cfg != nil {
			return cfg, err
		}
	}
	return nil, nil
}

// loadFile reads and parses a config file at path. YAML is chosen by
// extension; anything else is JSON, which may carry comments and trailing
// commas. If returnDefaults is true, returns defaults when the file is
// absent. If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	cfg, err := Parse(path, data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse decodes config data, picking YAML or JSON by the extension of name.
func Parse(name string, data []byte) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	if global != nil {
		result = overlay(result, *global)
	}
	if project != nil {
		result = overlay(result, *project)
	}
	return result
}

func pick[T comparable](base, over T) T {
	var zero T
	if over != zero {
		return over
	}
	return base
}

func pickSlice[T any](base, over []T) []T {
	if len(over) > 0 {
		return over
	}
	return base
}

func pickBool(base, over *bool) *bool {
	if over != nil {
		return over
	}
	return base
}

// overlay returns base with every non-zero field of over applied.
func overlay(base, over Config) Config {
	base.Capacity = pick(base.Capacity, over.Capacity)
	base.PollTimeout = pick(base.PollTimeout, over.PollTimeout)
	base.MaxBackoff = pick(base.MaxBackoff, over.MaxBackoff)

	base.History.Enabled = pickBool(base.History.Enabled, over.History.Enabled)
	base.History.Interval = pick(base.History.Interval, over.History.Interval)
	base.History.Files = pickSlice(base.History.Files, over.History.Files)
	base.History.FromStart = base.History.FromStart || over.History.FromStart

	base.Process.Enabled = pickBool(base.Process.Enabled, over.Process.Enabled)
	base.Process.Interval = pick(base.Process.Interval, over.Process.Interval)
	base.Process.Patterns = pickSlice(base.Process.Patterns, over.Process.Patterns)
	base.Process.EmitAll = base.Process.EmitAll || over.Process.EmitAll

	base.Tmux.Enabled = pickBool(base.Tmux.Enabled, over.Tmux.Enabled)
	base.Tmux.Interval = pick(base.Tmux.Interval, over.Tmux.Interval)
	base.Tmux.MaxLines = pick(base.Tmux.MaxLines, over.Tmux.MaxLines)

	base.Files.Enabled = pickBool(base.Files.Enabled, over.Files.Enabled)
	base.Files.Interval = pick(base.Files.Interval, over.Files.Interval)
	base.Files.Roots = pickSlice(base.Files.Roots, over.Files.Roots)
	base.Files.Coalesce = pick(base.Files.Coalesce, over.Files.Coalesce)
	base.Files.EnvKeys = pickSlice(base.Files.EnvKeys, over.Files.EnvKeys)

	base.Resolver.MaxBytes = pick(base.Resolver.MaxBytes, over.Resolver.MaxBytes)
	base.Resolver.Timeout = pick(base.Resolver.Timeout, over.Resolver.Timeout)
	base.Resolver.Allow = pickSlice(base.Resolver.Allow, over.Resolver.Allow)
	base.Resolver.Deny = pickSlice(base.Resolver.Deny, over.Resolver.Deny)
	base.Resolver.Base64Binary = base.Resolver.Base64Binary || over.Resolver.Base64Binary

	base.Analytics.IdleThreshold = pick(base.Analytics.IdleThreshold, over.Analytics.IdleThreshold)
	base.Analytics.TopCommands = pick(base.Analytics.TopCommands, over.Analytics.TopCommands)
	base.Analytics.ByText = base.Analytics.ByText || over.Analytics.ByText

	base.IgnorePatterns = pickSlice(base.IgnorePatterns, over.IgnorePatterns)
	base.DefaultFormat = pick(base.DefaultFormat, over.DefaultFormat)
	base.Compression = pick(base.Compression, over.Compression)
	base.OutputDir = pick(base.OutputDir, over.OutputDir)
	base.LogLevel = pick(base.LogLevel, over.LogLevel)
	base.LogFile = pick(base.LogFile, over.LogFile)
	return base
}

var (
	validFormats      = []string{"json", "markdown", "cbor", "sqlite"}
	validCompressions = []string{"zstd", "lz4", "none"}
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validHistory      = []string{"bash", "zsh", "fish", "hook"}
)

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// Validate reports every invalid field as a *ConfigError, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(field string, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Err: fmt.Errorf(format, args...)})
	}

	if c.Capacity <= 0 {
		bad("capacity", "must be positive, got %d", c.Capacity)
	}
	if c.PollTimeout <= 0 {
		bad("poll_timeout", "must be positive")
	}
	if c.MaxBackoff < 0 {
		bad("max_backoff", "must not be negative")
	}
	for field, d := range map[string]Duration{
		"history.interval": c.History.Interval,
		"process.interval": c.Process.Interval,
		"tmux.interval":    c.Tmux.Interval,
		"files.interval":   c.Files.Interval,
	} {
		if d <= 0 {
			bad(field, "must be positive")
		}
	}
	for i, f := range c.History.Files {
		if f.Path == "" {
			bad(fmt.Sprintf("history.files[%d].path", i), "must not be empty")
		}
		if !oneOf(f.Format, validHistory) {
			bad(fmt.Sprintf("history.files[%d].format", i), "unknown format %q", f.Format)
		}
	}
	for i, p := range c.Process.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			bad(fmt.Sprintf("process.patterns[%d]", i), "%v", err)
		}
	}
	if c.Tmux.MaxLines < 0 {
		bad("tmux.max_lines", "must not be negative")
	}
	if c.Files.Coalesce < 0 {
		bad("files.coalesce", "must not be negative")
	}
	if c.Resolver.MaxBytes <= 0 {
		bad("resolver.max_bytes", "must be positive")
	}
	if c.Resolver.Timeout <= 0 {
		bad("resolver.timeout", "must be positive")
	}
	for i, p := range c.Resolver.Deny {
		if _, err := filepath.Match(p, ""); err != nil {
			bad(fmt.Sprintf("resolver.deny[%d]", i), "%v", err)
		}
	}
	if c.Analytics.IdleThreshold <= 0 {
		bad("analytics.idle_threshold", "must be positive")
	}
	if !oneOf(c.DefaultFormat, validFormats) {
		bad("default_format", "unknown format %q", c.DefaultFormat)
	}
	if !oneOf(c.Compression, validCompressions) {
		bad("compression", "unknown compression %q", c.Compression)
	}
	if !oneOf(c.LogLevel, validLogLevels) {
		bad("log_level", "unknown level %q", c.LogLevel)
	}
	return errors.Join(errs...)
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "invalid " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
