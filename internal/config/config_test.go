package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Feature: termctx, Property 5: Config merge precedence
func TestConfigMergePrecedence(t *testing.T) {
	nonEmptyString := rapid.StringMatching(`[a-zA-Z0-9/_.-]{1,20}`)

	configGen := rapid.Custom(func(t *rapid.T) *Config {
		// Each field is independently either empty or a non-empty value.
		cfg := &Config{}
		if rapid.Bool().Draw(t, "hasDefaultFormat") {
			cfg.DefaultFormat = nonEmptyString.Draw(t, "defaultFormat")
		}
		if rapid.Bool().Draw(t, "hasOutputDir") {
			cfg.OutputDir = nonEmptyString.Draw(t, "outputDir")
		}
		if rapid.Bool().Draw(t, "hasLogLevel") {
			cfg.LogLevel = nonEmptyString.Draw(t, "logLevel")
		}
		if rapid.Bool().Draw(t, "hasCapacity") {
			cfg.Capacity = rapid.IntRange(1, 1<<20).Draw(t, "capacity")
		}
		if rapid.Bool().Draw(t, "hasTmuxEnabled") {
			cfg.Tmux.Enabled = Bool(rapid.Bool().Draw(t, "tmuxEnabled"))
		}
		return cfg
	})

	rapid.Check(t, func(t *rapid.T) {
		global := configGen.Draw(t, "global")
		project := configGen.Draw(t, "project")

		merged := Merge(global, project)
		defaults := Defaults()

		checkField(t, "DefaultFormat", global.DefaultFormat, project.DefaultFormat, defaults.DefaultFormat, merged.DefaultFormat)
		checkField(t, "OutputDir", global.OutputDir, project.OutputDir, defaults.OutputDir, merged.OutputDir)
		checkField(t, "LogLevel", global.LogLevel, project.LogLevel, defaults.LogLevel, merged.LogLevel)
		checkField(t, "Capacity", global.Capacity, project.Capacity, defaults.Capacity, merged.Capacity)

		want := *defaults.Tmux.Enabled
		if global.Tmux.Enabled != nil {
			want = *global.Tmux.Enabled
		}
		if project.Tmux.Enabled != nil {
			want = *project.Tmux.Enabled
		}
		if *merged.Tmux.Enabled != want {
			t.Fatalf("Tmux.Enabled: want %v, got %v", want, *merged.Tmux.Enabled)
		}
	})
}

// checkField asserts the merge precedence rule for a single field:
//   - project non-zero → merged == project
//   - project zero, global non-zero → merged == global
//   - both zero → merged == defaultVal
func checkField[T comparable](t *rapid.T, name string, globalVal, projectVal, defaultVal, mergedVal T) {
	t.Helper()
	var zero T
	switch {
	case projectVal != zero:
		if mergedVal != projectVal {
			t.Fatalf("%s: both set, expected project value %v, got %v", name, projectVal, mergedVal)
		}
	case globalVal != zero:
		if mergedVal != globalVal {
			t.Fatalf("%s: only global set, expected global value %v, got %v", name, globalVal, mergedVal)
		}
	default:
		if mergedVal != defaultVal {
			t.Fatalf("%s: neither set, expected default %v, got %v", name, defaultVal, mergedVal)
		}
	}
}

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	assert.Equal(t, 10000, d.Capacity)
	assert.Equal(t, "json", d.DefaultFormat)
	assert.Equal(t, ".", d.OutputDir)
	assert.NotNil(t, d.IgnorePatterns)
	assert.Empty(t, d.IgnorePatterns)
}

func TestValidateReportsEveryField(t *testing.T) {
	c := Defaults()
	c.Capacity = -1
	c.Process.Patterns = []string{"("}
	c.DefaultFormat = "xml"
	c.History.Files = []HistoryFile{{Path: "/h", Format: "tcsh"}}

	err := c.Validate()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	for _, field := range []string{"capacity", "process.patterns[0]", "default_format", "history.files[0].format"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestParseJSONWithComments(t *testing.T) {
	data := []byte(`{
		// ring size
		"capacity": 500,
		"poll_timeout": "750ms",
		"tmux": {"enabled": false, "max_lines": 50},
		"resolver": {"deny": ["*.key"],},
	}`)
	cfg, err := Parse(".termctxconfig", data)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Capacity)
	assert.Equal(t, 750*time.Millisecond, cfg.PollTimeout.D())
	require.NotNil(t, cfg.Tmux.Enabled)
	assert.False(t, *cfg.Tmux.Enabled)
	assert.Equal(t, 50, cfg.Tmux.MaxLines)
	assert.Equal(t, []string{"*.key"}, cfg.Resolver.Deny)
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
capacity: 2000
history:
  interval: 2s
  files:
    - path: /tmp/h
      format: zsh
files:
  coalesce: 1
analytics:
  idle_threshold: 10m
`)
	cfg, err := Parse("config.yaml", data)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Capacity)
	assert.Equal(t, 2*time.Second, cfg.History.Interval.D())
	assert.Equal(t, []HistoryFile{{Path: "/tmp/h", Format: "zsh"}}, cfg.History.Files)
	assert.Equal(t, time.Second, cfg.Files.Coalesce.D())
	assert.Equal(t, 10*time.Minute, cfg.Analytics.IdleThreshold.D())
}

func TestLoadGlobalMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadGlobal()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	defaults := Defaults()
	assert.Equal(t, defaults.DefaultFormat, cfg.DefaultFormat)
	assert.Equal(t, defaults.OutputDir, cfg.OutputDir)
}

func TestLoadGlobalYAML(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	dir := filepath.Join(tmp, ".config", "termctx")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("default_format: markdown\n"), 0o644))

	cfg, err := LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, "markdown", cfg.DefaultFormat)
}

func TestLoadProjectMissingFileReturnsNil(t *testing.T) {
	tmp := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(orig) })

	cfg, err := LoadProject()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestLoadGlobalParseError(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfgDir := filepath.Join(tmp, ".config", "termctx")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{invalid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadGlobal()
	if err == nil {
		t.Fatal("expected an error for invalid JSON, got nil")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected *ParseError, got %T: %v", err, err)
	}
}
