package profile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	assert.False(t, Exists())
	_, err := Load()
	assert.ErrorContains(t, err, "termctx setup")

	want := &Profile{Name: "Ada", DefaultFormat: "cbor", OutputDir: "/tmp/out", RecordCommands: true, ShellPluginShell: "bash"}
	require.NoError(t, Save(want))
	assert.True(t, Exists())

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRunSetupAnswers(t *testing.T) {
	in := strings.NewReader("Ada\nmd\n/tmp/exports\ny\nbash\n")
	var out bytes.Buffer

	prof, err := RunSetup(in, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, &Profile{
		Name:             "Ada",
		DefaultFormat:    "markdown",
		OutputDir:        "/tmp/exports",
		RecordCommands:   true,
		ShellPluginShell: "bash",
	}, prof)
	assert.Contains(t, out.String(), "Your name")
}

func TestRunSetupKeepsDefaults(t *testing.T) {
	existing := &Profile{Name: "Ada", DefaultFormat: "sqlite", OutputDir: "out", RecordCommands: true, ShellPluginShell: "zsh"}
	prof, err := RunSetup(strings.NewReader("\n\n\n\n\n"), &bytes.Buffer{}, existing)
	require.NoError(t, err)
	assert.Equal(t, existing, prof)
}

func TestRunSetupRejectsUnknownValues(t *testing.T) {
	var out bytes.Buffer
	prof, err := RunSetup(strings.NewReader("Ada\nyaml\n.\nyes\nfish\n"), &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "json", prof.DefaultFormat)
	assert.True(t, prof.RecordCommands)
	assert.Empty(t, prof.ShellPluginShell)
	assert.Contains(t, out.String(), `unsupported shell "fish"`)
}

func TestRunSetupDeclineHook(t *testing.T) {
	prof, err := RunSetup(strings.NewReader("Ada\njson\n.\nn\n"), &bytes.Buffer{}, &Profile{ShellPluginShell: "zsh"})
	require.NoError(t, err)
	assert.False(t, prof.RecordCommands)
	assert.Empty(t, prof.ShellPluginShell)
}

func TestRunSetupEOF(t *testing.T) {
	_, err := RunSetup(strings.NewReader(""), &bytes.Buffer{}, nil)
	assert.Error(t, err)
}
