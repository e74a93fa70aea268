// Package profile manages the user's persistent termctx profile.
// The profile is stored at ~/.config/termctx/profile.json and is created
// once via the interactive setup flow, then referenced on every command.
package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fakeyudi/termctx/internal/config"
	"github.com/fakeyudi/termctx/internal/export"
	"github.com/fakeyudi/termctx/internal/session"
	"github.com/fakeyudi/termctx/internal/shell"
)

// Profile holds user-level preferences set during first-run setup.
type Profile struct {
	Name             string `json:"name"`
	DefaultFormat    string `json:"default_format"`     // "json" | "markdown" | "cbor" | "sqlite"
	RecordCommands   bool   `json:"record_commands"`    // install shell hook
	OutputDir        string `json:"output_dir"`         // default export dir
	ShellPluginShell string `json:"shell_plugin_shell"` // "zsh" | "bash" | ""
}

func profilePath() (string, error) {
	dir, err := config.GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := profilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk. Returns an error if the file is missing or malformed.
func Load() (*Profile, error) {
	p, err := profilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("profile not found, run 'termctx setup' to configure: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	return &prof, nil
}

// Save writes the profile to disk, creating the config directory if needed.
func Save(prof *Profile) error {
	p, err := profilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	return session.WriteFileAtomic(p, data, 0o644)
}

// RunSetup runs the interactive setup wizard, reading answers from in and
// writing prompts to out. If existing is non-nil, it is used as the default
// for each prompt (edit mode). The profile is returned, not saved.
func RunSetup(in io.Reader, out io.Writer, existing *Profile) (*Profile, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	askBool := func(prompt string, defaultVal bool) (bool, error) {
		def := "n"
		if defaultVal {
			def = "y"
		}
		ans, err := ask(prompt+" (y/n)", def)
		if err != nil {
			return false, err
		}
		ans = strings.ToLower(ans)
		return ans == "y" || ans == "yes", nil
	}

	prof := &Profile{
		DefaultFormat:  string(export.FormatJSON),
		OutputDir:      ".",
		RecordCommands: true,
	}
	if existing != nil {
		*prof = *existing
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │   termctx — first-time setup    │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error

	prof.Name, err = ask("  Your name (shown in exports)", prof.Name)
	if err != nil {
		return nil, err
	}

	format, err := ask("  Default export format (json/markdown/cbor/sqlite)", prof.DefaultFormat)
	if err != nil {
		return nil, err
	}
	if f, err := export.ParseFormat(format); err == nil {
		prof.DefaultFormat = string(f)
	} else {
		fmt.Fprintf(out, "  unknown format %q, using json\n", format)
		prof.DefaultFormat = string(export.FormatJSON)
	}

	prof.OutputDir, err = ask("  Default output directory", prof.OutputDir)
	if err != nil {
		return nil, err
	}

	prof.RecordCommands, err = askBool("  Record terminal commands via shell hook", prof.RecordCommands)
	if err != nil {
		return nil, err
	}

	if prof.RecordCommands {
		def := prof.ShellPluginShell
		if def == "" {
			def = detectShell()
		}
		sh, err := ask("  Shell (zsh/bash)", def)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(shell.Shells, sh) {
			fmt.Fprintf(out, "  unsupported shell %q, skipping the hook\n", sh)
			sh = ""
		}
		prof.ShellPluginShell = sh
	} else {
		prof.ShellPluginShell = ""
	}

	fmt.Fprintln(out)
	return prof, nil
}

// detectShell returns the base name of the current shell.
func detectShell() string {
	sh := filepath.Base(os.Getenv("SHELL"))
	if slices.Contains(shell.Shells, sh) {
		return sh
	}
	return "zsh"
}
