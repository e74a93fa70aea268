// Package shell installs the shell hooks that feed commands to termctx.
package shell

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Shells lists the shells a hook can be installed for.
var Shells = []string{"bash", "zsh"}

// PluginPath returns the path where the plugin file for shell is written.
func PluginPath(shell string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "termctx", "termctx.plugin."+shell), nil
}

// Plugin returns the plugin source for shell.
func Plugin(shell string) (string, error) {
	switch shell {
	case "zsh":
		return ZshPlugin, nil
	case "bash":
		return BashPlugin, nil
	}
	return "", fmt.Errorf("unsupported shell for plugin: %s (supported: zsh, bash)", shell)
}

// Install writes the plugin file for shell and prints to out the line the
// user needs to add to their rc file.
func Install(shell string, out io.Writer) (string, error) {
	content, err := Plugin(shell)
	if err != nil {
		return "", err
	}
	path, err := PluginPath(shell)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing plugin file: %w", err)
	}

	rcFile := rcFileName(shell)
	fmt.Fprintf(out, "\n  ✓ Plugin written to %s\n", path)
	fmt.Fprintf(out, "\n  Add this line to your %s:\n", rcFile)
	fmt.Fprintf(out, "    source %s\n", path)
	fmt.Fprintf(out, "\n  Then reload: source %s\n\n", rcFile)
	return path, nil
}

// IsInstalled reports whether the plugin file exists on disk.
func IsInstalled(shell string) bool {
	path, err := PluginPath(shell)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func rcFileName(shell string) string {
	switch shell {
	case "zsh":
		return "~/.zshrc"
	case "bash":
		return "~/.bashrc"
	default:
		return "~/." + shell + "rc"
	}
}
