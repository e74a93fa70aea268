package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fakeyudi/termctx/internal/session"
)

// CommandLogPath returns the path of the log the shell plugins append to.
// Format per line: <epoch>\t<command>
func CommandLogPath() (string, error) {
	dir, err := session.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "commands.log"), nil
}

// AppendCommand adds one entry to the command log. Embedded newlines are
// flattened so the entry stays on one line.
func AppendCommand(text string, at time.Time) error {
	text = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\t", " ").Replace(text))
	if text == "" {
		return fmt.Errorf("empty command")
	}
	path, err := CommandLogPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\t%s\n", at.Unix(), text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// TruncateCommandLog empties the command log. A missing log is not an error.
func TruncateCommandLog() error {
	path, err := CommandLogPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.WriteFile(path, nil, 0o644)
}
