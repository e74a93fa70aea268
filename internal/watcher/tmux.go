package watcher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/fakeyudi/termctx/internal/event"
)

// ErrNoServer means the multiplexer is installed but no server is running.
var ErrNoServer = errors.New("no multiplexer server running")

// Multiplexer is a terminal multiplexer whose panes can be captured.
type Multiplexer interface {
	Name() string
	// Available reports whether the multiplexer can be queried right now.
	Available(ctx context.Context) bool
	// ActivePane returns the identifier of the pane to capture.
	ActivePane(ctx context.Context) (string, error)
	// CapturePane returns the visible text plus up to lines of scrollback.
	CapturePane(ctx context.Context, pane string, lines int) (string, error)
}

// Runner executes a tmux subcommand and returns its output.
type Runner func(ctx context.Context, args ...string) (string, error)

// execTmux runs the tmux binary. "no server running" and socket errors map
// to ErrNoServer.
func execTmux(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		out := strings.TrimSpace(string(output))
		if strings.Contains(out, "no server running") || strings.Contains(out, "error connecting to") {
			return "", ErrNoServer
		}
		return "", fmt.Errorf("tmux %s: %w (%s)", strings.Join(args, " "), err, out)
	}
	return string(output), nil
}

// Tmux drives tmux through its command line.
type Tmux struct {
	Run      Runner
	LookPath func(file string) (string, error)
}

// NewTmux returns a Tmux that invokes the real binary.
func NewTmux() *Tmux {
	return &Tmux{Run: execTmux, LookPath: exec.LookPath}
}

func (t *Tmux) Name() string { return "tmux" }

func (t *Tmux) Available(ctx context.Context) bool {
	if _, err := t.LookPath("tmux"); err != nil {
		return false
	}
	_, err := t.Run(ctx, "list-sessions", "-F", "#{session_name}")
	return err == nil
}

// ActivePane prefers the pane this process runs in, then the active pane
// of the most recently attached session.
func (t *Tmux) ActivePane(ctx context.Context) (string, error) {
	if pane := os.Getenv("TMUX_PANE"); pane != "" {
		return pane, nil
	}
	out, err := t.Run(ctx, "list-panes", "-a", "-F", "#{session_last_attached} #{window_active}#{pane_active} #{pane_id}")
	if err != nil {
		return "", err
	}
	var (
		best     string
		bestSeen int64 = -1
	)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[1] != "11" {
			continue
		}
		seen, _ := strconv.ParseInt(fields[0], 10, 64)
		if seen > bestSeen {
			best, bestSeen = fields[2], seen
		}
	}
	if best == "" {
		return "", fmt.Errorf("tmux: no active pane")
	}
	return best, nil
}

func (t *Tmux) CapturePane(ctx context.Context, pane string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-J", "-t", pane}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	out, err := t.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return tailLines(strings.TrimRight(out, "\n "), lines), nil
}

// tailLines keeps the last n lines of s. n <= 0 keeps everything.
func tailLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// CaptureOptions configures a CaptureWatcher.
type CaptureOptions struct {
	Interval time.Duration
	MaxLines int
	Mux      Multiplexer
	Logger   *zap.Logger
}

// CaptureWatcher snapshots the active multiplexer pane and emits an event
// only when its content changed.
type CaptureWatcher struct {
	health
	opts   CaptureOptions
	mux    Multiplexer
	logger *zap.Logger
	last   map[string]string // pane id -> digest
}

// NewCaptureWatcher returns a watcher over opts.Mux (tmux by default).
func NewCaptureWatcher(opts CaptureOptions) *CaptureWatcher {
	w := &CaptureWatcher{opts: opts, mux: opts.Mux, logger: opts.Logger, last: make(map[string]string)}
	if w.mux == nil {
		w.mux = NewTmux()
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.Named(w.mux.Name())
	return w
}

func (w *CaptureWatcher) Name() string            { return w.mux.Name() }
func (w *CaptureWatcher) Interval() time.Duration { return w.opts.Interval }

// Poll captures the active pane. An absent multiplexer yields no events
// and no error.
func (w *CaptureWatcher) Poll(ctx context.Context) ([]event.Event, error) {
	if !w.mux.Available(ctx) {
		w.markInert()
		return nil, nil
	}

	pane, err := w.mux.ActivePane(ctx)
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			w.markInert()
			return nil, nil
		}
		return nil, fmt.Errorf("%v: %w", err, ErrTransient)
	}
	text, err := w.mux.CapturePane(ctx, pane, w.opts.MaxLines)
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			w.markInert()
			return nil, nil
		}
		return nil, fmt.Errorf("%v: %w", err, ErrTransient)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrTransient)
	}

	sum := blake3.Sum256([]byte(text))
	digest := hex.EncodeToString(sum[:])
	w.record(nil)
	if w.last[pane] == digest {
		return nil, nil
	}
	w.last[pane] = digest
	return []event.Event{event.NewPane(w.Name(), event.Pane{PaneID: pane, Text: text, Digest: digest})}, nil
}
