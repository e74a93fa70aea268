package watcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/termctx/internal/event"
)

// scriptedTmux answers tmux subcommands from a map keyed by the subcommand.
type scriptedTmux struct {
	capture []string
	calls   int
	noSrv   bool
}

func (s *scriptedTmux) run(ctx context.Context, args ...string) (string, error) {
	if s.noSrv {
		return "", ErrNoServer
	}
	switch args[0] {
	case "list-sessions":
		return "main\n", nil
	case "list-panes":
		return "1700000000 10 %0\n1700000500 11 %3\n1600000000 11 %9\n", nil
	case "capture-pane":
		out := s.capture[s.calls]
		if s.calls < len(s.capture)-1 {
			s.calls++
		}
		return out, nil
	}
	return "", errors.New("unexpected " + strings.Join(args, " "))
}

func TestCaptureEmitsOnlyOnChange(t *testing.T) {
	t.Setenv("TMUX_PANE", "")
	script := &scriptedTmux{capture: []string{"$ ls\nfoo\n", "$ ls\nfoo\n", "$ ls\nfoo\n$ make\n"}}
	mux := &Tmux{Run: script.run, LookPath: func(string) (string, error) { return "/usr/bin/tmux", nil }}
	w := NewCaptureWatcher(CaptureOptions{Mux: mux, MaxLines: 100})
	ctx := context.Background()

	events, err := w.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindTmuxContent, events[0].Kind)
	assert.Equal(t, "%3", events[0].Pane.PaneID)
	assert.Equal(t, "$ ls\nfoo", events[0].Pane.Text)
	assert.Len(t, events[0].Pane.Digest, 64)

	events, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = w.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Pane.Text, "$ make")
}

func TestCaptureInertWithoutTmux(t *testing.T) {
	t.Run("binary missing", func(t *testing.T) {
		mux := &Tmux{
			Run:      func(context.Context, ...string) (string, error) { t.Fatal("tmux must not run"); return "", nil },
			LookPath: func(string) (string, error) { return "", errors.New("not found") },
		}
		w := NewCaptureWatcher(CaptureOptions{Mux: mux})
		events, err := w.Poll(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, events)
		assert.Equal(t, StateInert, w.Status().State)
	})

	t.Run("no server", func(t *testing.T) {
		script := &scriptedTmux{noSrv: true}
		mux := &Tmux{Run: script.run, LookPath: func(string) (string, error) { return "/usr/bin/tmux", nil }}
		w := NewCaptureWatcher(CaptureOptions{Mux: mux})
		events, err := w.Poll(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, events)
		assert.Equal(t, StateInert, w.Status().State)
	})
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "c\nd", tailLines("a\nb\nc\nd", 2))
	assert.Equal(t, "a\nb", tailLines("a\nb", 5))
	assert.Equal(t, "a\nb", tailLines("a\nb", 0))
}
