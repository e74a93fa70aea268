package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/shell"
)

// maxHistoryRead bounds how much of one file a single poll consumes. The
// remainder is picked up on the next poll.
const maxHistoryRead = 4 << 20

// HistorySource is one history file to tail.
type HistorySource struct {
	Path   string
	Format HistoryFormat
}

// DefaultHistorySources derives the history file from $SHELL and adds the
// shell plugin's command log.
func DefaultHistorySources() []HistorySource {
	home, _ := os.UserHomeDir()
	var sources []HistorySource
	switch filepath.Base(os.Getenv("SHELL")) {
	case "zsh":
		path := os.Getenv("HISTFILE")
		if path == "" {
			path = filepath.Join(home, ".zsh_history")
		}
		sources = append(sources, HistorySource{Path: path, Format: FormatZsh})
	case "fish":
		sources = append(sources, HistorySource{Path: filepath.Join(home, ".local", "share", "fish", "fish_history"), Format: FormatFish})
	default:
		// Unknown shell: try bash as a best-effort fallback.
		path := os.Getenv("HISTFILE")
		if path == "" {
			path = filepath.Join(home, ".bash_history")
		}
		sources = append(sources, HistorySource{Path: path, Format: FormatBash})
	}
	if logPath, err := shell.CommandLogPath(); err == nil {
		sources = append(sources, HistorySource{Path: logPath, Format: FormatHook})
	}
	return sources
}

// HistoryOptions configures a HistoryWatcher.
type HistoryOptions struct {
	Sources  []HistorySource
	Interval time.Duration
	// FromStart replays history that already existed when the watcher
	// started. By default existing files are seeded at their end.
	FromStart bool
	Logger    *zap.Logger
}

// HistoryWatcher tails shell history files and emits one command event per
// new entry.
type HistoryWatcher struct {
	health
	opts   HistoryOptions
	logger *zap.Logger
	files  []*historyFile
	primed bool
	recent []recentCommand
	now    func() time.Time
}

// dedupWindow is how long a command read from one source suppresses the
// same text arriving from another. With the shell plugin installed both the
// plugin log and the shell's own history file record every command.
const dedupWindow = time.Minute

// maxRecent bounds the commands remembered for deduplication.
const maxRecent = 4096

type recentCommand struct {
	text   string
	source int
	seen   time.Time
}

type historyFile struct {
	src     HistorySource
	offset  int64
	parser  lineParser
	failing bool
}

// staged is what one poll read from a file. It is committed only when the
// whole poll completes.
type staged struct {
	offset  int64
	parser  lineParser
	entries []entry
}

// NewHistoryWatcher returns a watcher over opts.Sources.
func NewHistoryWatcher(opts HistoryOptions) *HistoryWatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &HistoryWatcher{opts: opts, logger: logger.Named("history"), now: time.Now}
	for _, src := range opts.Sources {
		w.files = append(w.files, &historyFile{src: src, parser: newLineParser(src.Format)})
	}
	return w
}

func (w *HistoryWatcher) Name() string            { return "history" }
func (w *HistoryWatcher) Interval() time.Duration { return w.opts.Interval }

// Poll reads the complete lines appended to each file since the last poll.
// A poll cut short by ctx commits nothing, so the next one rereads the same
// lines.
func (w *HistoryWatcher) Poll(ctx context.Context) ([]event.Event, error) {
	seeding := !w.primed && !w.opts.FromStart

	var (
		reads   = make([]*staged, len(w.files))
		failed  []string
		lastErr error
	)
	for i, f := range w.files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("read history: %v: %w", err, ErrTransient)
		}
		st, err := f.read(seeding)
		if err != nil {
			failed = append(failed, f.src.Path)
			lastErr = err
			if !f.failing {
				w.logger.Info("history file unreadable", zap.String("path", f.src.Path), zap.Error(err))
			}
			f.failing = true
			continue
		}
		reads[i] = st
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read history: %v: %w", err, ErrTransient)
	}
	w.primed = true

	now := w.now()
	w.pruneRecent(now)
	var events []event.Event
	for i, st := range reads {
		if st == nil {
			continue
		}
		f := w.files[i]
		f.offset, f.parser, f.failing = st.offset, st.parser, false
		for _, e := range st.entries {
			if isSelfInvocation(e.text) || w.duplicate(i, e.text, now) {
				continue
			}
			events = append(events, event.NewCommand(w.Name(), event.Command{
				Text:        e.text,
				Shell:       string(f.src.Format),
				HistoryFile: f.src.Path,
				RecordedAt:  e.at,
			}))
		}
	}

	switch {
	case len(w.files) == 0 || len(failed) == len(w.files):
		err := fmt.Errorf("no readable history file: %w", ErrSourceUnavailable)
		if lastErr != nil {
			err = fmt.Errorf("no readable history file (last: %v): %w", lastErr, ErrSourceUnavailable)
		}
		w.record(err)
		return events, err
	case len(failed) > 0:
		// The readable files keep the watcher at its normal rate; the rest
		// are named in its status.
		w.set(StateOK, fmt.Errorf("unreadable history file %s (last: %v)", strings.Join(failed, ", "), lastErr))
	default:
		w.record(nil)
	}
	return events, nil
}

// duplicate reports whether text was already read from another source
// within dedupWindow, consuming that match. Otherwise text is remembered.
func (w *HistoryWatcher) duplicate(source int, text string, now time.Time) bool {
	if len(w.files) < 2 {
		return false
	}
	if i := slices.IndexFunc(w.recent, func(r recentCommand) bool {
		return r.source != source && r.text == text
	}); i >= 0 {
		w.recent = slices.Delete(w.recent, i, i+1)
		return true
	}
	w.recent = append(w.recent, recentCommand{text: text, source: source, seen: now})
	if len(w.recent) > maxRecent {
		w.recent = slices.Delete(w.recent, 0, len(w.recent)-maxRecent)
	}
	return false
}

func (w *HistoryWatcher) pruneRecent(now time.Time) {
	cutoff := now.Add(-dedupWindow)
	i := slices.IndexFunc(w.recent, func(r recentCommand) bool { return r.seen.After(cutoff) })
	if i < 0 {
		i = len(w.recent)
	}
	w.recent = slices.Delete(w.recent, 0, i)
}

// read stages the complete lines appended to the file since the committed
// offset. When seed is true the staged offset is the current end and
// nothing is returned.
func (f *historyFile) read(seed bool) (*staged, error) {
	fh, err := os.Open(f.src.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// A file that disappears and comes back is read from the start.
			f.offset = 0
			f.parser.reset()
		}
		return nil, err
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	st := &staged{offset: f.offset, parser: f.parser.clone()}
	if seed {
		st.offset = size
		return st, nil
	}
	if size < st.offset {
		// Truncated or replaced: rotation.
		st.offset = 0
		st.parser.reset()
	}
	if size == st.offset {
		return st, nil
	}

	n := size - st.offset
	if n > maxHistoryRead {
		n = maxHistoryRead
	}
	buf := make([]byte, n)
	read, err := fh.ReadAt(buf, st.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:read]

	// Only complete lines are consumed; a partial tail waits for the next poll.
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		return st, nil
	}
	st.offset += int64(last + 1)

	for _, line := range strings.Split(string(buf[:last]), "\n") {
		st.entries = append(st.entries, st.parser.feed(strings.TrimSuffix(line, "\r"))...)
	}
	return st, nil
}

// isSelfInvocation reports whether a command is a termctx invocation, which
// is bookkeeping and never part of the session context.
func isSelfInvocation(raw string) bool {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return false
	}
	return filepath.Base(fields[0]) == "termctx"
}
