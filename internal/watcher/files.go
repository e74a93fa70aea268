package watcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fakeyudi/termctx/internal/config"
	"github.com/fakeyudi/termctx/internal/event"
)

// DefaultIgnorePatterns are always excluded from file-system watching.
var DefaultIgnorePatterns = []string{".git", ".hg", ".svn", "node_modules", ".DS_Store", "*.swp", "*~", "4913"}

// FileOptions configures a FileWatcher.
type FileOptions struct {
	Roots    []string
	Ignore   []string
	Interval time.Duration
	// Coalesce is how long a path must stay quiet before its change is
	// reported. Bursts of writes within the window become one event.
	Coalesce time.Duration
	// Env, when set, is polled alongside the file system for working
	// directory and environment changes of the observed shell.
	Env    EnvProbe
	Logger *zap.Logger
	// Now is the clock used for coalescing. Defaults to time.Now.
	Now func() time.Time
}

// FileWatcher reports file-system changes under a set of roots.
type FileWatcher struct {
	health
	opts     FileOptions
	roots    []string
	patterns []string
	logger   *zap.Logger
	now      func() time.Time

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pendingChange

	env     map[string]string
	envSeen bool
}

type pendingChange struct {
	first event.FileOp
	op    event.FileOp
	last  time.Time
}

// NewFileWatcher validates the roots. A root that does not exist or is not
// a directory is a configuration error.
func NewFileWatcher(opts FileOptions) (*FileWatcher, error) {
	w := &FileWatcher{
		opts:    opts,
		logger:  opts.Logger,
		now:     opts.Now,
		pending: make(map[string]*pendingChange),
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.Named("files")
	if w.now == nil {
		w.now = time.Now
	}

	var errs []error
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			errs = append(errs, &config.ConfigError{Field: "files.roots", Err: err})
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			errs = append(errs, &config.ConfigError{Field: "files.roots", Err: err})
			continue
		}
		if !info.IsDir() {
			errs = append(errs, &config.ConfigError{Field: "files.roots", Err: fmt.Errorf("%s is not a directory", abs)})
			continue
		}
		w.roots = append(w.roots, abs)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	w.patterns = append(slices.Clone(DefaultIgnorePatterns), opts.Ignore...)
	for _, root := range w.roots {
		extra, err := loadIgnoreFiles(root)
		if err != nil {
			w.logger.Warn("failed to load ignore patterns", zap.String("root", root), zap.Error(err))
		}
		w.patterns = append(w.patterns, extra...)
	}
	return w, nil
}

func (w *FileWatcher) Name() string            { return "files" }
func (w *FileWatcher) Interval() time.Duration { return w.opts.Interval }

// Start registers every directory under the roots with fsnotify and begins
// collecting raw events until ctx is cancelled or Close is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %v: %w", err, ErrSourceUnavailable)
	}
	w.fsw = fsw

	for _, root := range w.roots {
		w.addTree(root)
	}

	go w.loop(ctx)
	return nil
}

// addTree watches dir and every non-ignored directory below it.
func (w *FileWatcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.isIgnored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("watch failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *FileWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.isIgnored(ev.Name) {
				continue
			}
			w.observe(ev)
			// A new directory is watched too, along with anything already in it.
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addTree(ev.Name)
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Overflow and similar errors are non-fatal; keep watching.
			w.logger.Debug("fsnotify error", zap.Error(err))
		}
	}
}

func opFor(ev fsnotify.Event) (event.FileOp, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return event.OpCreate, true
	case ev.Has(fsnotify.Write):
		return event.OpModify, true
	case ev.Has(fsnotify.Remove):
		return event.OpDelete, true
	case ev.Has(fsnotify.Rename):
		return event.OpRename, true
	case ev.Has(fsnotify.Chmod):
		return event.OpChmod, true
	}
	return "", false
}

// observe folds a raw event into the pending change for its path.
func (w *FileWatcher) observe(ev fsnotify.Event) {
	op, ok := opFor(ev)
	if !ok {
		return
	}
	w.addPending(ev.Name, op)
}

func (w *FileWatcher) addPending(path string, op event.FileOp) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	p, ok := w.pending[path]
	if !ok {
		w.pending[path] = &pendingChange{first: op, op: op, last: now}
		return
	}
	p.last = now
	switch {
	case op == event.OpChmod:
		// Attribute changes never mask a content change.
	case p.first == event.OpCreate && op == event.OpModify:
		p.op = event.OpCreate
	default:
		p.op = op
	}
}

// Poll emits one event per path that has been quiet for the coalescing
// window, then any environment changes.
func (w *FileWatcher) Poll(ctx context.Context) ([]event.Event, error) {
	var events []event.Event

	cutoff := w.now().Add(-w.opts.Coalesce)
	w.mu.Lock()
	var ready []string
	for path, p := range w.pending {
		if !p.last.After(cutoff) {
			ready = append(ready, path)
		}
	}
	slices.Sort(ready)
	for _, path := range ready {
		events = append(events, event.NewFile(w.Name(), event.File{Path: path, Op: w.pending[path].op}))
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if w.opts.Env != nil {
		envEvents, err := w.pollEnv(ctx)
		if err != nil {
			w.logger.Debug("environment probe failed", zap.Error(err))
		}
		events = append(events, envEvents...)
	}

	if w.fsw == nil {
		err := fmt.Errorf("file watcher not started: %w", ErrSourceUnavailable)
		w.record(err)
		return events, err
	}
	w.record(nil)
	return events, nil
}

// pollEnv diffs the probe's snapshot against the previous one. The first
// snapshot is the baseline.
func (w *FileWatcher) pollEnv(ctx context.Context) ([]event.Event, error) {
	cur, err := w.opts.Env.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !w.envSeen {
		w.env, w.envSeen = cur, true
		return nil, nil
	}
	keys := make([]string, 0, len(cur))
	for k := range cur {
		keys = append(keys, k)
	}
	for k := range w.env {
		if _, ok := cur[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	var events []event.Event
	for _, k := range keys {
		if cur[k] != w.env[k] {
			events = append(events, event.NewEnv("env", event.Env{Key: k, Value: cur[k], Previous: w.env[k]}))
		}
	}
	w.env = cur
	return events, nil
}

// Close stops the fsnotify watcher.
func (w *FileWatcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

// isIgnored reports whether path matches any ignore pattern by base name,
// path relative to its root, full path, or any directory component.
func (w *FileWatcher) isIgnored(path string) bool {
	rel := path
	for _, root := range w.roots {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
			break
		}
	}
	base := filepath.Base(path)
	parts := strings.Split(filepath.ToSlash(rel), "/")

	for _, pattern := range w.patterns {
		pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
		if pattern == "" {
			continue
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
		for _, part := range parts[:len(parts)-1] {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}

// loadIgnoreFiles reads .gitignore and .termctxignore from root.
func loadIgnoreFiles(root string) ([]string, error) {
	var patterns []string
	for _, name := range []string{".gitignore", ".termctxignore"} {
		extra, err := readPatternFile(filepath.Join(root, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return patterns, err
		}
		patterns = append(patterns, extra...)
	}
	return patterns, nil
}

// readPatternFile reads a gitignore-style file and returns non-empty,
// non-comment, non-negated lines.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
