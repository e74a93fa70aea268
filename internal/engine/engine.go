// Package engine runs the source watchers against a shared context buffer
// and exposes the session to queries and exports.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/termctx/internal/analytics"
	"github.com/fakeyudi/termctx/internal/buffer"
	"github.com/fakeyudi/termctx/internal/config"
	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/export"
	"github.com/fakeyudi/termctx/internal/resolver"
	"github.com/fakeyudi/termctx/internal/session"
	"github.com/fakeyudi/termctx/internal/watcher"
)

// SourceExternal is the event source for commands and output recorded by
// callers of the engine.
const SourceExternal = "external"

// DefaultMaxBackoff caps the retry interval of a degraded watcher when the
// configuration does not.
const DefaultMaxBackoff = time.Minute

// State is the lifecycle state of an Engine.
type State int

const (
	StateNew State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrStopped        = errors.New("engine stopped")
)

// Completer produces text from a prompt built over the session context.
// Providers implement it outside the engine; the engine never calls it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures an Engine.
type Options struct {
	Config config.Config
	// WorkDir is the session root. Defaults to the process working directory.
	WorkDir string
	// Watchers replaces the watchers built from Config.
	Watchers []watcher.Watcher
	Logger   *zap.Logger
	// Author is stamped on exported documents.
	Author string
}

// Engine owns the context buffer, the live session record and the
// watchers that feed them.
type Engine struct {
	cfg      config.Config
	logger   *zap.Logger
	author   string
	buf      *buffer.Buffer
	rec      *session.Recorder
	res      *resolver.Resolver
	runners  []*runner
	watchers []watcher.Watcher

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the configuration and assembles an Engine. Configuration
// errors are the only errors the engine treats as fatal.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workDir = wd
	}

	buf, err := buffer.New(cfg.Capacity)
	if err != nil {
		return nil, &config.ConfigError{Field: "capacity", Err: err}
	}

	watchers := opts.Watchers
	if watchers == nil {
		watchers, err = BuildWatchers(cfg, workDir, logger)
		if err != nil {
			return nil, err
		}
	}
	seen := make(map[string]bool, len(watchers))
	for _, w := range watchers {
		if seen[w.Name()] {
			return nil, fmt.Errorf("duplicate watcher %q", w.Name())
		}
		seen[w.Name()] = true
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		author:   opts.Author,
		buf:      buf,
		rec:      session.NewRecorder(workDir),
		watchers: watchers,
		res: resolver.New(resolver.Options{
			WorkDir:      workDir,
			MaxBytes:     cfg.Resolver.MaxBytes,
			Timeout:      cfg.Resolver.Timeout.D(),
			Allow:        cfg.Resolver.Allow,
			Deny:         cfg.Resolver.Deny,
			Base64Binary: cfg.Resolver.Base64Binary,
			Logger:       logger,
		}),
	}
	for _, w := range watchers {
		e.runners = append(e.runners, newRunner(w))
	}
	return e, nil
}

// Start launches one polling loop per watcher. The first poll of each
// watcher runs immediately. Start may be called once.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.state = StateRunning
	for _, r := range e.runners {
		e.wg.Add(1)
		go e.run(runCtx, r)
	}
	e.logger.Info("engine started",
		zap.String("session", e.rec.Snapshot().ID),
		zap.Int("watchers", len(e.runners)),
		zap.Int("capacity", e.buf.Cap()))
	return nil
}

// Stop cancels every loop and waits for them to exit, closes watcher
// resources, freezes the buffer and stamps the session stop time. Results
// of polls still in flight are discarded. Stop is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}
	wasRunning := e.state == StateRunning
	e.state = StateStopped
	cancel := e.cancel
	e.mu.Unlock()

	var errs []error
	if wasRunning {
		cancel()
		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			// Loops still running find the buffer frozen and drop their results.
			errs = append(errs, fmt.Errorf("waiting for watchers: %w", ctx.Err()))
		}
	}

	for _, w := range e.watchers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", w.Name(), err))
			}
		}
	}
	e.buf.Freeze()
	e.rec.Stop(time.Now())
	e.logger.Info("engine stopped",
		zap.Int("events", e.buf.Len()),
		zap.Uint64("evicted", e.buf.Evicted()))
	return errors.Join(errs...)
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Buffer exposes the context buffer for read access.
func (e *Engine) Buffer() *buffer.Buffer { return e.buf }

// Session returns a snapshot of the live session record.
func (e *Engine) Session() session.Session { return e.rec.Snapshot() }

// Degraded lists the sources currently degraded, sorted by name.
func (e *Engine) Degraded() []string {
	sess := e.rec.Snapshot()
	out := sess.Degraded()
	if out == nil {
		out = []string{}
	}
	return out
}

// Health returns the last reported health of every watcher, keyed by name.
func (e *Engine) Health() map[string]watcher.Health {
	out := make(map[string]watcher.Health, len(e.runners))
	for _, r := range e.runners {
		out[r.w.Name()] = r.health()
	}
	return out
}

// ContextResult is the answer to a context query: the matching events and
// the sources that could not be read when they were collected.
type ContextResult struct {
	Events   []event.Event `json:"events"`
	Degraded []string      `json:"degraded"`
}

// Context returns the events matching q in ascending sequence order.
func (e *Engine) Context(q buffer.Query) ContextResult {
	events := e.buf.Query(q)
	if events == nil {
		events = []event.Event{}
	}
	return ContextResult{Events: events, Degraded: e.Degraded()}
}

// Summary computes session analytics over the retained events.
func (e *Engine) Summary() analytics.Summary {
	return e.summarize(e.rec.Snapshot(), e.buf.Snapshot())
}

func (e *Engine) summarize(sess session.Session, events []event.Event) analytics.Summary {
	now := time.Now()
	if sess.StopTime != nil {
		now = *sess.StopTime
	}
	s := analytics.Summarize(events, analytics.Options{
		Start:         sess.StartTime,
		Now:           now,
		IdleThreshold: e.cfg.Analytics.IdleThreshold.D(),
		TopK:          e.cfg.Analytics.TopCommands,
		ByText:        e.cfg.Analytics.ByText,
	})
	s.BufferSize = len(events)
	s.Evicted = e.buf.Evicted()
	if d := sess.Degraded(); d != nil {
		s.Degraded = d
	}
	s.Active = e.State() == StateRunning
	return s
}

// ResolveReferences resolves @file and @directory tokens relative to the
// session root. With persist set, every successful reference is also
// appended to the timeline. Failures are reported per token.
func (e *Engine) ResolveReferences(ctx context.Context, tokens []string, persist bool) []resolver.Reference {
	refs := e.res.Resolve(ctx, tokens)
	if !persist {
		return refs
	}
	for _, ref := range refs {
		if ref.Err != nil {
			continue
		}
		if _, err := e.append(ref.Event()); err != nil {
			e.logger.Warn("failed to persist reference", zap.String("token", ref.Token), zap.Error(err))
		}
	}
	return refs
}

// RecordCommand appends a command reported by a caller.
func (e *Engine) RecordCommand(text string) (uint64, error) {
	return e.RecordOutput(text, "")
}

// RecordOutput appends a command together with the output it produced.
func (e *Engine) RecordOutput(command, output string) (uint64, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return 0, errors.New("command must not be empty")
	}
	return e.append(event.NewCommand(SourceExternal, event.Command{Text: command, Output: output}))
}

func (e *Engine) append(ev event.Event) (uint64, error) {
	seq, err := e.buf.Append(ev)
	if err != nil {
		if errors.Is(err, buffer.ErrClosed) {
			return 0, ErrStopped
		}
		return 0, err
	}
	e.rec.Observe(ev)
	return seq, nil
}

// Document assembles an export of the session from one consistent snapshot
// of the buffer.
func (e *Engine) Document() *export.Document {
	sess := e.rec.Snapshot()
	events := e.buf.Snapshot()
	doc := export.NewDocument(sess, e.summarize(sess, events), events)
	doc.Author = e.author
	return doc
}

// Export renders the session to w.
func (e *Engine) Export(w io.Writer, f export.Format, opts export.Options) error {
	return export.Encode(w, e.Document(), f, opts)
}

// ExportFile writes the session to path. SQLite exports are only possible
// through this method.
func (e *Engine) ExportFile(path string, f export.Format, opts export.Options) error {
	return export.WriteFile(path, e.Document(), f, opts)
}
