package watcher

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/fakeyudi/termctx/internal/event"
)

// DefaultProcessPatterns match the shells, editors, interpreters and tools
// whose lifetimes are worth reporting.
var DefaultProcessPatterns = []string{
	`^(ba|z|fi|da|k)?sh$`,
	`^(python[0-9.]*|node|npm|npx|pip[0-9.]*|ruby|java|go|cargo|rustc|gcc|g\+\+|clang)$`,
	`^(vim|nvim|vi|nano|emacs|code|hx)$`,
	`^(git|docker|kubectl|ssh|scp|rsync|curl|wget|make|tmux)$`,
}

// ProcessSnapshot is the state of one process at poll time.
type ProcessSnapshot struct {
	PID        int32
	Name       string
	Cmdline    string
	CPUPercent float64
	MemPercent float32
	StartedAt  time.Time
}

// ProcessLister enumerates running processes.
type ProcessLister interface {
	List(ctx context.Context) ([]ProcessSnapshot, error)
}

// SystemProcesses lists processes from the operating system.
type SystemProcesses struct{}

// List returns one snapshot per pid. Attributes that cannot be read (the
// process belongs to another user or exited mid-listing) are left empty so
// the pid still takes part in diffing.
func (SystemProcesses) List(ctx context.Context) ([]ProcessSnapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessSnapshot, 0, len(procs))
	for _, p := range procs {
		snap := ProcessSnapshot{PID: p.Pid}
		if name, err := p.NameWithContext(ctx); err == nil {
			snap.Name = name
		}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			snap.Cmdline = cmdline
		}
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			snap.CPUPercent = cpu
		}
		if mem, err := p.MemoryPercentWithContext(ctx); err == nil {
			snap.MemPercent = mem
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			snap.StartedAt = time.UnixMilli(created)
		}
		out = append(out, snap)
	}
	return out, nil
}

// ProcessOptions configures a ProcessWatcher.
type ProcessOptions struct {
	Interval time.Duration
	// Patterns are matched against the process name and command line. A
	// process is reported if any pattern matches either.
	Patterns []string
	// EmitAll reports every process regardless of Patterns.
	EmitAll bool
	Lister  ProcessLister
	Logger  *zap.Logger
}

// ProcessWatcher diffs consecutive process table listings.
type ProcessWatcher struct {
	health
	opts     ProcessOptions
	lister   ProcessLister
	patterns []*regexp.Regexp
	logger   *zap.Logger
	self     int32
	prev     map[int32]ProcessSnapshot
}

// NewProcessWatcher compiles the patterns. An invalid pattern is a
// configuration error.
func NewProcessWatcher(opts ProcessOptions) (*ProcessWatcher, error) {
	w := &ProcessWatcher{
		opts:   opts,
		lister: opts.Lister,
		logger: opts.Logger,
		self:   int32(os.Getpid()),
	}
	if w.lister == nil {
		w.lister = SystemProcesses{}
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.Named("process")
	for _, p := range opts.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("process pattern %q: %w", p, err)
		}
		w.patterns = append(w.patterns, re)
	}
	return w, nil
}

func (w *ProcessWatcher) Name() string            { return "process" }
func (w *ProcessWatcher) Interval() time.Duration { return w.opts.Interval }

// Poll emits process_start for pids absent from the previous listing and
// process_stop for pids that vanished. The first poll only records the
// baseline.
func (w *ProcessWatcher) Poll(ctx context.Context) ([]event.Event, error) {
	list, err := w.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %v: %w", err, ErrTransient)
	}
	// An expired poll is discarded; keep the baseline for the next one.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list processes: %v: %w", err, ErrTransient)
	}

	cur := make(map[int32]ProcessSnapshot, len(list))
	for _, p := range list {
		if p.PID == w.self {
			continue
		}
		cur[p.PID] = p
	}

	if w.prev == nil {
		w.prev = cur
		w.record(nil)
		return nil, nil
	}

	var events []event.Event
	for pid, p := range cur {
		old, seen := w.prev[pid]
		if seen && !reused(old, p) {
			continue
		}
		if seen && w.interesting(old) {
			events = append(events, event.NewProcessStop(w.Name(), toPayload(old)))
		}
		if w.interesting(p) {
			events = append(events, event.NewProcessStart(w.Name(), toPayload(p)))
		}
	}
	for pid, old := range w.prev {
		if _, ok := cur[pid]; !ok && w.interesting(old) {
			events = append(events, event.NewProcessStop(w.Name(), toPayload(old)))
		}
	}

	// Map iteration order is random; report in pid order.
	slices.SortStableFunc(events, func(a, b event.Event) int {
		return cmp.Compare(a.Process.PID, b.Process.PID)
	})

	w.prev = cur
	w.record(nil)
	return events, nil
}

// reused reports whether the same pid now belongs to a different process.
func reused(old, cur ProcessSnapshot) bool {
	return !old.StartedAt.IsZero() && !cur.StartedAt.IsZero() && !old.StartedAt.Equal(cur.StartedAt)
}

func (w *ProcessWatcher) interesting(p ProcessSnapshot) bool {
	if w.opts.EmitAll {
		return true
	}
	for _, re := range w.patterns {
		if (p.Name != "" && re.MatchString(p.Name)) || (p.Cmdline != "" && re.MatchString(p.Cmdline)) {
			return true
		}
	}
	return false
}

func toPayload(p ProcessSnapshot) event.Process {
	return event.Process{
		PID:        p.PID,
		Name:       p.Name,
		Cmdline:    p.Cmdline,
		CPUPercent: p.CPUPercent,
		MemPercent: p.MemPercent,
		StartedAt:  p.StartedAt,
	}
}
