// Package watcher polls the unreliable sources of terminal context (shell
// history, the process table, multiplexer panes, the file system) and turns
// what changed since the previous poll into events.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fakeyudi/termctx/internal/event"
)

// Watcher is one source of events. The engine calls Poll from a single
// goroutine per watcher, never concurrently with itself. Status may be
// called from any goroutine.
type Watcher interface {
	Name() string
	Interval() time.Duration
	Poll(ctx context.Context) ([]event.Event, error)
	Status() Health
}

// Starter is implemented by watchers that hold background resources which
// must be set up before the first poll.
type Starter interface {
	Start(ctx context.Context) error
}

var (
	// ErrSourceUnavailable means the source cannot be read at all. The
	// watcher is degraded and retried on a longer interval.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrTransient means this poll failed but the next one may succeed.
	ErrTransient = errors.New("transient read error")
)

// State is the coarse health of a watcher.
type State string

const (
	StateOK       State = "ok"
	StateDegraded State = "degraded"
	// StateInert means the source is absent on this machine (tmux not
	// installed, no server running). Not an error.
	StateInert State = "inert"
)

// Health is the last known condition of a watcher.
type Health struct {
	State    State
	Err      error
	Since    time.Time
	Failures int
}

// health is embedded by watchers to track state transitions.
type health struct {
	mu sync.Mutex
	h  Health
}

func (h *health) Status() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.h.State == "" {
		return Health{State: StateOK}
	}
	return h.h
}

func (h *health) set(state State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.h.State != state {
		h.h.Since = time.Now()
	}
	h.h.State = state
	h.h.Err = err
	if state == StateDegraded {
		h.h.Failures++
	} else {
		h.h.Failures = 0
	}
}

// record classifies the outcome of a poll. Transient errors leave the
// current state alone.
func (h *health) record(err error) {
	switch {
	case err == nil:
		h.set(StateOK, nil)
	case errors.Is(err, ErrSourceUnavailable):
		h.set(StateDegraded, err)
	}
}

func (h *health) markInert() {
	h.set(StateInert, nil)
}
