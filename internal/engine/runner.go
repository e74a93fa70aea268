package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/session"
	"github.com/fakeyudi/termctx/internal/watcher"
)

// runner holds the engine-side state of one watcher.
type runner struct {
	w watcher.Watcher

	mu       sync.Mutex
	started  bool
	startErr *watcher.Health // set while a Starter keeps failing to start
	reported watcher.State
}

func newRunner(w watcher.Watcher) *runner {
	_, needsStart := w.(watcher.Starter)
	return &runner{w: w, started: !needsStart, reported: watcher.StateOK}
}

// health is the watcher's own status unless it never managed to start.
func (r *runner) health() watcher.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return *r.startErr
	}
	return r.w.Status()
}

// start runs the watcher's Start if it has one and has not started yet.
func (r *runner) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	err := r.w.(watcher.Starter).Start(ctx)
	if err == nil {
		r.started = true
		r.startErr = nil
		return nil
	}
	h := watcher.Health{State: watcher.StateDegraded, Err: err, Since: time.Now(), Failures: 1}
	if r.startErr != nil {
		h.Since = r.startErr.Since
		h.Failures = r.startErr.Failures + 1
	}
	r.startErr = &h
	return err
}

type pollResult struct {
	events []event.Event
	err    error
}

// backoff returns how long to wait before polling again: the watcher's
// interval, doubled for every consecutive failure while degraded.
func backoff(interval, ceiling time.Duration, h watcher.Health) time.Duration {
	if ceiling <= 0 {
		ceiling = DefaultMaxBackoff
	}
	d := interval
	if h.State == watcher.StateDegraded {
		for i := 0; i < h.Failures && d < ceiling; i++ {
			d *= 2
		}
	}
	if d > ceiling && interval < ceiling {
		d = ceiling
	}
	return d
}

// run polls r until ctx is cancelled. A poll that outlives the poll timeout
// is abandoned: its results are discarded and no new poll starts until it
// returns.
func (e *Engine) run(ctx context.Context, r *runner) {
	defer e.wg.Done()

	name := r.w.Name()
	logger := e.logger.With(zap.String("watcher", name))
	interval := r.w.Interval()
	timeout := e.cfg.PollTimeout.D()
	maxBackoff := e.cfg.MaxBackoff.D()

	tick := time.NewTimer(0)
	defer tick.Stop()

	var (
		results   chan pollResult
		overrun   *time.Timer
		overrunC  <-chan time.Time
		abandoned bool
	)
	defer func() {
		if overrun != nil {
			overrun.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick.C:
			if results != nil {
				logger.Debug("previous poll still in flight, skipping tick")
				tick.Reset(interval)
				continue
			}
			if err := r.start(ctx); err != nil {
				h := r.health()
				e.report(logger, r, h)
				tick.Reset(backoff(interval, maxBackoff, h))
				continue
			}

			results = make(chan pollResult, 1)
			pctx, cancel := context.WithTimeout(ctx, timeout)
			go func(out chan<- pollResult) {
				defer cancel()
				evs, err := r.w.Poll(pctx)
				out <- pollResult{events: evs, err: err}
			}(results)
			overrun = time.NewTimer(timeout)
			overrunC = overrun.C

		case <-overrunC:
			overrunC = nil
			abandoned = true
			logger.Warn("poll exceeded timeout, abandoning cycle", zap.Duration("timeout", timeout))
			tick.Reset(interval)

		case res := <-results:
			results = nil
			if overrun != nil {
				overrun.Stop()
				overrunC = nil
			}
			if abandoned {
				abandoned = false
				// An error-free result means the watcher committed its cursor.
				if res.err != nil {
					logger.Debug("discarding results of abandoned poll", zap.Int("events", len(res.events)), zap.Error(res.err))
					continue
				}
				logger.Debug("applying late poll results", zap.Int("events", len(res.events)))
			}
			e.apply(ctx, logger, r, res)
			tick.Reset(backoff(interval, maxBackoff, r.health()))
		}
	}
}

// apply stores the events of a completed poll and publishes the watcher's
// health. Nothing is applied once the engine is stopping.
func (e *Engine) apply(ctx context.Context, logger *zap.Logger, r *runner, res pollResult) {
	if ctx.Err() != nil {
		return
	}
	if res.err != nil && !errors.Is(res.err, watcher.ErrSourceUnavailable) {
		logger.Debug("poll failed", zap.Error(res.err))
	}
	if len(res.events) > 0 {
		if _, err := e.buf.AppendBatch(res.events); err != nil {
			logger.Warn("dropping poll results", zap.Int("events", len(res.events)), zap.Error(err))
		} else {
			for _, ev := range res.events {
				e.rec.Observe(ev)
			}
		}
	}
	e.report(logger, r, r.health())
}

// report records h in the session and logs state transitions once.
func (e *Engine) report(logger *zap.Logger, r *runner, h watcher.Health) {
	src := session.Source{State: string(h.State), Since: h.Since, Failures: h.Failures}
	if h.Err != nil {
		src.Error = h.Err.Error()
	}
	e.rec.SetSource(r.w.Name(), src)

	r.mu.Lock()
	prev := r.reported
	r.reported = h.State
	r.mu.Unlock()
	if prev == h.State {
		return
	}
	switch h.State {
	case watcher.StateDegraded:
		logger.Warn("source degraded", zap.Error(h.Err))
	case watcher.StateInert:
		logger.Info("source not present, watcher inert")
	case watcher.StateOK:
		logger.Info("source recovered", zap.String("was", string(prev)))
	}
}
