// Package buffer holds the bounded, ordered timeline of session events.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fakeyudi/termctx/internal/event"
)

// DefaultCapacity is the number of events retained when no capacity is configured.
const DefaultCapacity = 10000

// ErrClosed is returned by Append after the buffer has been frozen.
var ErrClosed = errors.New("context buffer is closed")

// Query selects events from the buffer. Zero values mean "no constraint".
type Query struct {
	// AfterSeq excludes events with a sequence <= AfterSeq.
	AfterSeq uint64
	// Since excludes events timestamped before it.
	Since time.Time
	// Kinds restricts results to the listed kinds.
	Kinds []event.Kind
	// Limit keeps only the most recent Limit matches.
	Limit int
}

// Buffer is a fixed-capacity ring of events. The oldest event is evicted
// when a new one arrives at capacity.
type Buffer struct {
	mu      sync.RWMutex
	ring    []event.Event
	head    int // index of the oldest event
	size    int
	nextSeq uint64
	evicted uint64
	frozen  bool
}

// New returns an empty buffer holding at most capacity events.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &Buffer{ring: make([]event.Event, capacity), nextSeq: 1}, nil
}

// Append assigns the next sequence number to e and stores it, evicting the
// oldest event if the buffer is full.
func (b *Buffer) Append(e event.Event) (uint64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return 0, ErrClosed
	}

	return b.insert(e), nil
}

// AppendBatch appends events as one unit: either every event is stored,
// with consecutive sequences, or none is. It returns the last sequence
// assigned, or 0 for an empty batch.
func (b *Buffer) AppendBatch(events []event.Event) (uint64, error) {
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return 0, ErrClosed
	}
	var last uint64
	for _, e := range events {
		last = b.insert(e)
	}
	return last, nil
}

// insert stores a copy of e at the tail. The caller holds the write lock.
func (b *Buffer) insert(e event.Event) uint64 {
	e = e.Clone()
	e.Sequence = b.nextSeq
	b.nextSeq++

	if b.size == len(b.ring) {
		b.ring[b.head] = e
		b.head = (b.head + 1) % len(b.ring)
		b.evicted++
		return e.Sequence
	}
	b.ring[(b.head+b.size)%len(b.ring)] = e
	b.size++
	return e.Sequence
}

// Query returns matching events in ascending sequence order.
func (b *Buffer) Query(q Query) []event.Event {
	var kinds map[event.Kind]bool
	if len(q.Kinds) > 0 {
		kinds = make(map[event.Kind]bool, len(q.Kinds))
		for _, k := range q.Kinds {
			kinds[k] = true
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []event.Event
	for i := 0; i < b.size; i++ {
		e := b.ring[(b.head+i)%len(b.ring)]
		if e.Sequence <= q.AfterSeq {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if kinds != nil && !kinds[e.Kind] {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	// Stored events stay immutable whatever callers do with the results.
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Snapshot returns every retained event in ascending sequence order.
func (b *Buffer) Snapshot() []event.Event {
	return b.Query(Query{})
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.ring)
}

// Evicted returns how many events have been dropped to stay within capacity.
func (b *Buffer) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}

// LastSequence returns the sequence of the newest event, or 0 if none was
// ever appended.
func (b *Buffer) LastSequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq - 1
}

// Freeze makes the buffer read-only. Queries keep working.
func (b *Buffer) Freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}
