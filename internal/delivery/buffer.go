// Package delivery implements the bounded buffer between the consumers and
// the downstream client, plus the coarse acquisition status derived from it.
//
// Consumers push one event per persisted block; a polling drainer empties
// the buffer atomically and forwards the batch downstream at-most-once per
// cycle. The buffer is bounded: when full, the oldest entry is dropped and
// counted rather than growing without bound or blocking the capture
// engine's delivery thread.
package delivery

import (
	"sync"
	"sync/atomic"

	"github.com/radiometric/daqstore/internal/logging"
)

var log = logging.Component("delivery")

// Status is the process-wide acquisition state.
type Status int

const (
	// StatusStopped means no consumer is accepting buffers. Terminal until
	// an explicit restart.
	StatusStopped Status = iota

	// StatusListening means consumers run but nothing is pending delivery.
	StatusListening

	// StatusReceiving means the buffer holds unflushed entries.
	StatusReceiving
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusListening:
		return "listening"
	case StatusReceiving:
		return "receiving"
	default:
		return "unknown"
	}
}

// Event is one persisted-block notification for the downstream client.
type Event struct {
	Mode         string
	Filename     string
	MetadataJSON string
}

// Stats holds buffer statistics.
type Stats struct {
	Pushed  int64
	Drained int64
	Dropped int64
	Errors  int64
	Pending int
}

// Buffer is the bounded delivery buffer.
type Buffer struct {
	mu       sync.Mutex
	entries  []Event
	capacity int
	started  bool

	// Side channel for persistence errors: a rising rate here is the
	// downstream-visible signal of persistent storage failure.
	errs []error

	pushed   atomic.Int64
	drained  atomic.Int64
	dropped  atomic.Int64
	errsSeen atomic.Int64
}

// New creates a delivery buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Buffer{
		entries:  make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Start moves the buffer out of the stopped state.
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
}

// Stop returns the buffer to the stopped state. New pushes are rejected,
// but entries and errors already accepted stay drainable so a shutdown's
// final drain does not strand them.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
}

// Push appends an event. When the buffer is full the oldest entry is
// dropped to make room; the drop is counted and logged at a low rate.
// Returns false if the event was not accepted (stopped) or displaced an
// older entry.
func (b *Buffer) Push(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return false
	}

	displaced := false
	if len(b.entries) >= b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
		displaced = true
		n := b.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			log.Warn("delivery buffer full, dropping oldest", "dropped_total", n)
		}
	}

	b.entries = append(b.entries, ev)
	b.pushed.Add(1)
	return !displaced
}

// PushError records a persistence error on the side channel.
func (b *Buffer) PushError(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}
	if len(b.errs) >= b.capacity {
		b.errs = b.errs[1:]
	}
	b.errs = append(b.errs, err)
	b.errsSeen.Add(1)
}

// Drain atomically removes and returns all pending events, flipping the
// status from receiving back to listening. Entries are never retried: once
// drained, delivery is the caller's problem.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil
	}
	out := make([]Event, len(b.entries))
	copy(out, b.entries)
	b.entries = b.entries[:0]
	b.drained.Add(int64(len(out)))
	return out
}

// DrainErrors atomically removes and returns accumulated persistence errors.
func (b *Buffer) DrainErrors() []error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.errs) == 0 {
		return nil
	}
	out := b.errs
	b.errs = nil
	return out
}

// HasPending reports whether undrained entries exist.
func (b *Buffer) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) > 0
}

// Status derives the coarse acquisition status.
func (b *Buffer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case !b.started:
		return StatusStopped
	case len(b.entries) > 0:
		return StatusReceiving
	default:
		return StatusListening
	}
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	pending := len(b.entries)
	b.mu.Unlock()

	return Stats{
		Pushed:  b.pushed.Load(),
		Drained: b.drained.Load(),
		Dropped: b.dropped.Load(),
		Errors:  b.errsSeen.Load(),
		Pending: pending,
	}
}
