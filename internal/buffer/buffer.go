// Package buffer implements the bounded, multi-producer, single-consumer
// FIFO queue that decouples Emit latency from batching and writing.
// Admission is non-blocking: a full buffer drops the newest event rather
// than blocking the producer on disk I/O, and a dropped event never
// surfaces as an error to the producer's logging call.
package buffer

import (
	"context"
	"sync/atomic"

	"github.com/loglayer/sqlitesink/internal/event"
)

// Stats is a snapshot of buffer occupancy and drop counters.
type Stats struct {
	Len     int
	Cap     int
	Dropped int64
}

// Buffer is a bounded FIFO queue of *event.LogEvent.
type Buffer struct {
	ch            chan *event.LogEvent
	capacity      int
	dropped       atomic.Int64
	warnThreshold int
	warned        atomic.Bool
	onWarn        func()
}

// New creates a Buffer with the given capacity. onWarn, if non-nil, is
// invoked the first time occupancy crosses 75% of capacity; it resets
// once occupancy drops back below that line.
func New(capacity int, onWarn func()) *Buffer {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &Buffer{
		ch:            make(chan *event.LogEvent, capacity),
		capacity:      capacity,
		warnThreshold: (capacity * 3) / 4,
		onWarn:        onWarn,
	}
}

// Push admits an event into the buffer. It never blocks: if the buffer
// is full, the event is dropped and Push returns false.
func (b *Buffer) Push(ev *event.LogEvent) bool {
	select {
	case b.ch <- ev:
		b.maybeWarn()
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// maybeWarn fires onWarn once per crossing of the 75% occupancy line.
func (b *Buffer) maybeWarn() {
	if b.onWarn == nil || b.warnThreshold <= 0 {
		return
	}
	over := len(b.ch) >= b.warnThreshold
	if over && b.warned.CompareAndSwap(false, true) {
		b.onWarn()
	} else if !over {
		b.warned.Store(false)
	}
}

// Dequeue blocks until an event is available or ctx is cancelled. The
// bool return is false only when ctx was cancelled.
func (b *Buffer) Dequeue(ctx context.Context) (*event.LogEvent, bool) {
	select {
	case ev := <-b.ch:
		return ev, true
	case <-ctx.Done():
		return nil, false
	}
}

// Raw exposes the underlying channel for a single dedicated consumer (the
// batcher) that needs to select on it alongside a flush timer and a
// shutdown signal. Callers outside this module should use Dequeue.
func (b *Buffer) Raw() <-chan *event.LogEvent {
	return b.ch
}

// TryDequeue removes and returns an event without blocking. The bool
// return is false when the buffer is empty.
func (b *Buffer) TryDequeue() (*event.LogEvent, bool) {
	select {
	case ev := <-b.ch:
		return ev, true
	default:
		return nil, false
	}
}

// Len returns the current number of buffered events.
func (b *Buffer) Len() int {
	return len(b.ch)
}

// Stats returns a snapshot of buffer occupancy and drop counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Len:     len(b.ch),
		Cap:     b.capacity,
		Dropped: b.dropped.Load(),
	}
}
