// Package batch groups buffered events into size- or time-triggered
// batches and hands each one to a dispatch function synchronously. It
// never exposes accumulation to producers: the pending list lives only
// inside the batcher's own goroutine.
package batch

import (
	"sync"
	"time"

	"github.com/loglayer/sqlitesink/internal/event"
)

const (
	// DefaultBatchSize is the size-trigger threshold.
	DefaultBatchSize = 100

	// DefaultFlushInterval is the time-trigger period.
	DefaultFlushInterval = 10 * time.Second

	// MinFlushInterval is the floor below which the time trigger would
	// busy-flush.
	MinFlushInterval = 10 * time.Millisecond
)

// Source is the subset of buffer.Buffer the batcher depends on.
type Source interface {
	Raw() <-chan *event.LogEvent
}

// Dispatch is called once per triggered batch. It runs on the batcher's
// own goroutine; the batcher will not trigger another batch until it
// returns, so triggers coalesce instead of queueing up.
type Dispatch func(batch []*event.LogEvent)

// Options configures a Batcher.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
}

// applyDefaults fills in zero-valued fields with their package defaults.
func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.FlushInterval < MinFlushInterval {
		o.FlushInterval = MinFlushInterval
	}
}

// Batcher reads events from a Source and dispatches non-empty batches
// when either the size or time trigger fires.
type Batcher struct {
	source    Source
	dispatch  Dispatch
	opts      Options
	doneCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// New creates a Batcher. Call Start to begin reading from source.
func New(source Source, dispatch Dispatch, opts Options) *Batcher {
	opts.applyDefaults()
	return &Batcher{
		source:    source,
		dispatch:  dispatch,
		opts:      opts,
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins the batching loop in a new goroutine.
func (b *Batcher) Start() {
	go b.run()
}

// Stop signals the batcher to dispatch its final (possibly undersized)
// batch and exit. It blocks until the writer has returned from that
// final dispatch. Safe to call more than once.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		close(b.doneCh)
	})
	<-b.stoppedCh
}

func (b *Batcher) run() {
	defer close(b.stoppedCh)

	pending := make([]*event.LogEvent, 0, b.opts.BatchSize)
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.dispatch(pending)
		pending = pending[:0]
	}

	for {
		select {
		case ev := <-b.source.Raw():
			pending = append(pending, ev)
			if len(pending) >= b.opts.BatchSize {
				flush()
			}

		case <-ticker.C:
			// Fires regardless of pending length; flush is a no-op on an
			// empty list, which just resets the clock without a writer
			// call.
			flush()

		case <-b.doneCh:
			b.drainAndFlush(&pending)
			flush()
			return
		}
	}
}

// drainAndFlush pulls any events already queued in the source without
// blocking, so a shutdown doesn't lose events that arrived just before
// the done signal.
func (b *Batcher) drainAndFlush(pending *[]*event.LogEvent) {
	for {
		select {
		case ev := <-b.source.Raw():
			*pending = append(*pending, ev)
			if len(*pending) >= b.opts.BatchSize {
				b.dispatch(*pending)
				*pending = (*pending)[:0]
			}
		default:
			return
		}
	}
}
