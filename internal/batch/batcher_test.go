package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglayer/sqlitesink/internal/event"
)

// fakeSource is a simple channel-backed Source for testing the batcher in
// isolation from the real bounded buffer.
type fakeSource struct {
	ch chan *event.LogEvent
}

func newFakeSource(capacity int) *fakeSource {
	return &fakeSource{ch: make(chan *event.LogEvent, capacity)}
}

func (f *fakeSource) Raw() <-chan *event.LogEvent { return f.ch }

func (f *fakeSource) push(ev *event.LogEvent) { f.ch <- ev }

func newEvent(msg string) *event.LogEvent {
	return event.New(time.Now(), event.Information, msg)
}

type recorder struct {
	mu      sync.Mutex
	batches [][]*event.LogEvent
}

func (r *recorder) dispatch(batch []*event.LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]*event.LogEvent, len(batch))
	copy(cp, batch)
	r.batches = append(r.batches, cp)
}

func (r *recorder) snapshot() [][]*event.LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]*event.LogEvent, len(r.batches))
	copy(out, r.batches)
	return out
}

func TestSizeTrigger(t *testing.T) {
	src := newFakeSource(10)
	rec := &recorder{}
	b := New(src, rec.dispatch, Options{BatchSize: 3, FlushInterval: time.Hour})
	b.Start()
	defer b.Stop()

	src.push(newEvent("1"))
	src.push(newEvent("2"))
	src.push(newEvent("3"))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	batches := rec.snapshot()
	assert.Len(t, batches[0], 3)
}

func TestTimeTrigger(t *testing.T) {
	src := newFakeSource(10)
	rec := &recorder{}
	b := New(src, rec.dispatch, Options{BatchSize: 1000, FlushInterval: 30 * time.Millisecond})
	b.Start()
	defer b.Stop()

	src.push(newEvent("1"))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, rec.snapshot()[0], 1)
}

func TestEmptyTickNeverDispatches(t *testing.T) {
	src := newFakeSource(10)
	rec := &recorder{}
	b := New(src, rec.dispatch, Options{BatchSize: 1000, FlushInterval: 10 * time.Millisecond})
	b.Start()
	defer b.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestStopFlushesFinalUndersizedBatch(t *testing.T) {
	src := newFakeSource(10)
	rec := &recorder{}
	b := New(src, rec.dispatch, Options{BatchSize: 1000, FlushInterval: time.Hour})
	b.Start()

	src.push(newEvent("1"))
	src.push(newEvent("2"))

	b.Stop()

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestStopIsIdempotent(t *testing.T) {
	src := newFakeSource(10)
	rec := &recorder{}
	b := New(src, rec.dispatch, Options{BatchSize: 10, FlushInterval: time.Hour})
	b.Start()

	b.Stop()
	assert.NotPanics(t, func() { b.Stop() })
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}
	opts.applyDefaults()
	assert.Equal(t, DefaultBatchSize, opts.BatchSize)
	assert.Equal(t, DefaultFlushInterval, opts.FlushInterval)

	opts = Options{FlushInterval: time.Microsecond}
	opts.applyDefaults()
	assert.Equal(t, MinFlushInterval, opts.FlushInterval)
}
