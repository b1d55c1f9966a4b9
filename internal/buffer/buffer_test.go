package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglayer/sqlitesink/internal/event"
)

func newEvent(msg string) *event.LogEvent {
	return event.New(time.Now(), event.Information, msg)
}

func TestPushAndDequeueFIFO(t *testing.T) {
	b := New(4, nil)

	require.True(t, b.Push(newEvent("1")))
	require.True(t, b.Push(newEvent("2")))
	require.True(t, b.Push(newEvent("3")))

	ctx := context.Background()
	ev, ok := b.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", ev.RenderedMessage)

	ev, ok = b.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", ev.RenderedMessage)
}

func TestPushDropsWhenFull(t *testing.T) {
	b := New(2, nil)

	require.True(t, b.Push(newEvent("1")))
	require.True(t, b.Push(newEvent("2")))
	assert.False(t, b.Push(newEvent("3")))

	assert.Equal(t, int64(1), b.Stats().Dropped)
}

func TestDequeueCancellation(t *testing.T) {
	b := New(2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := b.Dequeue(ctx)
	assert.False(t, ok)
}

func TestTryDequeueEmpty(t *testing.T) {
	b := New(2, nil)
	_, ok := b.TryDequeue()
	assert.False(t, ok)
}

func TestWarnThresholdFiresOnce(t *testing.T) {
	var warns int
	b := New(4, func() { warns++ }) // warnThreshold = 3

	b.Push(newEvent("1"))
	b.Push(newEvent("2"))
	assert.Equal(t, 0, warns)

	b.Push(newEvent("3")) // crosses 75%
	assert.Equal(t, 1, warns)

	b.Push(newEvent("4")) // still over, no repeat warn
	assert.Equal(t, 1, warns)
}

func TestStatsReportsCapacity(t *testing.T) {
	b := New(10, nil)
	b.Push(newEvent("1"))

	stats := b.Stats()
	assert.Equal(t, 1, stats.Len)
	assert.Equal(t, 10, stats.Cap)
}
