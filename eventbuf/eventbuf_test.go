// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package eventbuf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/libprof"
)

func enterEvent(ts int64, tid libprof.TID) libprof.Event {
	return libprof.Event{
		Kind:      libprof.EventKindEnter,
		Timestamp: time.Duration(ts),
		TID:       tid,
		Function:  libprof.NewFunctionID("m", "f", 1),
	}
}

func allocEvent(ts int64, tid libprof.TID, size uint64) libprof.Event {
	return libprof.Event{
		Kind:      libprof.EventKindAlloc,
		Timestamp: time.Duration(ts),
		TID:       tid,
		Size:      size,
	}
}

func TestQueueInvalidSize(t *testing.T) {
	_, err := New(0, PolicyDropOldest)
	require.Error(t, err)
}

func TestQueueOrderPreserved(t *testing.T) {
	q, err := New(8, PolicyDropOldest)
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		require.NoError(t, q.Push(ctx, enterEvent(i, 1)))
	}

	evs := q.Drain()
	require.Len(t, evs, 5)
	for i, ev := range evs {
		assert.Equal(t, time.Duration(i), ev.Timestamp)
	}
	assert.Zero(t, q.Dropped())
}

func TestQueueDropsAllocationsFirst(t *testing.T) {
	q, err := New(4, PolicyDropOldest)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Push(ctx, enterEvent(0, 1)))
	require.NoError(t, q.Push(ctx, allocEvent(1, 1, 64)))
	require.NoError(t, q.Push(ctx, enterEvent(2, 1)))
	require.NoError(t, q.Push(ctx, enterEvent(3, 1)))
	// Queue is full. The alloc event must be the eviction victim, not
	// the older enter event.
	require.NoError(t, q.Push(ctx, enterEvent(4, 1)))

	evs := q.Drain()
	require.Len(t, evs, 4)
	for _, ev := range evs {
		assert.Equal(t, libprof.EventKindEnter, ev.Kind)
	}
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueueDropsOldestWhenNoLowValue(t *testing.T) {
	q, err := New(3, PolicyDropOldest)
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		require.NoError(t, q.Push(ctx, enterEvent(i, 1)))
	}

	evs := q.Drain()
	require.Len(t, evs, 3)
	assert.Equal(t, time.Duration(2), evs[0].Timestamp)
	assert.Equal(t, uint64(2), q.Dropped())
}

func TestQueueBlockingPolicy(t *testing.T) {
	q, err := New(2, PolicyBlock)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Push(ctx, enterEvent(0, 1)))
	require.NoError(t, q.Push(ctx, enterEvent(1, 1)))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Push(ctx, enterEvent(2, 1))
	}()

	select {
	case <-unblocked:
		t.Fatal("push into a full blocking queue must not return")
	case <-time.After(50 * time.Millisecond):
	}

	evs := q.Drain()
	require.Len(t, evs, 2)
	require.NoError(t, <-unblocked)

	evs = q.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, time.Duration(2), evs[0].Timestamp)
	assert.Zero(t, q.Dropped())
}

func TestQueueBlockingPolicyCancel(t *testing.T) {
	q, err := New(1, PolicyBlock)
	require.NoError(t, err)

	require.NoError(t, q.Push(context.Background(), enterEvent(0, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = q.Push(ctx, enterEvent(1, 1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueueWaitDrainClose(t *testing.T) {
	q, err := New(4, PolicyDropOldest)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Push(ctx, enterEvent(0, 1)))
	q.Close()

	evs, ok := q.WaitDrain(ctx)
	require.True(t, ok)
	require.Len(t, evs, 1)

	_, ok = q.WaitDrain(ctx)
	require.False(t, ok)

	// Pushes after Close are rejected and counted.
	require.Error(t, q.Push(ctx, enterEvent(1, 1)))
	assert.Equal(t, uint64(1), q.Dropped())
}
