// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventbuf provides the bounded queue that decouples an adapter's
// event production from the aggregator's consumption.
package eventbuf // import "github.com/callscope/callscope/eventbuf"

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/callscope/callscope/libprof"
)

// Policy selects the behavior of Push when the queue is full.
type Policy uint8

const (
	// PolicyDropOldest evicts queued events to make room, preferring the
	// oldest allocation/sample event over enter/exit events. The target
	// is never delayed; dropped events are counted.
	PolicyDropOldest Policy = iota

	// PolicyBlock suspends the producer until the consumer catches up.
	// Accurate, but the stall is visible in the target's timings.
	PolicyBlock
)

func (p Policy) String() string {
	switch p {
	case PolicyDropOldest:
		return "drop-oldest"
	case PolicyBlock:
		return "block"
	default:
		return fmt.Sprintf("<invalid policy %d>", uint8(p))
	}
}

// Queue is a bounded ring buffer of events, safe for one producer and one
// consumer. The overflow policy is injected per instance so a run can force
// either branch deterministically.
type Queue struct {
	mu sync.Mutex

	// data holds the ring storage.
	data []libprof.Event

	// readPos is the offset of the oldest queued element.
	readPos uint32

	// writePos is the offset the next element is placed at.
	writePos uint32

	// count is the number of queued elements.
	count uint32

	// size is the ring capacity.
	size uint32

	policy Policy

	// dropped counts events evicted or rejected under pressure.
	dropped atomic.Uint64

	// signal wakes the consumer after a Push into an empty queue.
	signal chan libprof.Void

	// space wakes a blocked producer after a drain.
	space chan libprof.Void

	// done is closed by Close; no Push is accepted afterwards.
	done chan libprof.Void

	closeOnce sync.Once

	warnedFull bool
}

// New creates a queue with the given capacity and overflow policy.
func New(size uint32, policy Policy) (*Queue, error) {
	if size == 0 {
		return nil, fmt.Errorf("unsupported queue size: %d", size)
	}
	return &Queue{
		data:   make([]libprof.Event, size),
		size:   size,
		policy: policy,
		signal: make(chan libprof.Void, 1),
		space:  make(chan libprof.Void, 1),
		done:   make(chan libprof.Void),
	}, nil
}

// Push enqueues ev. Under PolicyDropOldest it never blocks. Under
// PolicyBlock it waits for space until ctx is canceled or the queue is
// closed. A push to a closed queue is counted as dropped.
func (q *Queue) Push(ctx context.Context, ev libprof.Event) error {
	for {
		q.mu.Lock()
		select {
		case <-q.done:
			q.mu.Unlock()
			q.dropped.Add(1)
			return fmt.Errorf("push to closed event queue")
		default:
		}

		if q.count < q.size {
			q.append(ev)
			q.mu.Unlock()
			q.notify(q.signal)
			return nil
		}

		if q.policy == PolicyDropOldest {
			q.evictOne()
			q.append(ev)
			q.mu.Unlock()
			q.notify(q.signal)
			return nil
		}

		// PolicyBlock: wait for the consumer.
		q.mu.Unlock()
		select {
		case <-q.space:
		case <-q.done:
		case <-ctx.Done():
			q.dropped.Add(1)
			return ctx.Err()
		}
	}
}

// append places ev at writePos. Caller holds q.mu and has ensured space.
func (q *Queue) append(ev libprof.Event) {
	q.data[q.writePos] = ev
	q.writePos = (q.writePos + 1) % q.size
	q.count++
	if q.count == q.size && !q.warnedFull {
		q.warnedFull = true
		log.Warnf("Event queue reached capacity (%d), policy %s engaged",
			q.size, q.policy)
	}
}

// evictOne removes the oldest low-value event, falling back to the oldest
// event overall. Stack discipline depends on enter/exit ordering, so
// allocation and sample events go first. Caller holds q.mu.
func (q *Queue) evictOne() {
	victim := uint32(0) // oldest element by default
	for i := uint32(0); i < q.count; i++ {
		pos := (q.readPos + i) % q.size
		if !q.data[pos].Kind.StackDelimited() {
			victim = i
			break
		}
	}

	// Shift the elements older than the victim up by one slot and
	// advance readPos over the vacated head.
	for i := victim; i > 0; i-- {
		dst := (q.readPos + i) % q.size
		src := (q.readPos + i - 1) % q.size
		q.data[dst] = q.data[src]
	}
	q.data[q.readPos] = libprof.Event{}
	q.readPos = (q.readPos + 1) % q.size
	q.count--
	q.dropped.Add(1)
}

// Drain removes and returns all queued events in order.
func (q *Queue) Drain() []libprof.Event {
	q.mu.Lock()
	defer func() {
		q.mu.Unlock()
		q.notify(q.space)
	}()

	out := make([]libprof.Event, q.count)
	for i := uint32(0); i < q.count; i++ {
		pos := (q.readPos + i) % q.size
		out[i] = q.data[pos]
		q.data[pos] = libprof.Event{}
	}
	q.readPos = q.writePos
	q.count = 0
	return out
}

// WaitDrain blocks until events are available, then drains them. It returns
// ok=false once the queue is closed and fully drained, or ctx is canceled.
func (q *Queue) WaitDrain(ctx context.Context) (events []libprof.Event, ok bool) {
	for {
		if evs := q.Drain(); len(evs) > 0 {
			return evs, true
		}
		select {
		case <-q.signal:
		case <-q.done:
			// Drain the race between a final Push and Close.
			if evs := q.Drain(); len(evs) > 0 {
				return evs, true
			}
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// notify performs a non-blocking send on a capacity-1 signal channel.
func (q *Queue) notify(ch chan libprof.Void) {
	select {
	case ch <- libprof.Void{}:
	default:
	}
}

// Close marks the end of the stream. Queued events remain drainable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Dropped returns the number of events lost to eviction or rejected pushes.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
