// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package aggregator // import "github.com/callscope/callscope/aggregator"

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/callscope/callscope/libprof"
)

// frame is one live invocation on a thread's active stack. It is owned
// exclusively by the thread's consumer goroutine.
type frame struct {
	// node is the call-tree node this invocation aggregates into.
	node int32

	// fn is the identity recorded at enter, used to verify exits.
	fn libprof.FunctionID

	// entry is the enter timestamp.
	entry time.Duration

	// childTime accumulates the cumulative time of completed children,
	// subtracted from this frame's span to yield self time.
	childTime time.Duration

	// allocBytes accumulates allocations observed while this frame was
	// the top of the stack.
	allocBytes uint64

	// merged is set when this invocation re-entered a function already
	// active on the path. Its span is covered by the outer invocation
	// and contributes call count and allocations only.
	merged bool
}

// ThreadProfile is the finalized per-thread result: the call tree plus the
// quality flags for that thread's stream.
type ThreadProfile struct {
	// TID is the target thread the profile describes.
	TID libprof.TID

	// Tree is the aggregated call tree. Read-only after finalization.
	Tree *CallTree

	// Degraded is set when the stream violated stack discipline or time
	// ordering; the statistics are then best-effort.
	Degraded bool

	// Truncated is set when the stream closed with open frames.
	Truncated bool

	// FreedBytes is the deallocation volume reported for the thread.
	FreedBytes uint64

	// Samples holds adapter-taken memory samples seen on this stream.
	Samples []libprof.MemorySample
}

// threadConsumer is the per-thread state machine. Idle when the stack is
// empty; running otherwise. It is driven by exactly one goroutine.
type threadConsumer struct {
	profile *ThreadProfile

	split bool

	stack []frame

	// lastTS tracks the monotonicity invariant of the stream.
	lastTS time.Duration
}

func newThreadConsumer(tid libprof.TID, splitRecursion bool) *threadConsumer {
	return &threadConsumer{
		profile: &ThreadProfile{
			TID:  tid,
			Tree: NewCallTree(),
		},
		split: splitRecursion,
	}
}

// handle advances the state machine by one event.
func (c *threadConsumer) handle(ev libprof.Event) {
	ts := ev.Timestamp
	if ts < c.lastTS {
		// Out-of-order delivery breaks the adapter contract. Keep
		// aggregating with a clamped timestamp but flag the thread.
		c.markDegraded("timestamp regression (%v < %v)", ts, c.lastTS)
		ts = c.lastTS
	}
	c.lastTS = ts

	switch ev.Kind {
	case libprof.EventKindEnter:
		c.handleEnter(ev.Function, ts)
	case libprof.EventKindExit:
		c.handleExit(ev.Function, ts)
	case libprof.EventKindAlloc:
		c.handleAlloc(ev.Size)
	case libprof.EventKindDealloc:
		c.profile.FreedBytes += ev.Size
	case libprof.EventKindSample:
		c.profile.Samples = append(c.profile.Samples, libprof.MemorySample{
			Timestamp:     ts,
			ResidentBytes: ev.Resident,
			HeapBytes:     ev.Size,
		})
	default:
		c.markDegraded("unknown event kind %d", uint8(ev.Kind))
	}
}

func (c *threadConsumer) handleEnter(fn libprof.FunctionID, ts time.Duration) {
	if !c.split {
		// Merge policy: a re-entry of a function already active on
		// this path folds into the existing node instead of growing
		// the tree without bound.
		for i := len(c.stack) - 1; i >= 0; i-- {
			if c.stack[i].fn == fn {
				c.stack = append(c.stack, frame{
					node:   c.stack[i].node,
					fn:     fn,
					entry:  ts,
					merged: true,
				})
				return
			}
		}
	}

	parent := RootIndex
	if len(c.stack) > 0 {
		parent = c.stack[len(c.stack)-1].node
	}
	c.stack = append(c.stack, frame{
		node:  c.profile.Tree.childOf(parent, fn),
		fn:    fn,
		entry: ts,
	})
}

func (c *threadConsumer) handleExit(fn libprof.FunctionID, ts time.Duration) {
	if len(c.stack) == 0 {
		c.markDegraded("orphan exit for %s", fn)
		return
	}
	top := &c.stack[len(c.stack)-1]
	if fn.Valid() && top.fn != fn {
		c.markDegraded("exit %s does not match open frame %s", fn, top.fn)
		return
	}
	c.popFrame(ts)
}

// popFrame completes the topmost frame at time ts and attributes its
// metrics to the call tree.
func (c *threadConsumer) popFrame(ts time.Duration) {
	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]

	node := c.profile.Tree.Node(top.node)
	node.CallCount++
	node.AllocBytes += top.allocBytes

	if top.merged {
		// The outer invocation of the same node covers this span, but
		// time spent in this invocation's children still has to reach
		// the outer frame, or it would surface as self time there.
		if len(c.stack) > 0 {
			c.stack[len(c.stack)-1].childTime += top.childTime
		}
		return
	}

	cumulative := ts - top.entry
	self := cumulative - top.childTime
	if self < 0 {
		// Cannot happen for well-formed streams: children complete
		// within their parent's span.
		self = 0
	}
	node.Cumulative += cumulative
	node.Self += self

	if len(c.stack) > 0 {
		c.stack[len(c.stack)-1].childTime += cumulative
	}
}

func (c *threadConsumer) handleAlloc(size uint64) {
	if len(c.stack) == 0 {
		// No attribution possible; account at the root.
		c.profile.Tree.Node(RootIndex).AllocBytes += size
		return
	}
	c.stack[len(c.stack)-1].allocBytes += size
}

// finalize closes the stream at closeTS. Frames still open (target died
// mid-call) become best-effort nodes and mark the profile truncated.
func (c *threadConsumer) finalize(closeTS time.Duration) *ThreadProfile {
	if closeTS < c.lastTS {
		closeTS = c.lastTS
	}
	if len(c.stack) > 0 {
		c.profile.Truncated = true
		for len(c.stack) > 0 {
			c.popFrame(closeTS)
		}
	}
	return c.profile
}

func (c *threadConsumer) markDegraded(format string, args ...any) {
	if !c.profile.Degraded {
		c.profile.Degraded = true
		log.Warnf("Thread %d stream corrupted: "+format,
			append([]any{uint32(c.profile.TID)}, args...)...)
	}
}
