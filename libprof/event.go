// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package libprof holds the core data types shared between the adapters,
// the aggregator and the reporting layer.
package libprof // import "github.com/callscope/callscope/libprof"

import (
	"fmt"
	"time"
)

// TID identifies one thread of execution inside the target.
type TID uint32

// EventKind enumerates the event types an adapter may deliver.
type EventKind uint8

const (
	EventKindInvalid EventKind = iota
	// EventKindEnter marks a function invocation on a thread.
	EventKindEnter
	// EventKindExit marks the return of the most recent unmatched enter
	// on the same thread.
	EventKindExit
	// EventKindAlloc reports an allocation of Size bytes.
	EventKindAlloc
	// EventKindDealloc reports a deallocation of Size bytes.
	EventKindDealloc
	// EventKindSample carries an adapter-taken memory sample.
	EventKindSample
)

func (k EventKind) String() string {
	switch k {
	case EventKindEnter:
		return "enter"
	case EventKindExit:
		return "exit"
	case EventKindAlloc:
		return "alloc"
	case EventKindDealloc:
		return "dealloc"
	case EventKindSample:
		return "sample"
	default:
		return fmt.Sprintf("<invalid event kind %d>", uint8(k))
	}
}

// StackDelimited reports whether stack-discipline correctness depends on
// this event kind. Under queue pressure non-delimiting events are the
// ones evicted first.
func (k EventKind) StackDelimited() bool {
	return k == EventKindEnter || k == EventKindExit
}

// Event is one element of the time-ordered stream an adapter emits.
// Timestamps are monotonic nanoseconds relative to the adapter's own
// clock base; within one thread they must be non-decreasing.
type Event struct {
	// Timestamp is the monotonic occurrence time of the event.
	Timestamp time.Duration

	// Function identifies the function for enter/exit events. It is the
	// zero value for memory events that carry no attribution.
	Function FunctionID

	// Size is the payload byte count for alloc/dealloc events, and the
	// heap byte count for sample events.
	Size uint64

	// Resident is the resident set size for sample events, 0 otherwise.
	Resident uint64

	// TID is the target thread the event occurred on.
	TID TID

	// Kind discriminates the payload fields above.
	Kind EventKind
}

// MemorySample is one point of the memory time series.
type MemorySample struct {
	// Timestamp is monotonic time relative to the run start.
	Timestamp time.Duration

	// ResidentBytes is the resident set size of the target process.
	ResidentBytes uint64

	// HeapBytes is the heap in use as reported by the language runtime,
	// 0 when the adapter cannot observe it.
	HeapBytes uint64
}
