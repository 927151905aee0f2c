// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter defines the capability contract a language-specific hook
// implementation must satisfy to feed the engine an ordered event stream.
package adapter // import "github.com/callscope/callscope/adapter"

import (
	"context"
	"errors"

	"github.com/callscope/callscope/libprof"
	"github.com/callscope/callscope/target"
)

var (
	// ErrUnsupported is returned when no adapter is registered for the
	// requested language. Fatal, pre-execution.
	ErrUnsupported = errors.New("no adapter for requested language")

	// ErrAttach is returned when hook installation fails. Fatal,
	// pre-execution: no event has been produced yet.
	ErrAttach = errors.New("adapter attach failure")
)

// Sink accepts events in true per-thread occurrence order. The engine
// injects its bounded queue here; adapters never see the queue directly.
type Sink interface {
	Push(ctx context.Context, ev libprof.Event) error
}

// Engine is the handle an adapter receives at install time.
type Engine struct {
	// Sink receives the event stream.
	Sink Sink

	// MaxEventsPerSec bounds high-frequency allocation event delivery.
	// 0 disables adapter-side rate limiting. An adapter that limits
	// must mark its stream sampled and count the drops; it must never
	// reorder events instead.
	MaxEventsPerSec int
}

// SourceStats describes the delivery quality of a finished stream.
type SourceStats struct {
	// Sampled is set when the adapter rate-limited allocation events.
	Sampled bool

	// Dropped is the number of events the adapter chose not to deliver.
	Dropped uint64
}

// EventSource is one installed instrumentation session.
type EventSource interface {
	// Start launches the target under instrumentation and begins
	// pumping events into the engine's sink. It returns once the
	// process is running.
	Start(ctx context.Context) (*target.Handle, error)

	// Close flushes and releases the hook resources. The stream is
	// complete once Close returns; Stats is valid from then on.
	Close() error

	// Stats reports the delivery quality of the stream.
	Stats() SourceStats
}

// Adapter is the per-language hook mechanism. Implementations register
// themselves; the execution controller is the only caller of Install.
type Adapter interface {
	// Language returns the runtime this adapter instruments.
	Language() string

	// Install binds the hooks for one run of the described target.
	// Failures here are fatal and happen before any event is produced.
	Install(ctx context.Context, desc target.Descriptor,
		engine *Engine) (EventSource, error)
}
