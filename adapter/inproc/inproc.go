// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package inproc is the reference EventSource implementation: it replays
// a prepared event stream while the target runs uninstrumented. It exists
// to pin down the adapter contract and to drive the engine in tests
// without a language runtime.
package inproc // import "github.com/callscope/callscope/adapter/inproc"

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/callscope/callscope/adapter"
	"github.com/callscope/callscope/libprof"
	"github.com/callscope/callscope/target"
)

// Language is the registry name of the reference adapter.
const Language = "inproc"

// Compile time check to make sure the contract is satisfied.
var (
	_ adapter.Adapter     = (*Adapter)(nil)
	_ adapter.EventSource = (*source)(nil)
)

// Adapter replays its script once per installed source. Events must be
// ordered per thread, as the contract requires from any real hook.
type Adapter struct {
	// Script is the event stream to deliver, run-relative timestamps.
	Script []libprof.Event
}

// New creates a replay adapter for the given script.
func New(script []libprof.Event) *Adapter {
	return &Adapter{Script: script}
}

func (a *Adapter) Language() string { return Language }

// Install binds a replay source to one run of the described target.
func (a *Adapter) Install(_ context.Context, desc target.Descriptor,
	engine *adapter.Engine) (adapter.EventSource, error) {
	if engine == nil || engine.Sink == nil {
		return nil, fmt.Errorf("%w: no engine sink", adapter.ErrAttach)
	}
	return &source{
		desc:   desc,
		engine: engine,
		script: a.Script,
		done:   make(chan struct{}),
	}, nil
}

type source struct {
	desc   target.Descriptor
	engine *adapter.Engine
	script []libprof.Event

	done    chan struct{}
	pumpErr error

	sampled atomic.Bool
	dropped atomic.Uint64
}

// Start launches the target and replays the script into the sink.
func (s *source) Start(ctx context.Context) (*target.Handle, error) {
	cmd := exec.Command(s.desc.Entrypoint, s.desc.Args...)
	cmd.Dir = s.desc.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	handle, err := target.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrAttach, err)
	}

	go s.pump(ctx)
	return handle, nil
}

// pump delivers the script in order, applying the allocation rate limit
// against the script's own timestamps so replays stay deterministic.
func (s *source) pump(ctx context.Context) {
	defer close(s.done)

	var windowStart time.Duration
	var windowCount int
	limit := s.engine.MaxEventsPerSec

	for _, ev := range s.script {
		if limit > 0 && ev.Kind == libprof.EventKindAlloc {
			if ev.Timestamp-windowStart >= time.Second {
				windowStart = ev.Timestamp.Truncate(time.Second)
				windowCount = 0
			}
			if windowCount >= limit {
				// Never reordered, only thinned.
				s.sampled.Store(true)
				s.dropped.Add(1)
				continue
			}
			windowCount++
		}

		if err := s.engine.Sink.Push(ctx, ev); err != nil {
			s.pumpErr = err
			return
		}
	}
	log.Debugf("Replayed %d events", len(s.script))
}

// Close waits for the replay to finish delivering.
func (s *source) Close() error {
	<-s.done
	return s.pumpErr
}

func (s *source) Stats() adapter.SourceStats {
	return adapter.SourceStats{
		Sampled: s.sampled.Load(),
		Dropped: s.dropped.Load(),
	}
}
