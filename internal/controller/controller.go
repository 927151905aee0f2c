// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller wires the adapter, event queue, aggregator and
// memory sampler into one profiling run and finalizes the report.
package controller // import "github.com/callscope/callscope/internal/controller"

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/callscope/callscope/adapter"
	"github.com/callscope/callscope/aggregator"
	"github.com/callscope/callscope/eventbuf"
	"github.com/callscope/callscope/libprof"
	"github.com/callscope/callscope/memsampler"
	"github.com/callscope/callscope/report"
	"github.com/callscope/callscope/target"
)

// Controller runs one profiling session end to end.
type Controller struct {
	config *Config
}

// New creates a controller for a validated config.
func New(cfg *Config) *Controller {
	return &Controller{config: cfg}
}

// Result is the outcome of a run.
type Result struct {
	// Report is the finalized document. Never nil once the target has
	// started, even for crashed or cancelled runs.
	Report *report.Report

	// Status classifies the target's termination.
	Status target.ExitStatus
}

// countingSink feeds the bounded queue and lets the sampler observe
// allocation events for its alloc-count trigger mode.
type countingSink struct {
	queue   *eventbuf.Queue
	sampler *memsampler.Sampler
}

var _ adapter.Sink = (*countingSink)(nil)

func (s *countingSink) Push(ctx context.Context, ev libprof.Event) error {
	if ev.Kind == libprof.EventKindAlloc {
		s.sampler.ObserveAllocEvent()
	}
	return s.queue.Push(ctx, ev)
}

// lateBoundReader defers memory stat access until the target PID exists.
type lateBoundReader struct {
	read atomic.Pointer[memsampler.ReadFunc]
}

func (r *lateBoundReader) sample() (uint64, uint64, error) {
	if fn := r.read.Load(); fn != nil {
		return (*fn)()
	}
	return 0, 0, fmt.Errorf("target not started yet")
}

// Run executes the whole session: resolve the adapter, start the target
// under instrumentation, drain its event stream, and finalize the
// report. Cancelling ctx requests cooperative target termination.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	cfg := c.config

	adpt := cfg.Adapter
	if adpt == nil {
		var err error
		if adpt, err = adapter.Lookup(cfg.Language); err != nil {
			return nil, err
		}
	}

	policy := eventbuf.PolicyDropOldest
	if cfg.BlockOnFullQueue {
		policy = eventbuf.PolicyBlock
	}
	queue, err := eventbuf.New(uint32(cfg.QueueSize), policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	reader := &lateBoundReader{}
	sampler := memsampler.New(samplerConfig(cfg), reader.sample)

	sink := &countingSink{queue: queue, sampler: sampler}
	desc := target.Descriptor{
		Language:   cfg.Language,
		Entrypoint: cfg.Entrypoint,
		Args:       cfg.Args,
	}

	src, err := adpt.Install(ctx, desc, &adapter.Engine{
		Sink:            sink,
		MaxEventsPerSec: cfg.MaxEventsPerSec,
	})
	if err != nil {
		return nil, err
	}

	started := time.Now()
	handle, err := src.Start(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("Profiling %s target %s (pid %d)",
		adpt.Language(), cfg.Entrypoint, handle.PID())

	if procRead, rerr := memsampler.ProcessReader(handle.PID()); rerr != nil {
		log.Warnf("Memory sampling disabled: %v", rerr)
	} else {
		reader.read.Store(&procRead)
	}

	agg := aggregator.New(aggregator.Config{
		SplitRecursion: cfg.SplitRecursion,
	})

	// The aggregator must never be torn down by run cancellation: it
	// has to drain whatever the stream delivered before closing.
	samplerCtx, samplerCancel := context.WithCancel(context.Background())
	var group errgroup.Group

	group.Go(func() error {
		return agg.Run(context.Background(), queue)
	})
	group.Go(func() error {
		return sampler.Run(samplerCtx)
	})

	// Operator cancellation and run timeout both degrade to a
	// cooperative terminate; the reaper below handles the rest.
	go func() {
		var timeout <-chan time.Time
		if cfg.Timeout > 0 {
			timer := time.NewTimer(cfg.Timeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-handle.Done():
		case <-ctx.Done():
			handle.Terminate(cfg.GracePeriod)
		case <-timeout:
			log.Warnf("Run exceeded timeout %v, terminating target",
				cfg.Timeout)
			handle.Terminate(cfg.GracePeriod)
		}
	}()

	status := handle.Wait()
	wallTime := time.Since(started)

	// Flush the tail of the stream, then let the consumers finish.
	if cerr := src.Close(); cerr != nil {
		log.Warnf("Event source close: %v", cerr)
	}
	queue.Close()
	samplerCancel()
	if gerr := group.Wait(); gerr != nil {
		return nil, fmt.Errorf("aggregation failed: %w", gerr)
	}

	stats := src.Stats()
	rep := report.Build(report.BuildInfo{
		RunID: uuid.New().String(),
		Target: report.Target{
			Language:   adpt.Language(),
			Entrypoint: cfg.Entrypoint,
			Argv:       cfg.Args,
		},
		WallTime:    wallTime,
		CPUTime:     handle.CPUTime(),
		Truncated:   !status.Clean() || agg.Truncated(),
		Dropped:     queue.Dropped() + stats.Dropped,
		Profiles:    agg.Profiles(),
		Samples:     mergeSamples(sampler.Samples(), agg.AdapterSamples()),
		Adjustments: sampler.Adjustments(),
		Exit: &report.Exit{
			Kind:   status.Kind.String(),
			Code:   status.Code,
			Signal: int(status.Signal),
		},
	})

	log.Infof("Run finished: %s, wall time %v, %d threads, %d dropped events",
		status.Kind, wallTime.Round(time.Millisecond),
		len(rep.Threads), rep.DroppedEventsCount)
	return &Result{Report: rep, Status: status}, nil
}

func samplerConfig(cfg *Config) memsampler.Config {
	mode := memsampler.TriggerInterval
	if cfg.MemTriggerMode == MemTriggerAllocCount {
		mode = memsampler.TriggerAllocCount
	}
	return memsampler.Config{
		Interval:            cfg.SampleInterval,
		Mode:                mode,
		AllocEventThreshold: cfg.AllocEventThreshold,
	}
}

// mergeSamples interleaves sampler-taken and adapter-delivered samples
// into one series ordered by timestamp.
func mergeSamples(a, b []libprof.MemorySample) []libprof.MemorySample {
	merged := make([]libprof.MemorySample, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
