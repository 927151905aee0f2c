// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package memsampler periodically samples the target process memory into
// an append-only time series, independent of the event stream.
package memsampler // import "github.com/callscope/callscope/memsampler"

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/callscope/callscope/libprof"
)

// TriggerMode selects what drives the sampling cadence.
type TriggerMode uint8

const (
	// TriggerInterval samples on a fixed timer.
	TriggerInterval TriggerMode = iota

	// TriggerAllocCount samples after every AllocEventThreshold
	// allocation events observed on the stream.
	TriggerAllocCount
)

const (
	// DefaultInterval is the sampling interval when none is configured.
	DefaultInterval = 50 * time.Millisecond

	// DefaultMaxOverheadRatio is the fraction of wall time the sampler
	// may spend reading process stats before it backs off.
	DefaultMaxOverheadRatio = 0.05

	// DefaultAllocEventThreshold triggers a sample every N allocation
	// events in TriggerAllocCount mode.
	DefaultAllocEventThreshold = 1024

	// samplingJitter is the +/- fraction applied to the ticker period so
	// the sampler does not phase-lock with periodic target activity. Kept
	// small enough that the effective cadence stays within the documented
	// interval.
	samplingJitter = 0.02
)

// Config carries the per-run sampler tunables.
type Config struct {
	// Interval is the fixed timer period in TriggerInterval mode.
	Interval time.Duration

	// Mode selects the trigger.
	Mode TriggerMode

	// AllocEventThreshold is the event count per sample in
	// TriggerAllocCount mode.
	AllocEventThreshold uint64

	// MaxOverheadRatio bounds time-spent-sampling / elapsed-run-time.
	// When exceeded, the interval (or threshold) doubles and the
	// adjustment is recorded, never applied silently.
	MaxOverheadRatio float64
}

// ReadFunc reads the target's current memory state. Implementations must
// be safe to call from the sampler goroutine only.
type ReadFunc func() (residentBytes, heapBytes uint64, err error)

// Adjustment records one adaptive backoff decision for report metadata.
type Adjustment struct {
	// At is the run-relative time the adjustment took effect.
	At time.Duration

	// Interval is the new sampling interval (TriggerInterval mode).
	Interval time.Duration

	// AllocEventThreshold is the new threshold (TriggerAllocCount mode).
	AllocEventThreshold uint64
}

// Sampler owns an append-only sequence of MemorySamples. Single writer;
// readers must wait for Run to return.
type Sampler struct {
	cfg  Config
	read ReadFunc

	samples     []libprof.MemorySample
	adjustments []Adjustment

	// allocEvents counts allocation events toward the next triggered
	// sample. Written by ObserveAllocEvent callers, read by the run loop.
	allocEvents atomic.Uint64

	// threshold is the live alloc-event threshold; the run loop doubles
	// it under overhead pressure while producers keep reading it.
	threshold atomic.Uint64

	// trigger wakes the run loop in TriggerAllocCount mode.
	trigger chan libprof.Void

	// spent is the cumulative wall time consumed by stat reads.
	spent time.Duration
}

// New creates a Sampler reading memory state through read.
func New(cfg Config, read ReadFunc) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxOverheadRatio <= 0 {
		cfg.MaxOverheadRatio = DefaultMaxOverheadRatio
	}
	if cfg.AllocEventThreshold == 0 {
		cfg.AllocEventThreshold = DefaultAllocEventThreshold
	}
	s := &Sampler{
		cfg:     cfg,
		read:    read,
		trigger: make(chan libprof.Void, 1),
	}
	s.threshold.Store(cfg.AllocEventThreshold)
	return s
}

// ObserveAllocEvent counts one allocation event toward the next triggered
// sample. Safe to call from any goroutine; a no-op in TriggerInterval mode.
func (s *Sampler) ObserveAllocEvent() {
	if s.cfg.Mode != TriggerAllocCount {
		return
	}
	if s.allocEvents.Add(1) >= s.threshold.Load() {
		s.allocEvents.Store(0)
		select {
		case s.trigger <- libprof.Void{}:
		default:
		}
	}
}

// Run samples until ctx is canceled. It takes one immediate sample so even
// very short runs have a data point.
func (s *Sampler) Run(ctx context.Context) error {
	start := time.Now()
	interval := s.cfg.Interval

	ticker := time.NewTicker(libprof.AddJitter(interval, samplingJitter))
	defer ticker.Stop()

	s.sampleOnce(start)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.cfg.Mode != TriggerInterval {
				continue
			}
		case <-s.trigger:
			if s.cfg.Mode != TriggerAllocCount {
				continue
			}
		}

		s.sampleOnce(start)

		elapsed := time.Since(start)
		if elapsed <= 0 ||
			float64(s.spent)/float64(elapsed) <= s.cfg.MaxOverheadRatio {
			continue
		}

		// Overhead bound exceeded: trade accuracy for intrusiveness
		// and record the decision.
		adj := Adjustment{At: elapsed}
		switch s.cfg.Mode {
		case TriggerInterval:
			interval *= 2
			ticker.Reset(libprof.AddJitter(interval, samplingJitter))
			adj.Interval = interval
		case TriggerAllocCount:
			adj.AllocEventThreshold = s.threshold.Load() * 2
			s.threshold.Store(adj.AllocEventThreshold)
		}
		s.adjustments = append(s.adjustments, adj)
		log.Warnf("Memory sampling overhead above %.1f%%, backing off to %v",
			s.cfg.MaxOverheadRatio*100, adjustmentString(adj))
	}
}

func adjustmentString(adj Adjustment) string {
	if adj.Interval > 0 {
		return adj.Interval.String()
	}
	return fmt.Sprintf("every %d alloc events", adj.AllocEventThreshold)
}

func (s *Sampler) sampleOnce(start time.Time) {
	t0 := time.Now()
	resident, heap, err := s.read()
	s.spent += time.Since(t0)
	if err != nil {
		// The target may have exited between samples.
		log.Debugf("Memory sample failed: %v", err)
		return
	}
	s.samples = append(s.samples, libprof.MemorySample{
		Timestamp:     t0.Sub(start),
		ResidentBytes: resident,
		HeapBytes:     heap,
	})
}

// Samples returns the series. Only valid after Run has returned.
func (s *Sampler) Samples() []libprof.MemorySample {
	return s.samples
}

// Peak returns the maximum resident size over the run.
func (s *Sampler) Peak() uint64 {
	var peak uint64
	for _, sample := range s.samples {
		if sample.ResidentBytes > peak {
			peak = sample.ResidentBytes
		}
	}
	return peak
}

// Adjustments returns the adaptive backoff decisions taken during the run.
func (s *Sampler) Adjustments() []Adjustment {
	return s.adjustments
}
