// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregator reconstructs per-thread call trees with timing and
// allocation metrics from an adapter's raw event stream.
package aggregator // import "github.com/callscope/callscope/aggregator"

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/callscope/callscope/eventbuf"
	"github.com/callscope/callscope/libprof"
)

// Config carries the per-run aggregation tunables.
type Config struct {
	// SplitRecursion disables the default merging of recursive
	// re-entries into one node. With splitting, each recursion depth
	// becomes its own child node.
	SplitRecursion bool

	// ConsumerQueueSize is the buffer of each per-thread consumer
	// channel. The dispatcher blocks on a full consumer, which only
	// backpressures the shared queue, never the target.
	ConsumerQueueSize int
}

// DefaultConsumerQueueSize is used when Config.ConsumerQueueSize is 0.
const DefaultConsumerQueueSize = 512

// Aggregator drains the event queue and fans events out to one consumer
// goroutine per target thread. Each ThreadProfile is exclusively owned by
// its consumer until Wait returns.
type Aggregator struct {
	cfg Config

	group *errgroup.Group

	// consumers maps a thread to its event channel. Only the dispatcher
	// goroutine touches the map.
	consumers map[libprof.TID]chan libprof.Event

	// results receives every finalized ThreadProfile.
	results chan *ThreadProfile

	// closeTS is the largest timestamp observed, in nanoseconds; open
	// frames are closed against it when the stream ends. Atomic because
	// consumers read it during finalization while the dispatcher may
	// still be routing a canceled run's tail.
	closeTS atomic.Int64

	profiles []*ThreadProfile
}

// New creates an Aggregator with the given configuration.
func New(cfg Config) *Aggregator {
	if cfg.ConsumerQueueSize <= 0 {
		cfg.ConsumerQueueSize = DefaultConsumerQueueSize
	}
	return &Aggregator{
		cfg:       cfg,
		consumers: make(map[libprof.TID]chan libprof.Event),
	}
}

// Run consumes the queue until it is closed and drained, or ctx is
// canceled. It must be called exactly once and blocks until every
// per-thread consumer has finalized its profile.
func (a *Aggregator) Run(ctx context.Context, q *eventbuf.Queue) error {
	a.group, ctx = errgroup.WithContext(ctx)
	a.results = make(chan *ThreadProfile)

	for {
		events, ok := q.WaitDrain(ctx)
		if !ok {
			break
		}
		for _, ev := range events {
			if ns := int64(ev.Timestamp); ns > a.closeTS.Load() {
				a.closeTS.Store(ns)
			}
			a.dispatch(ctx, ev)
		}
	}

	return a.shutdown()
}

// dispatch routes one event to its thread's consumer, starting the
// consumer on first sight of the thread.
func (a *Aggregator) dispatch(ctx context.Context, ev libprof.Event) {
	ch, ok := a.consumers[ev.TID]
	if !ok {
		ch = make(chan libprof.Event, a.cfg.ConsumerQueueSize)
		a.consumers[ev.TID] = ch
		a.startConsumer(ctx, ev.TID, ch)
		log.Debugf("Started consumer for thread %d", uint32(ev.TID))
	}

	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func (a *Aggregator) startConsumer(ctx context.Context, tid libprof.TID,
	ch chan libprof.Event) {
	a.group.Go(func() error {
		consumer := newThreadConsumer(tid, a.cfg.SplitRecursion)
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					a.results <- consumer.finalize(a.streamCloseTS())
					return nil
				}
				consumer.handle(ev)
			case <-ctx.Done():
				// Drain what is already buffered, then finalize.
				for {
					select {
					case ev, ok := <-ch:
						if !ok {
							a.results <- consumer.finalize(a.streamCloseTS())
							return nil
						}
						consumer.handle(ev)
					default:
						a.results <- consumer.finalize(a.streamCloseTS())
						return nil
					}
				}
			}
		}
	})
}

func (a *Aggregator) streamCloseTS() time.Duration {
	return time.Duration(a.closeTS.Load())
}

// shutdown closes all consumer channels and collects the profiles.
func (a *Aggregator) shutdown() error {
	for _, ch := range a.consumers {
		close(ch)
	}

	collected := make(chan libprof.Void)
	go func() {
		defer close(collected)
		for p := range a.results {
			a.profiles = append(a.profiles, p)
		}
	}()

	err := a.group.Wait()
	close(a.results)
	<-collected

	sort.Slice(a.profiles, func(i, j int) bool {
		return a.profiles[i].TID < a.profiles[j].TID
	})
	return err
}

// Profiles returns the finalized per-thread profiles ordered by thread ID.
// Only valid after Run has returned.
func (a *Aggregator) Profiles() []*ThreadProfile {
	return a.profiles
}

// AdapterSamples returns memory samples that arrived in-band on the event
// streams, merged across threads in timestamp order.
func (a *Aggregator) AdapterSamples() []libprof.MemorySample {
	var samples []libprof.MemorySample
	for _, p := range a.profiles {
		samples = append(samples, p.Samples...)
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp < samples[j].Timestamp
	})
	return samples
}

// Truncated reports whether any thread closed with open frames.
func (a *Aggregator) Truncated() bool {
	for _, p := range a.profiles {
		if p.Truncated {
			return true
		}
	}
	return false
}
