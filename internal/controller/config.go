// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/callscope/callscope/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/callscope/callscope/adapter"
)

// ErrConfig marks invalid flags or options. Fatal, pre-execution.
var ErrConfig = errors.New("invalid configuration")

// Memory trigger mode names accepted on the command line.
const (
	MemTriggerInterval   = "interval"
	MemTriggerAllocCount = "alloc-count"
)

// Config is one run's full configuration, assembled from the command
// line by the caller.
type Config struct {
	// Language selects the adapter.
	Language string

	// Entrypoint and Args describe the target invocation.
	Entrypoint string
	Args       []string

	// SampleInterval is the memory sampler cadence.
	SampleInterval time.Duration

	// MemTriggerMode is "interval" or "alloc-count".
	MemTriggerMode string

	// AllocEventThreshold is the alloc-count trigger threshold;
	// 0 keeps the sampler default.
	AllocEventThreshold uint64

	// MaxEventsPerSec bounds adapter-side allocation event delivery;
	// 0 disables rate limiting.
	MaxEventsPerSec int

	// QueueSize is the bounded event queue capacity.
	QueueSize uint

	// BlockOnFullQueue opts into accuracy-over-liveness: the adapter
	// stalls instead of dropping when the queue is full.
	BlockOnFullQueue bool

	// SplitRecursion disables merging recursive calls into one node.
	SplitRecursion bool

	// GracePeriod is the window between SIGTERM and SIGKILL on
	// termination requests.
	GracePeriod time.Duration

	// Timeout bounds the whole run; 0 means unbounded.
	Timeout time.Duration

	VerboseMode bool

	// Adapter overrides registry lookup when set. Used by tests and
	// embedders driving the engine with a custom event source.
	Adapter adapter.Adapter

	// Fs is the flag set the config was parsed from, for Dump.
	Fs *flag.FlagSet
}

// DefaultQueueSize bounds the adapter-to-aggregator event queue.
const DefaultQueueSize = 8192

// Validate returns an error wrapping ErrConfig for invalid values.
func (cfg *Config) Validate() error {
	if cfg.Entrypoint == "" {
		return fmt.Errorf("%w: no target entrypoint", ErrConfig)
	}
	if cfg.Language == "" && cfg.Adapter == nil {
		return fmt.Errorf("%w: no language selected", ErrConfig)
	}
	if cfg.SampleInterval < 0 {
		return fmt.Errorf("%w: negative sample interval %v",
			ErrConfig, cfg.SampleInterval)
	}
	if cfg.MaxEventsPerSec < 0 {
		return fmt.Errorf("%w: negative event rate limit %d",
			ErrConfig, cfg.MaxEventsPerSec)
	}
	switch cfg.MemTriggerMode {
	case "", MemTriggerInterval, MemTriggerAllocCount:
	default:
		return fmt.Errorf("%w: unknown memory trigger mode %q",
			ErrConfig, cfg.MemTriggerMode)
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return nil
}

// Dump logs all flag values. Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	if cfg.Fs == nil {
		return
	}
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debugf("%s: %v", f.Name, f.Value)
	})
}
