// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/callscope/callscope/internal/controller"
)

const (
	// Default values for CLI flags
	defaultArgSampleInterval  = 50 * time.Millisecond
	defaultArgOutput          = "profile.json"
	defaultArgLanguage        = "python"
	defaultArgGracePeriod     = 5 * time.Second
	defaultArgMemTriggerMode  = controller.MemTriggerInterval
	defaultArgMaxEventsPerSec = 0
)

// Help strings for command line arguments
var (
	languageHelp = "Language adapter used to instrument the target " +
		"(e.g. python)."
	outputHelp = "Path for the JSON report. Use '-' for stdout."
	htmlHelp   = "Optional path for a self-contained HTML rendering " +
		"of the report."
	sampleIntervalHelp = "Memory sampling interval."
	memTriggerHelp     = fmt.Sprintf("Memory sampling trigger: %q samples "+
		"on a fixed interval, %q samples after a number of allocation "+
		"events.", controller.MemTriggerInterval, controller.MemTriggerAllocCount)
	allocEventThresholdHelp = "Allocation events between samples in " +
		"alloc-count trigger mode. 0 keeps the built-in default."
	maxEventsPerSecHelp = "Upper bound on allocation events delivered per " +
		"second. Excess events are dropped and the report flags the " +
		"stream as sampled. 0 disables the limit."
	queueSizeHelp = "Capacity of the bounded event queue between the " +
		"adapter and the aggregator."
	blockOnFullQueueHelp = "Stall the target instead of dropping events " +
		"when the queue is full. Trades target latency for accuracy."
	splitRecursionHelp = "Give every recursion depth its own call-tree " +
		"node instead of merging recursive calls."
	timeoutHelp = "Terminate the target after this duration. " +
		"0 means unbounded."
	gracePeriodHelp = "Time between SIGTERM and SIGKILL when the engine " +
		"terminates the target."
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	versionHelp     = "Show version."
)

type arguments struct {
	controller.Config

	output     string
	htmlOutput string
	version    bool
}

func parseArgs() (*arguments, error) {
	var args arguments

	fs := flag.NewFlagSet("callscope", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.Uint64Var(&args.AllocEventThreshold, "alloc-event-threshold", 0,
		allocEventThresholdHelp)

	fs.BoolVar(&args.BlockOnFullQueue, "block-on-full-queue", false,
		blockOnFullQueueHelp)

	fs.DurationVar(&args.GracePeriod, "grace-period", defaultArgGracePeriod,
		gracePeriodHelp)

	fs.StringVar(&args.htmlOutput, "html", "", htmlHelp)

	fs.StringVar(&args.Language, "l", defaultArgLanguage,
		"Shorthand for -language.")
	fs.StringVar(&args.Language, "language", defaultArgLanguage, languageHelp)

	fs.IntVar(&args.MaxEventsPerSec, "max-events-per-sec",
		defaultArgMaxEventsPerSec, maxEventsPerSecHelp)

	fs.StringVar(&args.MemTriggerMode, "mem-trigger", defaultArgMemTriggerMode,
		memTriggerHelp)

	fs.StringVar(&args.output, "o", defaultArgOutput, "Shorthand for -output.")
	fs.StringVar(&args.output, "output", defaultArgOutput, outputHelp)

	fs.UintVar(&args.QueueSize, "queue-size", controller.DefaultQueueSize,
		queueSizeHelp)

	fs.DurationVar(&args.SampleInterval, "sample-interval",
		defaultArgSampleInterval, sampleIntervalHelp)

	fs.BoolVar(&args.SplitRecursion, "split-recursion", false,
		splitRecursionHelp)

	fs.DurationVar(&args.Timeout, "timeout", 0, timeoutHelp)

	fs.BoolVar(&args.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.version, "version", false, versionHelp)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: %s [flags] <target> [target args...]\n\n", fs.Name())
		fs.PrintDefaults()
	}

	args.Fs = fs

	err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CALLSCOPE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
	if err != nil {
		return nil, err
	}

	// Everything after the flags is the target invocation.
	if rest := fs.Args(); len(rest) > 0 {
		args.Entrypoint = rest[0]
		args.Args = rest[1:]
	}

	return &args, nil
}
