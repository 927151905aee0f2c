// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseWith(t *testing.T, argv ...string) *arguments {
	t.Helper()
	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })
	os.Args = append([]string{"callscope"}, argv...)

	args, err := parseArgs()
	require.NoError(t, err)
	return args
}

func TestParseArgsDefaults(t *testing.T) {
	args := parseWith(t, "app.py")

	assert.Equal(t, "python", args.Language)
	assert.Equal(t, "app.py", args.Entrypoint)
	assert.Empty(t, args.Args)
	assert.Equal(t, defaultArgSampleInterval, args.SampleInterval)
	assert.Equal(t, defaultArgOutput, args.output)
	assert.False(t, args.SplitRecursion)
	assert.NoError(t, args.Validate())
}

func TestParseArgsTargetInvocation(t *testing.T) {
	// Everything after the entrypoint goes to the target verbatim,
	// including flag-looking arguments.
	args := parseWith(t, "-o", "out.json", "app.py", "--input", "data.csv")

	assert.Equal(t, "out.json", args.output)
	assert.Equal(t, "app.py", args.Entrypoint)
	assert.Equal(t, []string{"--input", "data.csv"}, args.Args)
}

func TestParseArgsTuning(t *testing.T) {
	args := parseWith(t,
		"-sample-interval", "10ms",
		"-mem-trigger", "alloc-count",
		"-alloc-event-threshold", "256",
		"-max-events-per-sec", "1000",
		"-queue-size", "1024",
		"-split-recursion",
		"-timeout", "30s",
		"-html", "report.html",
		"app.py")

	assert.Equal(t, 10*time.Millisecond, args.SampleInterval)
	assert.Equal(t, "alloc-count", args.MemTriggerMode)
	assert.Equal(t, uint64(256), args.AllocEventThreshold)
	assert.Equal(t, 1000, args.MaxEventsPerSec)
	assert.Equal(t, uint(1024), args.QueueSize)
	assert.True(t, args.SplitRecursion)
	assert.Equal(t, 30*time.Second, args.Timeout)
	assert.Equal(t, "report.html", args.htmlOutput)
	assert.NoError(t, args.Validate())
}

func TestParseArgsMissingTarget(t *testing.T) {
	args := parseWith(t)
	require.Error(t, args.Validate())
}
