// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/adapter"
	"github.com/callscope/callscope/adapter/inproc"
	"github.com/callscope/callscope/libprof"
	"github.com/callscope/callscope/report"
	"github.com/callscope/callscope/target"
)

var (
	fnMain = libprof.NewFunctionID("app", "main", 1)
	fnWork = libprof.NewFunctionID("app", "work", 9)
)

func wellFormedScript() []libprof.Event {
	const ms = time.Millisecond
	return []libprof.Event{
		{Kind: libprof.EventKindEnter, TID: 1, Function: fnMain},
		{Kind: libprof.EventKindEnter, TID: 1, Function: fnWork, Timestamp: 2 * ms},
		{Kind: libprof.EventKindAlloc, TID: 1, Size: 4096, Timestamp: 3 * ms},
		{Kind: libprof.EventKindExit, TID: 1, Function: fnWork, Timestamp: 12 * ms},
		{Kind: libprof.EventKindExit, TID: 1, Function: fnMain, Timestamp: 15 * ms},
	}
}

func newTestConfig(script []libprof.Event, entrypoint string,
	args ...string) *Config {
	return &Config{
		Entrypoint:     entrypoint,
		Args:           args,
		Adapter:        inproc.New(script),
		SampleInterval: 10 * time.Millisecond,
		GracePeriod:    time.Second,
	}
}

func TestRunCleanTarget(t *testing.T) {
	cfg := newTestConfig(wellFormedScript(), "sh", "-c", "sleep 0.2")
	require.NoError(t, cfg.Validate())

	res, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Report)

	assert.True(t, res.Status.Clean())
	assert.Equal(t, target.ExitKindExited, res.Status.Kind)

	rep := res.Report
	assert.False(t, rep.Truncated)
	assert.Zero(t, rep.DroppedEventsCount)
	assert.Equal(t, report.SchemaVersion, rep.SchemaVersion)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, inproc.Language, rep.Target.Language)
	assert.GreaterOrEqual(t, rep.WallTimeMillis, 150.0)

	require.Len(t, rep.Threads, 1)
	require.Len(t, rep.Threads[0].CallTree.Children, 1)
	main := rep.Threads[0].CallTree.Children[0]
	assert.Equal(t, "main", main.Function.Name)
	assert.InDelta(t, 15.0, main.CumulativeMillis, 1e-9)
	require.Len(t, main.Children, 1)
	assert.Equal(t, uint64(4096), main.Children[0].AllocBytes)

	// The 200ms run at a 10ms cadence produced a real series.
	assert.NotEmpty(t, rep.Memory.Samples)
	require.NotNil(t, rep.Exit)
	assert.Equal(t, "exited", rep.Exit.Kind)
}

func TestRunCrashedTargetStillReports(t *testing.T) {
	// Stream ends with an open frame while the target dies on SIGKILL.
	script := []libprof.Event{
		{Kind: libprof.EventKindEnter, TID: 1, Function: fnMain},
		{Kind: libprof.EventKindEnter, TID: 1, Function: fnWork,
			Timestamp: 2 * time.Millisecond},
	}
	cfg := newTestConfig(script, "sh", "-c", "kill -9 $$")
	require.NoError(t, cfg.Validate())

	res, err := New(cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, target.ExitKindSignaled, res.Status.Kind)
	assert.True(t, res.Report.Truncated)

	// The open frames became best-effort nodes.
	require.Len(t, res.Report.Threads, 1)
	root := res.Report.Threads[0].CallTree
	require.Len(t, root.Children, 1)
	assert.Equal(t, "main", root.Children[0].Function.Name)
	assert.Equal(t, uint64(1), root.Children[0].CallCount)
}

func TestRunTimeoutTerminates(t *testing.T) {
	cfg := newTestConfig(wellFormedScript(), "sleep", "30")
	cfg.Timeout = 200 * time.Millisecond
	cfg.GracePeriod = time.Second
	require.NoError(t, cfg.Validate())

	start := time.Now()
	res, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, target.ExitKindCancelled, res.Status.Kind)
	assert.True(t, res.Report.Truncated)
}

func TestRunOperatorCancellation(t *testing.T) {
	cfg := newTestConfig(wellFormedScript(), "sleep", "30")
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	res, err := New(cfg).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, target.ExitKindCancelled, res.Status.Kind)
	assert.True(t, res.Report.Truncated)
}

func TestRunUnknownLanguage(t *testing.T) {
	cfg := &Config{
		Language:   "fortran77",
		Entrypoint: "x",
	}
	require.NoError(t, cfg.Validate())

	_, err := New(cfg).Run(context.Background())
	require.ErrorIs(t, err, adapter.ErrUnsupported)
}

func TestRunSampledStreamReportsDrops(t *testing.T) {
	const ms = time.Millisecond
	script := []libprof.Event{
		{Kind: libprof.EventKindEnter, TID: 1, Function: fnMain},
		{Kind: libprof.EventKindAlloc, TID: 1, Size: 1, Timestamp: 1 * ms},
		{Kind: libprof.EventKindAlloc, TID: 1, Size: 1, Timestamp: 2 * ms},
		{Kind: libprof.EventKindAlloc, TID: 1, Size: 1, Timestamp: 3 * ms},
		{Kind: libprof.EventKindExit, TID: 1, Function: fnMain, Timestamp: 9 * ms},
	}
	cfg := newTestConfig(script, "sh", "-c", "sleep 0.1")
	cfg.MaxEventsPerSec = 1
	require.NoError(t, cfg.Validate())

	res, err := New(cfg).Run(context.Background())
	require.NoError(t, err)

	// A sampled stream must surface a non-zero drop count.
	assert.Equal(t, uint64(2), res.Report.DroppedEventsCount)
}

func TestConfigValidation(t *testing.T) {
	tests := map[string]struct {
		cfg Config
		ok  bool
	}{
		"missing entrypoint": {cfg: Config{Language: "python"}},
		"missing language":   {cfg: Config{Entrypoint: "x"}},
		"negative interval": {cfg: Config{Language: "python",
			Entrypoint: "x", SampleInterval: -time.Second}},
		"negative rate limit": {cfg: Config{Language: "python",
			Entrypoint: "x", MaxEventsPerSec: -1}},
		"bad trigger mode": {cfg: Config{Language: "python",
			Entrypoint: "x", MemTriggerMode: "psychic"}},
		"minimal valid": {cfg: Config{Language: "python",
			Entrypoint: "x"}, ok: true},
		"alloc trigger valid": {cfg: Config{Language: "python",
			Entrypoint: "x", MemTriggerMode: MemTriggerAllocCount},
			ok: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
				assert.NotZero(t, tc.cfg.QueueSize)
			} else {
				require.ErrorIs(t, err, ErrConfig)
			}
		})
	}
}
