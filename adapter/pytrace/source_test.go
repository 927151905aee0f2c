// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package pytrace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/adapter"
	"github.com/callscope/callscope/libprof"
	"github.com/callscope/callscope/target"
)

type collectSink struct {
	events []libprof.Event
}

func (c *collectSink) Push(_ context.Context, ev libprof.Event) error {
	c.events = append(c.events, ev)
	return nil
}

// fakeInterpreter stands in for python3: it emits a fixed event stream on
// the event pipe and exits.
func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-python")
	script := "#!/bin/sh\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func TestSourceEndToEnd(t *testing.T) {
	t.Setenv(interpreterEnv, fakeInterpreter(t, `
echo '{"k":"enter","t":0,"tid":1,"m":"app","n":"main","l":1}' >&3
echo '{"k":"alloc","t":500,"tid":1,"sz":256}' >&3
echo 'this is not json' >&3
echo '{"k":"exit","t":1000000,"tid":1,"m":"app","n":"main","l":1}' >&3
echo '{"k":"meta","sampled":true,"dropped":3}' >&3
exit 0
`))

	sink := &collectSink{}
	a := &Adapter{}
	src, err := a.Install(context.Background(),
		target.Descriptor{Entrypoint: "app.py"},
		&adapter.Engine{Sink: sink})
	require.NoError(t, err)

	handle, err := src.Start(context.Background())
	require.NoError(t, err)
	require.True(t, handle.Wait().Clean())
	require.NoError(t, src.Close())

	// The malformed line is skipped, everything else arrives in order.
	require.Len(t, sink.events, 3)
	assert.Equal(t, libprof.EventKindEnter, sink.events[0].Kind)
	assert.Equal(t, libprof.EventKindAlloc, sink.events[1].Kind)
	assert.Equal(t, libprof.EventKindExit, sink.events[2].Kind)

	// The hook's own rate-limit report surfaces in the stats.
	stats := src.Stats()
	assert.True(t, stats.Sampled)
	assert.Equal(t, uint64(3), stats.Dropped)
}

func TestSourceTargetFailurePropagates(t *testing.T) {
	t.Setenv(interpreterEnv, "/definitely/not/python")

	a := &Adapter{}
	src, err := a.Install(context.Background(),
		target.Descriptor{Entrypoint: "app.py"},
		&adapter.Engine{Sink: &collectSink{}})
	require.NoError(t, err)

	_, err = src.Start(context.Background())
	require.ErrorIs(t, err, adapter.ErrAttach)
}

func TestInstallRequiresSink(t *testing.T) {
	a := &Adapter{}
	_, err := a.Install(context.Background(), target.Descriptor{}, nil)
	require.ErrorIs(t, err, adapter.ErrAttach)
}
