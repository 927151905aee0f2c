// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package libprof

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctionIDStable(t *testing.T) {
	a := NewFunctionID("app/worker", "process", 42)
	b := NewFunctionID("app/worker", "process", 42)
	require.Equal(t, a, b)
	require.Equal(t, a.Hash(), b.Hash())
	require.Equal(t, "app/worker.process:42", a.String())
}

func TestFunctionIDDistinguishesLine(t *testing.T) {
	a := NewFunctionID("app/worker", "process", 42)
	b := NewFunctionID("app/worker", "process", 43)
	require.NotEqual(t, a, b)
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash32(), b.Hash32())
}

func TestZeroFunctionIDInvalid(t *testing.T) {
	var f FunctionID
	require.False(t, f.Valid())
	require.True(t, NewFunctionID("m", "f", 1).Valid())
}

func TestEventKindStackDelimited(t *testing.T) {
	tests := map[string]struct {
		kind EventKind
		want bool
	}{
		"enter":   {kind: EventKindEnter, want: true},
		"exit":    {kind: EventKindExit, want: true},
		"alloc":   {kind: EventKindAlloc, want: false},
		"dealloc": {kind: EventKindDealloc, want: false},
		"sample":  {kind: EventKindSample, want: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.StackDelimited())
		})
	}
}

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := AddJitter(base, 0.2)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
	// Out-of-range jitter falls back to the base duration.
	assert.Equal(t, base, AddJitter(base, 1.5))
}
