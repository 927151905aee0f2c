// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/target"
)

type stubAdapter struct {
	language string
}

func (s *stubAdapter) Language() string { return s.language }

func (s *stubAdapter) Install(context.Context, target.Descriptor,
	*Engine) (EventSource, error) {
	return nil, nil
}

func TestRegistryLookup(t *testing.T) {
	Register(&stubAdapter{language: "stublang"})

	a, err := Lookup("stublang")
	require.NoError(t, err)
	assert.Equal(t, "stublang", a.Language())

	assert.Contains(t, Languages(), "stublang")
}

func TestRegistryUnknownLanguage(t *testing.T) {
	_, err := Lookup("cobol")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	Register(&stubAdapter{language: "duplang"})
	assert.Panics(t, func() {
		Register(&stubAdapter{language: "duplang"})
	})
}
