// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package htmlreport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/report"
)

func sampleDoc(t *testing.T) []byte {
	t.Helper()
	rep := report.Build(report.BuildInfo{
		RunID: "test-run",
		Target: report.Target{
			Language:   "python",
			Entrypoint: "app.py",
		},
		WallTime: 1500 * time.Millisecond,
		Exit:     &report.Exit{Kind: "exited"},
	})
	data, err := report.Serialize(rep)
	require.NoError(t, err)
	return data
}

func TestRenderEmbedsDocument(t *testing.T) {
	doc := sampleDoc(t)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, doc))
	page := buf.String()

	assert.True(t, strings.HasPrefix(page, "<!doctype html>"))
	// The document is embedded verbatim, not HTML-escaped.
	assert.Contains(t, page, `"run_id": "test-run"`)
	assert.Contains(t, page, `"entrypoint": "app.py"`)
}

func TestRenderDeterministic(t *testing.T) {
	doc := sampleDoc(t)

	var a, b bytes.Buffer
	require.NoError(t, Render(&a, doc))
	require.NoError(t, Render(&b, doc))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestRenderRejectsInvalidDocument(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, Render(&buf, []byte("not json")))
	assert.Zero(t, buf.Len())

	require.ErrorIs(t,
		Render(&buf, []byte(`{"schema_version": 99}`)),
		report.ErrSchemaVersion)
}
