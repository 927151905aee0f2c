// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package report // import "github.com/callscope/callscope/report"

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchemaVersion is returned by Parse for documents written by a newer
// schema than this reader understands.
var ErrSchemaVersion = errors.New("unsupported report schema version")

// Serialize renders the report as indented JSON. It is a pure function of
// the report: identical reports produce byte-identical output.
func Serialize(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("serializing report: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes and validates a serialized report. Unknown fields are
// ignored so additive schema growth stays readable.
func Parse(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	if r.SchemaVersion < 1 || r.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchemaVersion, r.SchemaVersion)
	}
	return &r, nil
}
