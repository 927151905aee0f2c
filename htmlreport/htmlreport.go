// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package htmlreport renders a serialized report as a self-contained HTML
// page. It is a pure function of the JSON document: the page embeds the
// document verbatim and does all aggregation client-side.
package htmlreport // import "github.com/callscope/callscope/htmlreport"

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"

	"github.com/callscope/callscope/report"
)

//go:embed page.html
var pageSource string

var page = template.Must(template.New("report").Parse(pageSource))

// Render validates doc and writes the HTML page embedding it.
func Render(w io.Writer, doc []byte) error {
	// Reject documents this renderer does not understand before
	// embedding them in a page.
	if _, err := report.Parse(doc); err != nil {
		return err
	}

	data := struct {
		// The document is machine-produced JSON, safe to embed as-is.
		Payload template.JS
	}{Payload: template.JS(doc)}

	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("rendering HTML report: %w", err)
	}
	return nil
}
