// Package testutil captures renderer output for command tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
)

// TestRenderer is a Renderer writing to in-memory buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a renderer in mode. Text mode behaves as a
// terminal; every other mode as a pipe.
func NewTestRenderer(mode output.OutputMode) *TestRenderer {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, mode == output.ModeText, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns what was written to standard output.
func (tr *TestRenderer) Output() string { return tr.Out.String() }

// ErrorOutput returns what was written to the error output.
func (tr *TestRenderer) ErrorOutput() string { return tr.ErrOut.String() }

// Reset clears both buffers.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

// Switch returns a renderer in another mode sharing the same buffers.
func (tr *TestRenderer) Switch(mode output.OutputMode) *output.Renderer {
	return output.NewRendererWithTTY(tr.Out, tr.ErrOut, mode == output.ModeText, mode)
}

// DecodeJSON decodes the captured standard output into v, failing the test
// when it is not a single JSON document.
func (tr *TestRenderer) DecodeJSON(t *testing.T, v any) {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(tr.Out.Bytes()))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, tr.Output())
	}
	if dec.More() {
		t.Fatalf("output holds more than one JSON document:\n%s", tr.Output())
	}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI fails when s holds terminal escape sequences.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if loc := ansiPattern.FindStringIndex(s); loc != nil {
		t.Errorf("escape sequence at byte %d: %q", loc[0], s)
	}
}

// AssertValidMarkdown fails on unbalanced code fences, empty headings or
// table rows whose column count differs from their header.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if n := strings.Count(md, "```"); n%2 != 0 {
		t.Errorf("unbalanced code fences: %d fence markers", n)
	}

	columns := 0
	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty heading on line %d", i+1)
		}
		if !strings.HasPrefix(trimmed, "|") {
			columns = 0
			continue
		}
		n := strings.Count(trimmed, "|") - 1
		if columns == 0 {
			columns = n
		} else if n != columns {
			t.Errorf("table row on line %d has %d columns, header has %d", i+1, n, columns)
		}
	}
}
