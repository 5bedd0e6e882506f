// Package ref recognizes {{ ref('name') }} expressions embedded in SQL text.
//
// The grammar is deliberately narrow: a ref call with one string argument naming the
// referenced view, optionally followed by project= and dataset= keyword arguments.
// Any other text between braces is treated as ordinary SQL and passed through.
package ref

import "fmt"

// Position tracks source location for error reporting.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span is a half-open byte range [Start, End) of source text.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Reference is one ref() occurrence inside a SQL file.
type Reference struct {
	// Target is the referenced view or table name.
	Target string
	// Project overrides the default project when non-empty.
	Project string
	// Dataset overrides the default dataset when non-empty.
	Dataset string
	// Span covers the whole {{ ... }} expression, delimiters included.
	Span Span
	// Pos is the location of the opening {{.
	Pos Position
	// Expr is the expression text exactly as written.
	Expr string
}

// HasOverride reports whether the reference names an explicit project or dataset.
func (r Reference) HasOverride() bool {
	return r.Project != "" || r.Dataset != ""
}

// String returns the canonical form of the expression.
func (r Reference) String() string {
	s := fmt.Sprintf("ref('%s'", r.Target)
	if r.Project != "" {
		s += fmt.Sprintf(", project='%s'", r.Project)
	}
	if r.Dataset != "" {
		s += fmt.Sprintf(", dataset='%s'", r.Dataset)
	}
	return "{{ " + s + ") }}"
}
