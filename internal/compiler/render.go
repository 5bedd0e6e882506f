package compiler

import (
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/leapstack-labs/bqviews/internal/project"
	"github.com/leapstack-labs/bqviews/internal/ref"
)

// Resolver turns a reference into a fully-qualified identifier.
type Resolver interface {
	Resolve(name, project, dataset string) (string, error)
}

// CompiledView is the deployable form of one view file.
type CompiledView struct {
	Name       string
	Identifier string
	SQL        string
	SourcePath string
	RelPath    string
}

// Render substitutes every reference span of f with its resolved identifier.
// Text outside the spans is copied unchanged. When f does not begin with a
// CREATE VIEW statement, one targeting ident is prepended. All unresolved
// references of the file are returned together.
func Render(f project.ViewFile, refs []ref.Reference, ident string, r Resolver) (string, error) {
	var b strings.Builder
	b.Grow(len(f.Text) + 64)

	if !HasCreateView(f.Text) {
		b.WriteString("CREATE OR REPLACE VIEW ")
		b.WriteString(ident)
		b.WriteString(" AS\n")
	}

	var errs *multierror.Error
	last := 0
	for _, rf := range refs {
		b.WriteString(f.Text[last:rf.Span.Start])
		last = rf.Span.End

		resolved, err := r.Resolve(rf.Target, rf.Project, rf.Dataset)
		if err != nil {
			errs = multierror.Append(errs, &UnresolvedReferenceError{File: f.Path, Target: rf.Target, Err: err})
			b.WriteString(rf.Expr)
			continue
		}
		b.WriteString(resolved)
	}
	b.WriteString(f.Text[last:])

	if err := errs.ErrorOrNil(); err != nil {
		return "", err
	}
	return b.String(), nil
}
