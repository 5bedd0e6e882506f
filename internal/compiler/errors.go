package compiler

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/bqviews/internal/project"
)

// DuplicateViewNameError reports two files defining the same view.
type DuplicateViewNameError = project.DuplicateViewNameError

// UnresolvedReferenceError reports a ref() target that names neither a local
// view nor a well-formed external table.
type UnresolvedReferenceError struct {
	File   string
	Target string
	Err    error
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: unresolved reference to %q", e.File, e.Target)
}

func (e *UnresolvedReferenceError) Unwrap() error { return e.Err }

// CircularDependencyError reports a dependency cycle among views.
type CircularDependencyError struct {
	// Cycle is a closed path: the first and last elements are equal.
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency: " + strings.Join(e.Cycle, " → ")
}

// Views returns the distinct views on the cycle.
func (e *CircularDependencyError) Views() []string {
	if len(e.Cycle) < 2 {
		return e.Cycle
	}
	return e.Cycle[:len(e.Cycle)-1]
}

// UnknownViewError reports selected names that match no view file.
type UnknownViewError struct {
	Names []string
}

func (e *UnknownViewError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("unknown view %q", e.Names[0])
	}
	return fmt.Sprintf("unknown views: %s", strings.Join(e.Names, ", "))
}
