// Package catalog maps view and table names to fully-qualified BigQuery identifiers.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnresolved is returned when a name cannot be turned into an identifier.
var ErrUnresolved = errors.New("unresolved reference")

var (
	projectRe = regexp.MustCompile(`^([a-z][a-z0-9.-]*[a-z0-9]:)?[a-z][a-z0-9-]*[a-z0-9]$`)
	datasetRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	tableRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
)

// ValidProject reports whether s is a well-formed project id, with an
// optional "domain:" prefix.
func ValidProject(s string) bool { return projectRe.MatchString(s) }

// ValidDataset reports whether s is a well-formed dataset id.
func ValidDataset(s string) bool { return datasetRe.MatchString(s) }

// ValidTable reports whether s is a well-formed table or view name.
func ValidTable(s string) bool { return tableRe.MatchString(s) }

// Identifier formats a backtick-quoted project.dataset.table identifier.
func Identifier(project, dataset, table string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

// Unquote strips surrounding backticks from an identifier.
func Unquote(ident string) string {
	return strings.Trim(ident, "`")
}

// Catalog resolves names against a default project and dataset plus the
// set of locally defined views.
type Catalog struct {
	Project string
	Dataset string

	local map[string]string
}

// New creates a catalog with the given defaults.
func New(project, dataset string) *Catalog {
	return &Catalog{Project: project, Dataset: dataset, local: make(map[string]string)}
}

// Register records the identifier a local view deploys to.
// An empty ident registers the default location for name.
func (c *Catalog) Register(name, ident string) {
	if c.local == nil {
		c.local = make(map[string]string)
	}
	if ident == "" {
		ident = Identifier(c.Project, c.Dataset, name)
	}
	c.local[name] = ident
}

// IsLocal reports whether name is a registered view.
func (c *Catalog) IsLocal(name string) bool {
	_, ok := c.local[name]
	return ok
}

// Lookup returns the registered identifier of a local view.
func (c *Catalog) Lookup(name string) (string, bool) {
	ident, ok := c.local[name]
	return ident, ok
}

// Resolve returns the fully-qualified identifier for a reference to name.
// project and dataset are optional overrides taken from the ref() call.
// Explicit names are validated; the catalog defaults are taken as given.
func (c *Catalog) Resolve(name, project, dataset string) (string, error) {
	if project != "" || dataset != "" {
		return c.resolveOverride(name, project, dataset)
	}

	if ident, ok := c.local[name]; ok {
		return ident, nil
	}

	parts := splitName(name)
	switch len(parts) {
	case 2:
		if ValidDataset(parts[0]) && ValidTable(parts[1]) {
			return Identifier(c.Project, parts[0], parts[1]), nil
		}
	case 3:
		if ValidProject(parts[0]) && ValidDataset(parts[1]) && ValidTable(parts[2]) {
			return Identifier(parts[0], parts[1], parts[2]), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnresolved, name)
}

func (c *Catalog) resolveOverride(name, project, dataset string) (string, error) {
	if project != "" && !ValidProject(project) {
		return "", fmt.Errorf("%w: invalid project %q for %q", ErrUnresolved, project, name)
	}
	if dataset != "" && !ValidDataset(dataset) {
		return "", fmt.Errorf("%w: invalid dataset %q for %q", ErrUnresolved, dataset, name)
	}
	if ident, ok := c.MatchLocal(name, project, dataset); ok {
		return ident, nil
	}
	if project == "" {
		project = c.Project
	}
	if dataset == "" {
		dataset = c.Dataset
	}
	if !ValidTable(name) {
		return "", fmt.Errorf("%w: invalid table name %q", ErrUnresolved, name)
	}
	return Identifier(project, dataset, name), nil
}

// MatchLocal returns the identifier of the local view name when a reference
// to it with the given overrides still points at that view: either the
// overrides equal the defaults or they spell out the registered identifier.
func (c *Catalog) MatchLocal(name, project, dataset string) (string, bool) {
	ident, ok := c.local[name]
	if !ok {
		return "", false
	}
	if project == "" {
		project = c.Project
	}
	if dataset == "" {
		dataset = c.Dataset
	}
	if project == c.Project && dataset == c.Dataset {
		return ident, true
	}
	if Identifier(project, dataset, name) == ident {
		return ident, true
	}
	return "", false
}

// splitName splits a dotted name into at most three parts from the right,
// so a "domain:project" prefix containing dots stays in the first part.
func splitName(name string) []string {
	var parts []string
	for range 2 {
		i := strings.LastIndex(name, ".")
		if i < 0 {
			break
		}
		parts = append([]string{name[i+1:]}, parts...)
		name = name[:i]
	}
	return append([]string{name}, parts...)
}
