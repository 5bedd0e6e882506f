package compiler

import (
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/leapstack-labs/bqviews/internal/catalog"
	"github.com/leapstack-labs/bqviews/internal/dag"
	"github.com/leapstack-labs/bqviews/internal/project"
	"github.com/leapstack-labs/bqviews/internal/ref"
)

// DependencyGraph is the view dependency graph of a project.
// Edges run from a dependency to its dependent.
type DependencyGraph struct {
	*dag.Graph

	// Files maps a view name to its file.
	Files map[string]project.ViewFile
	// Refs holds the references of each view in source order.
	Refs map[string][]ref.Reference
	// External lists the referenced names no local file defines, sorted.
	External []string
}

// Views returns the local view names, sorted.
func (g *DependencyGraph) Views() []string {
	names := make([]string, 0, len(g.Files))
	for name := range g.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsExternal reports whether id is an external node.
func (g *DependencyGraph) IsExternal(id string) bool {
	node, ok := g.GetNode(id)
	return ok && node.External
}

// Dependencies returns the direct dependencies of a view, sorted.
func (g *DependencyGraph) Dependencies(name string) []string {
	return g.GetParents(name)
}

// BuildGraph parses every file and links each view to the views it
// references. project and dataset are the deployment defaults. A reference
// with overrides counts as local when they equal the defaults or name the
// identifier the local view deploys to.
// Syntax errors of all files are returned together.
func BuildGraph(files []project.ViewFile, defaultProject, defaultDataset string) (*DependencyGraph, error) {
	if err := project.CheckUnique(files); err != nil {
		return nil, err
	}

	g := &DependencyGraph{
		Graph: dag.NewGraph(),
		Files: make(map[string]project.ViewFile, len(files)),
		Refs:  make(map[string][]ref.Reference, len(files)),
	}
	for _, f := range files {
		g.Files[f.Name] = f
		g.AddNode(f.Name, f.Path)
	}

	var errs *multierror.Error
	for _, f := range files {
		refs, err := ref.Parse(f.Path, f.Text)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		g.Refs[f.Name] = refs
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	cat := viewCatalog(files, defaultProject, defaultDataset)
	external := make(map[string]bool)
	for _, f := range files {
		for _, r := range g.Refs[f.Name] {
			dep, local := g.target(r, cat)
			if !local {
				g.AddExternal(dep)
				external[dep] = true
			}
			// Both nodes exist at this point.
			_ = g.AddEdge(dep, f.Name)
		}
	}
	for name := range external {
		g.External = append(g.External, name)
	}
	sort.Strings(g.External)
	return g, nil
}

// target returns the node id a reference points at and whether it is local.
func (g *DependencyGraph) target(r ref.Reference, cat *catalog.Catalog) (string, bool) {
	if !r.HasOverride() {
		_, isLocal := g.Files[r.Target]
		return r.Target, isLocal
	}
	if _, ok := cat.MatchLocal(r.Target, r.Project, r.Dataset); ok {
		return r.Target, true
	}
	p, d := r.Project, r.Dataset
	if p == "" {
		p = cat.Project
	}
	if d == "" {
		d = cat.Dataset
	}
	return p + "." + d + "." + r.Target, false
}

// viewCatalog registers each file under the identifier its CREATE VIEW
// header declares, or the default location when it has none.
func viewCatalog(files []project.ViewFile, defaultProject, defaultDataset string) *catalog.Catalog {
	cat := catalog.New(defaultProject, defaultDataset)
	for _, f := range files {
		ident, ok := DeclaredTarget(f.Text, defaultProject, defaultDataset)
		if !ok {
			ident = catalog.Identifier(defaultProject, defaultDataset, f.Name)
		}
		cat.Register(f.Name, ident)
	}
	return cat
}
