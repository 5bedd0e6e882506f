// Package compiler turns a directory of templated view files into ordered,
// fully-qualified CREATE VIEW statements.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/leapstack-labs/bqviews/internal/catalog"
	"github.com/leapstack-labs/bqviews/internal/dag"
	"github.com/leapstack-labs/bqviews/internal/project"
)

// Options selects which views a compilation emits.
type Options struct {
	// Select limits the output to these view names. Empty means all views.
	Select []string
	// Upstream adds every dependency of the selected views.
	Upstream bool
	// Downstream adds every dependent of the selected views.
	Downstream bool
}

// Result holds the outcome of a successful compilation.
type Result struct {
	// Graph covers every view file, selected or not.
	Graph *DependencyGraph
	// Plan is the deployment order of all local views.
	Plan []string
	// Selected is the emitted subset of Plan, in plan order.
	Selected []string
	// Views are the compiled selected views, in plan order.
	Views []CompiledView
}

// Compiler compiles view files against a default project and dataset.
type Compiler struct {
	project string
	dataset string
	logger  *slog.Logger
}

// New creates a compiler. A nil logger discards output.
func New(project, dataset string, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compiler{project: project, dataset: dataset, logger: logger}
}

// Compile validates all files and renders the selected views.
//
// The dependency graph is always built from every file, so syntax errors and
// cycles anywhere in the project fail the compilation. Unresolved references
// are reported for the selected views only. On error the Result is nil.
func (c *Compiler) Compile(files []project.ViewFile, opts Options) (*Result, error) {
	graph, err := BuildGraph(files, c.project, c.dataset)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("built dependency graph",
		"views", len(graph.Files), "external", len(graph.External), "edges", graph.EdgeCount())

	order, err := graph.TopologicalSort()
	if err != nil {
		var cycleErr *dag.CycleError
		if errors.As(err, &cycleErr) {
			return nil, &CircularDependencyError{Cycle: cycleErr.Path}
		}
		return nil, fmt.Errorf("failed to order views: %w", err)
	}

	plan := make([]string, 0, len(graph.Files))
	for _, node := range order {
		if !node.External {
			plan = append(plan, node.ID)
		}
	}

	cat := c.Catalog(graph)

	selected, err := c.selection(graph, plan, opts)
	if err != nil {
		return nil, err
	}

	var errs *multierror.Error
	views := make([]CompiledView, 0, len(selected))
	for _, name := range selected {
		f := graph.Files[name]
		ident, _ := cat.Lookup(name)
		sql, err := Render(f, graph.Refs[name], ident, cat)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		views = append(views, CompiledView{
			Name:       name,
			Identifier: ident,
			SQL:        sql,
			SourcePath: f.Path,
			RelPath:    f.RelPath,
		})
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	c.logger.Debug("compiled views", "selected", len(selected), "total", len(plan))
	return &Result{Graph: graph, Plan: plan, Selected: selected, Views: views}, nil
}

// Catalog returns a catalog with every view of graph registered under the
// identifier it deploys to.
func (c *Compiler) Catalog(graph *DependencyGraph) *catalog.Catalog {
	files := make([]project.ViewFile, 0, len(graph.Files))
	for _, name := range graph.Views() {
		files = append(files, graph.Files[name])
	}
	return viewCatalog(files, c.project, c.dataset)
}

// selection returns the views to emit, in plan order.
func (c *Compiler) selection(graph *DependencyGraph, plan []string, opts Options) ([]string, error) {
	if len(opts.Select) == 0 {
		return plan, nil
	}

	want := make(map[string]bool)
	var unknown []string
	for _, name := range opts.Select {
		if _, ok := graph.Files[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		want[name] = true
	}
	if len(unknown) > 0 {
		return nil, &UnknownViewError{Names: unknown}
	}

	roots := make([]string, 0, len(want))
	for name := range want {
		roots = append(roots, name)
	}
	if opts.Upstream {
		for _, name := range roots {
			for _, up := range graph.GetUpstreamNodes(name) {
				want[up] = true
			}
		}
	}
	if opts.Downstream {
		for _, down := range graph.GetAffectedNodes(roots) {
			want[down] = true
		}
	}

	selected := make([]string, 0, len(want))
	for _, name := range plan {
		if want[name] {
			selected = append(selected, name)
		}
	}
	return selected, nil
}
