package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
	"github.com/leapstack-labs/bqviews/internal/compiler"
)

// DepsOptions holds options for the deps command.
type DepsOptions struct {
	Select     []string
	Upstream   bool
	Downstream bool
}

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	opts := &DepsOptions{}

	cmd := &cobra.Command{
		Use:   "deps [VIEW...]",
		Short: "Show view dependencies and deployment order",
		Long: `Display the direct dependencies of each view and the order views deploy in.

Dependencies on tables outside the project are marked external.

Output adapts to environment:
  - Terminal: plain dependency report
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the whole project
  bqviews deps

  # Show one view and what it needs
  bqviews deps user_summary --upstream

  # Output as JSON
  bqviews deps --output json`,
		Aliases: []string{"dag"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			return runDeps(cc, append(args, opts.Select...), opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Comma-separated list of views to show")
	cmd.Flags().BoolVar(&opts.Upstream, "upstream", false, "Include the dependencies of selected views")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include views that depend on selected views")

	return cmd
}

func runDeps(cc *CommandContext, args []string, opts *DepsOptions) error {
	files, err := cc.scan()
	if err != nil {
		return err
	}
	res, err := cc.compile(files, args, opts.Upstream, opts.Downstream)
	if err != nil {
		return err
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return depsJSON(r, res)
	case output.ModeMarkdown:
		return depsMarkdown(r, res)
	default:
		return compiler.FormatDeps(r.Writer(), res.Graph, res.Plan, res.Selected)
	}
}

func depLabels(g *compiler.DependencyGraph, name string) []string {
	deps := g.Dependencies(name)
	labels := make([]string, len(deps))
	for i, dep := range deps {
		labels[i] = dep
		if g.IsExternal(dep) {
			labels[i] += " (external)"
		}
	}
	return labels
}

// depsMarkdown outputs dependencies in markdown format.
func depsMarkdown(r *output.Renderer, res *compiler.Result) error {
	r.Println(output.FormatHeader(1, "Dependency Graph"))
	r.Println()
	for _, name := range res.Selected {
		labels := depLabels(res.Graph, name)
		if len(labels) == 0 {
			r.Printf("- **%s** (no dependencies)\n", name)
			continue
		}
		r.Printf("- **%s** → %s\n", name, strings.Join(labels, ", "))
	}
	r.Println()

	r.Println(output.FormatHeader(2, "Deployment Order"))
	r.Println()
	for i, name := range res.Selected {
		r.Printf("%d. %s\n", i+1, name)
	}
	r.Println()
	r.Println(output.FormatKeyValue("Views", fmt.Sprintf("%d", len(res.Selected))))
	r.Println(output.FormatKeyValue("External tables", fmt.Sprintf("%d", len(res.Graph.External))))
	return nil
}

// depsJSON outputs dependencies in JSON format.
func depsJSON(r *output.Renderer, res *compiler.Result) error {
	levels, err := res.Graph.Subgraph(res.Selected).GetExecutionLevels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}
	levelOf := make(map[string]int)
	for i, level := range levels {
		for _, name := range level {
			levelOf[name] = i
		}
	}

	idents := make(map[string]string, len(res.Views))
	for _, v := range res.Views {
		idents[v.Name] = v.Identifier
	}

	out := output.DepsOutput{
		Views: make([]output.DepsView, 0, len(res.Selected)),
		Order: res.Selected,
	}
	for _, name := range res.Selected {
		v := output.DepsView{Name: name, Identifier: idents[name], Level: levelOf[name], Dependencies: []string{}}
		for _, dep := range res.Graph.Dependencies(name) {
			if res.Graph.IsExternal(dep) {
				v.External = append(v.External, dep)
			} else {
				v.Dependencies = append(v.Dependencies, dep)
			}
		}
		out.Views = append(out.Views, v)
	}
	return r.JSON(out)
}
