package compiler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Header returns the comment block written above compiled SQL.
func Header(source string) string {
	return fmt.Sprintf("-- Compiled SQL from: %s\n-- Generated by bqviews\n-- DO NOT EDIT: This file is auto-generated\n\n", source)
}

// WriteCompiled writes each view under dir, mirroring its path relative to
// the views directory, and returns the written paths.
func WriteCompiled(dir string, views []CompiledView) ([]string, error) {
	written := make([]string, 0, len(views))
	for _, v := range views {
		rel := v.RelPath
		if rel == "" {
			rel = v.Name + ".sql"
		}
		out := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
			return written, fmt.Errorf("failed to create %s: %w", filepath.Dir(out), err)
		}
		content := Header(v.SourcePath) + v.SQL
		if err := os.WriteFile(out, []byte(content), 0o600); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", out, err)
		}
		written = append(written, out)
	}
	return written, nil
}

// FormatDeps writes the dependency report: every listed view with its direct
// dependencies, then the numbered deployment order. An empty selection lists
// every view of plan.
func FormatDeps(w io.Writer, g *DependencyGraph, plan, selection []string) error {
	views := plan
	if len(selection) > 0 {
		want := make(map[string]bool, len(selection))
		for _, name := range selection {
			want[name] = true
		}
		views = make([]string, 0, len(selection))
		for _, name := range plan {
			if want[name] {
				views = append(views, name)
			}
		}
	}

	var b strings.Builder
	b.WriteString("Dependency Graph:\n")
	for _, name := range views {
		deps := g.Dependencies(name)
		if len(deps) == 0 {
			fmt.Fprintf(&b, "  %s (no dependencies)\n", name)
			continue
		}
		labels := make([]string, len(deps))
		for i, dep := range deps {
			labels[i] = dep
			if g.IsExternal(dep) {
				labels[i] += " (external)"
			}
		}
		fmt.Fprintf(&b, "  %s → %s\n", name, strings.Join(labels, ", "))
	}

	b.WriteString("\nDeployment Order:\n")
	for i, name := range views {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, name)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
