package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/bqviews/internal/project"
	"github.com/leapstack-labs/bqviews/internal/ref"
	"github.com/leapstack-labs/bqviews/internal/testutil"
)

const (
	testProject = "p"
	testDataset = "d"
)

// files builds view files from name -> text pairs in the given order.
func files(pairs ...string) []project.ViewFile {
	out := make([]project.ViewFile, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		name := pairs[i]
		out = append(out, project.ViewFile{
			Name:    name,
			Path:    "views/" + name + ".sql",
			RelPath: name + ".sql",
			Text:    pairs[i+1],
		})
	}
	return out
}

func newCompiler(t *testing.T) *Compiler {
	return New(testProject, testDataset, testutil.NewTestLogger(t))
}

func chain() []project.ViewFile {
	return files(
		"C", "SELECT * FROM {{ ref('B') }}",
		"A", "SELECT 1 AS id",
		"B", "SELECT * FROM {{ ref('A') }}",
	)
}

func TestCompile_ReferenceSubstitution(t *testing.T) {
	res, err := newCompiler(t).Compile(files(
		"a", "SELECT 1 AS id",
		"b", "SELECT * FROM {{ ref('a') }}",
	), Options{})
	require.NoError(t, err)
	require.Len(t, res.Views, 2)

	want := "CREATE OR REPLACE VIEW `p.d.b` AS\nSELECT * FROM `p.d.a`"
	if diff := cmp.Diff(want, res.Views[1].SQL); diff != "" {
		t.Errorf("compiled SQL mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "`p.d.b`", res.Views[1].Identifier)
	assert.Equal(t, "views/b.sql", res.Views[1].SourcePath)
}

func TestCompile_PlanOrder(t *testing.T) {
	res, err := newCompiler(t).Compile(chain(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, res.Plan)
	assert.Equal(t, res.Plan, res.Selected)

	names := make([]string, len(res.Views))
	for i, v := range res.Views {
		names[i] = v.Name
	}
	assert.Equal(t, res.Plan, names)
}

func TestCompile_Deterministic(t *testing.T) {
	input := files(
		"z_last", "SELECT 1",
		"m_mid", "SELECT * FROM {{ ref('a_first') }} JOIN {{ ref('z_last') }}",
		"a_first", "SELECT 2",
		"b_other", "SELECT * FROM {{ ref('a_first') }}",
	)

	first, err := newCompiler(t).Compile(input, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_first", "b_other", "z_last", "m_mid"}, first.Plan)

	for range 5 {
		again, err := newCompiler(t).Compile(input, Options{})
		require.NoError(t, err)
		if diff := cmp.Diff(first.Views, again.Views); diff != "" {
			t.Fatalf("non-deterministic output (-first +again):\n%s", diff)
		}
	}
}

func TestCompile_TopologicalValidity(t *testing.T) {
	res, err := newCompiler(t).Compile(files(
		"rpt", "SELECT * FROM {{ ref('fct') }} JOIN {{ ref('dim') }}",
		"fct", "SELECT * FROM {{ ref('stg_orders') }} JOIN {{ ref('dim') }}",
		"dim", "SELECT * FROM {{ ref('stg_users') }}",
		"stg_orders", "SELECT * FROM {{ ref('raw.orders') }}",
		"stg_users", "SELECT * FROM raw.users",
	), Options{})
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, name := range res.Plan {
		pos[name] = i
	}
	for _, name := range res.Plan {
		for _, dep := range res.Graph.Dependencies(name) {
			if res.Graph.IsExternal(dep) {
				continue
			}
			assert.Less(t, pos[dep], pos[name], "%s must deploy before %s", dep, name)
		}
	}
	assert.NotContains(t, res.Plan, "raw.orders")
	assert.Equal(t, []string{"raw.orders"}, res.Graph.External)
}

func TestCompile_IdempotentWrapping(t *testing.T) {
	c := newCompiler(t)
	res, err := c.Compile(files("v", "SELECT 1"), Options{})
	require.NoError(t, err)
	once := res.Views[0].SQL

	again, err := c.Compile(files("v", once), Options{})
	require.NoError(t, err)
	assert.Equal(t, once, again.Views[0].SQL)
	assert.Equal(t, 1, strings.Count(again.Views[0].SQL, "CREATE OR REPLACE VIEW"))
}

func TestCompile_HashCommentBeforeHeader(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"standardSQL directive", "#standardSQL\nCREATE OR REPLACE VIEW `p.other.a` AS SELECT 1"},
		{"hash comment after blank lines", "\n# owner: data\n  CREATE OR REPLACE VIEW `p.other.a` AS SELECT 1"},
		{"mixed comments", "#standardSQL\n-- note\n/* block */\nCREATE OR REPLACE VIEW `p.other.a` AS SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newCompiler(t).Compile(files("a", tt.text), Options{})
			require.NoError(t, err)

			assert.Equal(t, tt.text, res.Views[0].SQL)
			assert.Equal(t, 1, strings.Count(res.Views[0].SQL, "CREATE OR REPLACE VIEW"))
			assert.Equal(t, "`p.other.a`", res.Views[0].Identifier)
		})
	}
}

func TestCompile_ExistingHeader(t *testing.T) {
	text := "-- owner: analytics\n/* block\ncomment */\ncreate or replace view `other.marts.custom` AS\nSELECT * FROM {{ ref('base') }}"
	res, err := newCompiler(t).Compile(files(
		"base", "SELECT 1",
		"custom", text,
		"uses_custom", "SELECT * FROM {{ ref('custom') }}",
	), Options{})
	require.NoError(t, err)

	byName := map[string]CompiledView{}
	for _, v := range res.Views {
		byName[v.Name] = v
	}
	assert.Equal(t, strings.Replace(text, "{{ ref('base') }}", "`p.d.base`", 1), byName["custom"].SQL)
	assert.Equal(t, "`other.marts.custom`", byName["custom"].Identifier)
	assert.Contains(t, byName["uses_custom"].SQL, "FROM `other.marts.custom`")
}

func TestCompile_Overrides(t *testing.T) {
	res, err := newCompiler(t).Compile(files(
		"a", "SELECT 1",
		"b", "SELECT * FROM {{ ref('a', dataset='d') }} JOIN {{ ref('events', project='src', dataset='raw') }} JOIN {{ ref('a', dataset='staging') }}",
	), Options{})
	require.NoError(t, err)

	want := "CREATE OR REPLACE VIEW `p.d.b` AS\n" +
		"SELECT * FROM `p.d.a` JOIN `src.raw.events` JOIN `p.staging.a`"
	if diff := cmp.Diff(want, res.Views[1].SQL); diff != "" {
		t.Errorf("compiled SQL mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"p.staging.a", "src.raw.events"}, res.Graph.External)
	assert.Equal(t, []string{"a", "p.staging.a", "src.raw.events"}, res.Graph.Dependencies("b"))
}

func TestCompile_OverrideNamingRelocatedView(t *testing.T) {
	res, err := newCompiler(t).Compile(files(
		"report", "SELECT * FROM {{ ref('a', dataset='other') }}",
		"a", "CREATE OR REPLACE VIEW `p.other.a` AS SELECT 1",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "report"}, res.Plan)
	assert.Equal(t, []string{"a"}, res.Graph.Dependencies("report"))
	assert.Empty(t, res.Graph.External)
	assert.Contains(t, res.Views[1].SQL, "FROM `p.other.a`")
}

func TestCompile_CycleRejected(t *testing.T) {
	res, err := newCompiler(t).Compile(files(
		"a", "SELECT * FROM {{ ref('c') }}",
		"b", "SELECT * FROM {{ ref('a') }}",
		"c", "SELECT * FROM {{ ref('b') }}",
		"ok", "SELECT 1",
	), Options{Select: []string{"ok"}})
	assert.Nil(t, res)

	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Views())
	assert.Equal(t, "circular dependency: a → c → b → a", err.Error())
}

func TestCompile_SelfReference(t *testing.T) {
	_, err := newCompiler(t).Compile(files("a", "SELECT * FROM {{ ref('a') }}"), Options{})

	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "a"}, cycleErr.Cycle)
}

func TestCompile_SelectionScoping(t *testing.T) {
	res, err := newCompiler(t).Compile(chain(), Options{Select: []string{"C"}})
	require.NoError(t, err)

	require.Len(t, res.Views, 1)
	assert.Equal(t, "C", res.Views[0].Name)
	assert.Equal(t, "CREATE OR REPLACE VIEW `p.d.C` AS\nSELECT * FROM `p.d.B`", res.Views[0].SQL)
	assert.Equal(t, []string{"A", "B", "C"}, res.Plan)
}

func TestCompile_SelectionStillValidatesAll(t *testing.T) {
	input := files(
		"A", "SELECT * FROM {{ ref() }}",
		"B", "SELECT 1",
	)
	_, err := newCompiler(t).Compile(input, Options{Select: []string{"B"}})

	var synErr *ref.SyntaxError
	require.ErrorAs(t, err, &synErr)
	assert.Equal(t, "views/A.sql", synErr.Pos.File)
}

func TestCompile_UpstreamDownstream(t *testing.T) {
	input := files(
		"A", "SELECT 1",
		"B", "SELECT * FROM {{ ref('A') }}",
		"C", "SELECT * FROM {{ ref('B') }}",
		"D", "SELECT * FROM {{ ref('C') }}",
		"X", "SELECT 2",
	)
	c := newCompiler(t)

	res, err := c.Compile(input, Options{Select: []string{"C"}, Upstream: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, res.Selected)

	res, err = c.Compile(input, Options{Select: []string{"B"}, Downstream: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "D"}, res.Selected)

	res, err = c.Compile(input, Options{Select: []string{"C"}, Upstream: true, Downstream: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, res.Selected)
}

func TestCompile_UnknownSelection(t *testing.T) {
	res, err := newCompiler(t).Compile(chain(), Options{Select: []string{"A", "nope", "ghost"}})
	assert.Nil(t, res)

	var unknownErr *UnknownViewError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, []string{"nope", "ghost"}, unknownErr.Names)
}

func TestCompile_UnresolvedReference(t *testing.T) {
	res, err := newCompiler(t).Compile(files(
		"a", "SELECT * FROM {{ ref('missing') }}",
		"b", "SELECT * FROM {{ ref('also_missing') }} JOIN {{ ref('a') }}",
	), Options{})
	assert.Nil(t, res)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)

	var targets []string
	for _, e := range merr.Errors {
		var unresolved *UnresolvedReferenceError
		require.ErrorAs(t, e, &unresolved)
		targets = append(targets, unresolved.Target)
	}
	assert.Equal(t, []string{"missing", "also_missing"}, targets)
}

func TestCompile_UnresolvedOutsideSelectionIgnored(t *testing.T) {
	_, err := newCompiler(t).Compile(files(
		"a", "SELECT * FROM {{ ref('missing') }}",
		"b", "SELECT 1",
	), Options{Select: []string{"b"}})
	assert.NoError(t, err)
}

func TestCompile_EmptyRefIsSyntaxError(t *testing.T) {
	_, err := newCompiler(t).Compile(files("a", "SELECT * FROM {{ ref() }}"), Options{})

	var synErr *ref.SyntaxError
	require.True(t, errors.As(err, &synErr))
	assert.Contains(t, synErr.Reason, "view name")
}

func TestCompile_DuplicateNames(t *testing.T) {
	input := []project.ViewFile{
		{Name: "a", Path: "x/a.sql", Text: "SELECT 1"},
		{Name: "a", Path: "y/a.sql", Text: "SELECT 2"},
	}
	_, err := newCompiler(t).Compile(input, Options{})

	var dupErr *DuplicateViewNameError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "x/a.sql", dupErr.First)
	assert.Equal(t, "y/a.sql", dupErr.Second)
}

func TestCompile_InertBracesPreserved(t *testing.T) {
	text := "SELECT '{{ not_a_ref }}' AS literal, {{ ref('a') }}.id FROM {{ ref('a') }}"
	res, err := newCompiler(t).Compile(files("a", "SELECT 1 AS id", "b", text), Options{Select: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t,
		"CREATE OR REPLACE VIEW `p.d.b` AS\nSELECT '{{ not_a_ref }}' AS literal, `p.d.a`.id FROM `p.d.a`",
		res.Views[0].SQL)
	assert.Equal(t, 1, res.Graph.EdgeCount())
}

func TestDeclaredTarget(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"CREATE VIEW v AS SELECT 1", "`p.d.v`", true},
		{"create view if not exists ds.v as select 1", "`p.ds.v`", true},
		{"CREATE OR REPLACE VIEW `x.y.z` AS SELECT 1", "`x.y.z`", true},
		{"CREATE OR REPLACE VIEW {{ ref('v') }} AS SELECT 1", "", false},
		{"SELECT 1", "", false},
		{"-- CREATE VIEW commented AS\nSELECT 1", "", false},
		{"#standardSQL\nCREATE VIEW `x.y.z` AS SELECT 1", "`x.y.z`", true},
		{"# CREATE VIEW commented AS\nSELECT 1", "", false},
	}
	for _, tt := range tests {
		got, ok := DeclaredTarget(tt.text, "p", "d")
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestHasCreateView(t *testing.T) {
	assert.True(t, HasCreateView("\n\n  CREATE OR REPLACE VIEW x AS SELECT 1"))
	assert.True(t, HasCreateView("/* a */ -- b\nCreate View x AS SELECT 1"))
	assert.True(t, HasCreateView("#standardSQL\nCREATE OR REPLACE VIEW x AS SELECT 1"))
	assert.True(t, HasCreateView("# legacy off\n#standardSQL\ncreate view x as select 1"))
	assert.False(t, HasCreateView("#standardSQL\nSELECT 1"))
	assert.False(t, HasCreateView("#CREATE VIEW x AS SELECT 1"))
	assert.False(t, HasCreateView("SELECT 'CREATE VIEW'"))
	assert.False(t, HasCreateView("CREATE TABLE x AS SELECT 1"))
	assert.False(t, HasCreateView("CREATE VIEWS"))
}

func TestWriteCompiled(t *testing.T) {
	dir := t.TempDir()
	views := []CompiledView{
		{Name: "orders", SQL: "CREATE OR REPLACE VIEW `p.d.orders` AS\nSELECT 1", SourcePath: "sql/views/marts/orders.sql", RelPath: "marts/orders.sql"},
		{Name: "bare", SQL: "SELECT 2", SourcePath: "bare.sql"},
	}

	written, err := WriteCompiled(dir, views)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "marts", "orders.sql"), filepath.Join(dir, "bare.sql")}, written)

	content, err := os.ReadFile(written[0])
	require.NoError(t, err)
	want := "-- Compiled SQL from: sql/views/marts/orders.sql\n" +
		"-- Generated by bqviews\n" +
		"-- DO NOT EDIT: This file is auto-generated\n" +
		"\n" +
		"CREATE OR REPLACE VIEW `p.d.orders` AS\nSELECT 1"
	if diff := cmp.Diff(want, string(content)); diff != "" {
		t.Errorf("compiled file mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatDeps(t *testing.T) {
	res, err := newCompiler(t).Compile(files(
		"a", "SELECT * FROM {{ ref('raw.events') }}",
		"b", "SELECT * FROM {{ ref('a') }}",
		"c", "SELECT 1",
	), Options{})
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, FormatDeps(&b, res.Graph, res.Plan, nil))
	want := `Dependency Graph:
  a → raw.events (external)
  b → a
  c (no dependencies)

Deployment Order:
  1. a
  2. b
  3. c
`
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("deps report mismatch (-want +got):\n%s", diff)
	}

	b.Reset()
	require.NoError(t, FormatDeps(&b, res.Graph, res.Plan, []string{"b"}))
	assert.Equal(t, "Dependency Graph:\n  b → a\n\nDeployment Order:\n  1. b\n", b.String())
}
