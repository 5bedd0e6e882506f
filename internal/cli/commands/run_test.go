package commands

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
	"github.com/leapstack-labs/bqviews/internal/compiler"
	"github.com/leapstack-labs/bqviews/internal/state"
	"github.com/leapstack-labs/bqviews/internal/testutil"
)

func openState(t *testing.T, cc *CommandContext) *state.SQLiteStore {
	t.Helper()
	store, err := state.OpenStore(cc.Cfg.Deployment.StatePath, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunRun_DeploysInDependencyOrder(t *testing.T) {
	cc, tr, exec := newTestContext(t, output.ModeText, sampleViews)

	require.NoError(t, runRun(context.Background(), cc, nil, &RunOptions{}))

	assert.Equal(t, []string{"base", "summary", "report"}, exec.Executed())
	assert.Contains(t, tr.Output(), "Deployment Plan")
	assert.Contains(t, tr.Output(), "3 succeeded, 0 failed, 0 skipped")

	compiled := readFile(t, filepath.Join(cc.Cfg.SQL.CompiledDir, "summary.sql"))
	assert.Contains(t, compiled, "FROM `p.d.base`")

	runs, err := openState(t, cc).ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, state.TriggerManual, runs[0].Trigger)
	assert.False(t, runs[0].DryRun)
}

func TestRunRun_Selection(t *testing.T) {
	cc, tr, exec := newTestContext(t, output.ModeJSON, sampleViews)

	require.NoError(t, runRun(context.Background(), cc, []string{"summary"}, &RunOptions{Upstream: true}))

	assert.Equal(t, []string{"base", "summary"}, exec.Executed())

	var out output.RunOutput
	tr.DecodeJSON(t, &out)
	assert.Equal(t, []string{"base", "summary"}, out.Plan)
	assert.Equal(t, 2, out.Summary.Succeeded)
	assert.NotEmpty(t, out.RunID)
}

func TestRunRun_DryRun(t *testing.T) {
	cc, tr, exec := newTestContext(t, output.ModeJSON, sampleViews)

	require.NoError(t, runRun(context.Background(), cc, nil, &RunOptions{Dry: true}))

	assert.Empty(t, exec.Executed())

	var out output.RunOutput
	tr.DecodeJSON(t, &out)
	assert.True(t, out.DryRun)
	assert.Equal(t, 3, out.Summary.Total)

	run, err := openState(t, cc).GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.True(t, run.DryRun)
	require.Len(t, run.Views, 3)
	compiled := readFile(t, filepath.Join(cc.Cfg.SQL.CompiledDir, "base.sql"))
	compiled = strings.TrimPrefix(compiled, compiler.Header(filepath.Join(cc.Cfg.SQL.ViewsDir, "base.sql")))
	assert.Equal(t, "base", run.Views[0].View)
	assert.Equal(t, state.HashSQL(compiled), run.Views[0].SQLHash)
}

func TestRunRun_FailureSkipsDependents(t *testing.T) {
	cc, tr, exec := newTestContext(t, output.ModeJSON, sampleViews)
	exec.fail["base"] = true

	err := runRun(context.Background(), cc, nil, &RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployment failed")
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, []string{"base"}, exec.Executed())

	var out output.RunOutput
	tr.DecodeJSON(t, &out)
	assert.Equal(t, 1, out.Summary.Failed)
	assert.Equal(t, 2, out.Summary.Skipped)

	run, err := openState(t, cc).GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "access denied")
}

func TestRunRun_InvalidTrigger(t *testing.T) {
	cc, _, exec := newTestContext(t, output.ModeText, sampleViews)

	err := runRun(context.Background(), cc, nil, &RunOptions{Trigger: "cron"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger")
	assert.Empty(t, exec.Executed())
}

func TestRunRun_Changed(t *testing.T) {
	cc, tr, exec := newTestContext(t, output.ModeText, sampleViews)
	root := cc.Cfg.ProjectRoot

	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	commitAll := func() {
		require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
		_, err := wt.Commit("update views", &git.CommitOptions{
			Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
		})
		require.NoError(t, err)
	}
	commitAll()

	testutil.WriteFiles(t, root, map[string]string{
		"sql/views/summary.sql": "SELECT user_id FROM {{ ref('base') }}",
	})
	commitAll()

	require.NoError(t, runRun(context.Background(), cc, nil, &RunOptions{Changed: true, Trigger: "hook"}))
	assert.Equal(t, []string{"summary"}, exec.Executed())

	runs, err := openState(t, cc).ListRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.TriggerHook, runs[0].Trigger)
	assert.Len(t, runs[0].CommitHash, 40)
	assert.NotContains(t, tr.ErrorOutput(), "history disabled")
}

func TestRunRun_ChangedNothing(t *testing.T) {
	cc, tr, exec := newTestContext(t, output.ModeText, sampleViews)
	root := cc.Cfg.ProjectRoot

	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	testutil.WriteFiles(t, root, map[string]string{"README.md": "# views"})
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("docs", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, runRun(context.Background(), cc, nil, &RunOptions{Changed: true}))
	assert.Empty(t, exec.Executed())
	assert.Contains(t, tr.Output(), "No view files changed")
}
