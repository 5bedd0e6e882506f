package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
	"github.com/leapstack-labs/bqviews/internal/compiler"
	"github.com/leapstack-labs/bqviews/internal/deploy"
	"github.com/leapstack-labs/bqviews/internal/project"
	"github.com/leapstack-labs/bqviews/internal/state"
	"github.com/leapstack-labs/bqviews/internal/vcs"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select     []string
	Changed    bool
	Dry        bool
	Upstream   bool
	Downstream bool
	Trigger    string
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [VIEW...]",
		Short: "Compile and deploy views to BigQuery",
		Long: `Compile views and deploy them to BigQuery in dependency order.

By default every view is deployed. Name views (or their files) as arguments or
with --select to deploy only those; the whole project is still validated.
--changed selects the views whose files changed in the last commit, which is
what the post-commit hook runs.`,
		Example: `  # Deploy all views
  bqviews run

  # Deploy specific views
  bqviews run user_summary daily_events

  # Deploy a view and everything built on it
  bqviews run --select base_events --downstream

  # Show what would be deployed
  bqviews run --dry

  # Deploy the views changed by the last commit
  bqviews run --changed`,
		Aliases: []string{"deploy"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			return runRun(cmd.Context(), cc, append(args, opts.Select...), opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Comma-separated list of views to deploy")
	cmd.Flags().BoolVar(&opts.Changed, "changed", false, "Deploy views changed by the last git commit")
	cmd.Flags().BoolVar(&opts.Dry, "dry", false, "Compile and show the plan without deploying")
	cmd.Flags().BoolVar(&opts.Upstream, "upstream", false, "Include the dependencies of selected views")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include views that depend on selected views")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", string(state.TriggerManual), "What started the run (manual|hook)")
	_ = cmd.Flags().MarkHidden("trigger")

	return cmd
}

func runRun(ctx context.Context, cc *CommandContext, args []string, opts *RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := cc.Cfg
	r := cc.Renderer

	trigger := state.Trigger(opts.Trigger)
	switch trigger {
	case "":
		trigger = state.TriggerManual
	case state.TriggerManual, state.TriggerHook:
	default:
		return fmt.Errorf("unknown trigger %q (valid: manual, hook)", opts.Trigger)
	}

	files, err := cc.scan()
	if err != nil {
		return err
	}

	if opts.Changed {
		changed, err := changedViews(cc, files)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(output.RunOutput{Plan: []string{}, Views: []output.ViewResult{}})
			}
			r.Muted("No view files changed in the last commit")
			return nil
		}
		args = append(args, changed...)
	}

	res, err := cc.compile(files, args, opts.Upstream, opts.Downstream)
	if err != nil {
		return err
	}

	if cfg.Deployment.SaveCompiled {
		written, err := compiler.WriteCompiled(cfg.SQL.CompiledDir, res.Views)
		if err != nil {
			return fmt.Errorf("failed to save compiled SQL: %w", err)
		}
		cc.Logger.Debug("saved compiled SQL", "dir", cfg.SQL.CompiledDir, "files", len(written))
	}

	dryRun := opts.Dry || cfg.Deployment.DryRun
	if r.EffectiveMode() != output.ModeJSON {
		renderPlan(r, res, cc.target(), dryRun)
	}

	exec, closeExec, err := cc.executor(ctx, dryRun)
	if err != nil {
		return err
	}
	defer closeExec()

	store, run := cc.startRun(ctx, trigger, dryRun)
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	var mu sync.Mutex
	deployer := deploy.NewDeployer(exec, deploy.Options{
		Concurrency: cfg.Deployment.Concurrency,
		MaxRetries:  cfg.Deployment.MaxRetries,
		Timeout:     cfg.Deployment.Timeout,
		Logger:      cc.Logger,
		OnResult: func(res deploy.Result) {
			if r.EffectiveMode() != output.ModeText {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			renderProgress(r, res)
		},
	})

	report, deployErr := deployer.Deploy(ctx, res)
	if report == nil {
		cc.finishRun(ctx, store, run, nil, res, deployErr)
		return fmt.Errorf("deployment aborted: %w", deployErr)
	}
	cc.finishRun(ctx, store, run, report, res, deployErr)

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(runOutput(run, dryRun, res, report)); err != nil {
			return err
		}
	} else {
		renderReport(r, report, dryRun)
		if dryRun && cfg.Verbose {
			for _, v := range res.Views {
				r.Println(output.FormatCodeBlock("sql", v.SQL))
				r.Println()
			}
		}
	}

	if deployErr != nil {
		return fmt.Errorf("deployment failed: %w", deployErr)
	}
	return nil
}

// changedViews returns the names of views whose files changed in HEAD.
func changedViews(cc *CommandContext, files []project.ViewFile) ([]string, error) {
	paths, err := vcs.ChangedFiles(cc.Cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to find changed files: %w", err)
	}
	names, _ := project.Select(files, paths)
	cc.Logger.Debug("changed files", "files", len(paths), "views", len(names))
	return names, nil
}

// executor returns the executor for the run and a function releasing it.
func (c *CommandContext) executor(ctx context.Context, dryRun bool) (deploy.Executor, func(), error) {
	if dryRun {
		return deploy.DryRunExecutor{Logger: c.Logger}, func() {}, nil
	}
	if c.Executor != nil {
		return c.Executor, func() {}, nil
	}
	bq, err := deploy.NewBigQueryExecutor(ctx, deploy.ClientConfig{
		ProjectID:       c.Cfg.BigQuery.ProjectID,
		Location:        c.Cfg.BigQuery.Location,
		CredentialsFile: c.Cfg.BigQuery.CredentialsFile,
	}, c.Logger)
	if err != nil {
		return nil, nil, err
	}
	return bq, func() { _ = bq.Close() }, nil
}

// startRun records the start of a run. History is best effort: when the
// state store cannot be opened the run proceeds unrecorded.
func (c *CommandContext) startRun(ctx context.Context, trigger state.Trigger, dryRun bool) (state.Store, *state.Run) {
	store, err := state.OpenStore(c.Cfg.Deployment.StatePath, c.Logger)
	if err != nil {
		c.Renderer.Warning(fmt.Sprintf("deployment history disabled: %v", err))
		return nil, nil
	}

	var commit string
	if repo, err := vcs.Open(c.Cfg.ProjectRoot); err == nil {
		commit, _ = repo.HeadCommit()
	}

	run, err := store.CreateRun(ctx, trigger, commit, dryRun)
	if err != nil {
		c.Renderer.Warning(fmt.Sprintf("deployment history disabled: %v", err))
		_ = store.Close()
		return nil, nil
	}
	return store, run
}

// finishRun records the view outcomes and the final run status.
func (c *CommandContext) finishRun(ctx context.Context, store state.Store, run *state.Run, report *deploy.Report, res *compiler.Result, deployErr error) {
	if store == nil || run == nil {
		return
	}

	sqlByView := make(map[string]string, len(res.Views))
	for _, v := range res.Views {
		sqlByView[v.Name] = v.SQL
	}

	if report != nil {
		for _, vr := range report.Results {
			rec := state.ViewDeployment{
				RunID:      run.ID,
				View:       vr.View,
				Identifier: vr.Identifier,
				Status:     string(vr.Status),
				SQLHash:    state.HashSQL(sqlByView[vr.View]),
				Duration:   vr.Duration,
			}
			if vr.Err != nil {
				rec.Error = vr.Err.Error()
			}
			if err := store.RecordView(ctx, rec); err != nil {
				c.Logger.Warn("failed to record view deployment", "view", vr.View, "error", err)
			}
		}
	}

	status, msg := state.RunStatusCompleted, ""
	if deployErr != nil {
		status, msg = state.RunStatusFailed, deployErr.Error()
	}
	// Recorded even when ctx is cancelled.
	if err := store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, msg); err != nil {
		c.Logger.Warn("failed to complete run", "run", run.ID, "error", err)
	}
}

func renderPlan(r *output.Renderer, res *compiler.Result, target string, dryRun bool) {
	title := "Deployment Plan"
	if dryRun {
		title += " (dry run)"
	}
	r.Header(1, title)
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatKeyValue("Target", target))
		r.Println(output.FormatKeyValue("Views", fmt.Sprintf("%d of %d", len(res.Selected), len(res.Plan))))
		r.Println()
	} else {
		r.Muted(fmt.Sprintf("Target: %s  Views: %d of %d", target, len(res.Selected), len(res.Plan)))
		r.Println()
	}

	rows := make([][]string, 0, len(res.Views))
	for i, v := range res.Views {
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), v.Name, v.Identifier})
	}
	r.Table([]string{"#", "View", "Identifier"}, rows)
}

func renderProgress(r *output.Renderer, res deploy.Result) {
	styles := r.Styles()
	mark := map[deploy.Status]string{
		deploy.StatusSuccess: "✓",
		deploy.StatusFailed:  "✗",
		deploy.StatusSkipped: "-",
	}[res.Status]
	line := fmt.Sprintf("%s %s", styles.StatusStyle(string(res.Status)).Render(mark), styles.ViewName.Render(res.View))
	if res.Status == deploy.StatusSuccess {
		line += styles.Muted.Render(fmt.Sprintf(" (%s)", res.Duration.Round(time.Millisecond)))
	}
	if res.Err != nil {
		line += ": " + res.Err.Error()
	}
	r.Println(line)
}

func renderReport(r *output.Renderer, report *deploy.Report, dryRun bool) {
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatHeader(2, "Results"))
		r.Println()
		rows := make([][]string, 0, len(report.Results))
		for _, res := range report.Results {
			errMsg := ""
			if res.Err != nil {
				errMsg = res.Err.Error()
			}
			rows = append(rows, []string{res.View, string(res.Status), res.Duration.Round(time.Millisecond).String(), errMsg})
		}
		r.Table([]string{"View", "Status", "Duration", "Error"}, rows)
	} else {
		r.Println()
	}

	summary := fmt.Sprintf("%d succeeded, %d failed, %d skipped in %s",
		report.Count(deploy.StatusSuccess), report.Count(deploy.StatusFailed),
		report.Count(deploy.StatusSkipped), report.Duration.Round(time.Millisecond))
	switch {
	case report.Count(deploy.StatusFailed) > 0 || report.Count(deploy.StatusSkipped) > 0:
		r.Warning(summary)
	case dryRun:
		r.Success("Dry run: " + summary)
	default:
		r.Success(summary)
	}
}

func runOutput(run *state.Run, dryRun bool, res *compiler.Result, report *deploy.Report) output.RunOutput {
	out := output.RunOutput{
		DryRun: dryRun,
		Plan:   res.Selected,
		Views:  make([]output.ViewResult, 0, len(report.Results)),
		Summary: output.RunSummary{
			Total:      len(report.Results),
			Succeeded:  report.Count(deploy.StatusSuccess),
			Failed:     report.Count(deploy.StatusFailed),
			Skipped:    report.Count(deploy.StatusSkipped),
			DurationMS: report.Duration.Milliseconds(),
		},
	}
	if run != nil {
		out.RunID = run.ID
	}
	for _, vr := range report.Results {
		v := output.ViewResult{
			View:       vr.View,
			Identifier: vr.Identifier,
			Status:     string(vr.Status),
			Attempts:   vr.Attempts,
			DurationMS: vr.Duration.Milliseconds(),
		}
		if vr.Err != nil {
			v.Error = vr.Err.Error()
		}
		out.Views = append(out.Views, v)
	}
	return out
}
