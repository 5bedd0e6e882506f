package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
	"github.com/leapstack-labs/bqviews/internal/state"
)

const defaultHistoryLimit = 20

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recent deployment runs",
		Long: `List recent deployment runs recorded in the state store
(deployment.state_path), newest first. Give a run id to list the views that
run deployed.`,
		Example: `  # Show the last 20 runs
  bqviews history

  # Show the last 5 runs as JSON
  bqviews history --limit 5 -o json

  # Show the views of one run
  bqviews history 0b6f7c1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return runHistoryShow(cmd.Context(), cc, args[0])
			}
			return runHistory(cmd.Context(), cc, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Number of runs to show")
	return cmd
}

// openHistory opens the state store without creating it. It returns nil
// when no run was ever recorded.
func openHistory(cc *CommandContext) (*state.SQLiteStore, error) {
	path := cc.Cfg.Deployment.StatePath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return state.OpenStore(path, cc.Logger)
}

func runHistory(ctx context.Context, cc *CommandContext, limit int) error {
	r := cc.Renderer
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var runs []*state.Run
	store, err := openHistory(cc)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
		runs, err = store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		out := output.HistoryOutput{Runs: make([]output.RunInfo, 0, len(runs))}
		for _, run := range runs {
			out.Runs = append(out.Runs, runInfo(run))
		}
		return r.JSON(out)
	}

	if len(runs) == 0 {
		r.Muted("No deployment runs recorded")
		return nil
	}

	r.Header(1, "Deployment History")
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.ID,
			string(run.Trigger),
			shortCommit(run.CommitHash),
			yesNo(run.DryRun),
			string(run.Status),
			runDuration(run),
		})
	}
	r.Table([]string{"Started", "Run", "Trigger", "Commit", "Dry", "Status", "Duration"}, rows)
	return nil
}

func runHistoryShow(ctx context.Context, cc *CommandContext, id string) error {
	r := cc.Renderer
	store, err := openHistory(cc)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("run not found: %s", id)
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		out := struct {
			output.RunInfo
			Views []output.ViewResult `json:"views"`
		}{RunInfo: runInfo(run), Views: make([]output.ViewResult, 0, len(run.Views))}
		for _, v := range run.Views {
			out.Views = append(out.Views, output.ViewResult{
				View:       v.View,
				Identifier: v.Identifier,
				Status:     v.Status,
				DurationMS: v.Duration.Milliseconds(),
				Error:      v.Error,
			})
		}
		return r.JSON(out)
	}

	r.Header(1, "Run "+run.ID)
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatKeyValue("Status", string(run.Status)))
		r.Println(output.FormatKeyValue("Trigger", string(run.Trigger)))
		r.Println(output.FormatKeyValue("Started", run.StartedAt.Local().Format(time.RFC3339)))
		if run.CommitHash != "" {
			r.Println(output.FormatKeyValue("Commit", run.CommitHash))
		}
		r.Println()
	} else {
		r.Printf("%s  %s  trigger=%s  started %s\n",
			r.Styles().StatusStyle(string(run.Status)).Render(string(run.Status)),
			shortCommit(run.CommitHash), run.Trigger, run.StartedAt.Local().Format(time.RFC3339))
		r.Println()
	}
	if run.Error != "" {
		r.Warning(run.Error)
	}

	rows := make([][]string, 0, len(run.Views))
	for _, v := range run.Views {
		rows = append(rows, []string{v.View, v.Identifier, v.Status, v.Duration.String(), v.Error})
	}
	r.Table([]string{"View", "Identifier", "Status", "Duration", "Error"}, rows)
	return nil
}

func runInfo(run *state.Run) output.RunInfo {
	info := output.RunInfo{
		ID:        run.ID,
		Trigger:   string(run.Trigger),
		Commit:    run.CommitHash,
		DryRun:    run.DryRun,
		Status:    string(run.Status),
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Error:     run.Error,
	}
	if run.CompletedAt != nil {
		info.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return info
}

func runDuration(run *state.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func shortCommit(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	if hash == "" {
		return "-"
	}
	return hash
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
