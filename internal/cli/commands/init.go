package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
	"github.com/leapstack-labs/bqviews/internal/vcs"
)

const configFileName = "bqviews.yaml"

// InitOptions holds options for the init command.
type InitOptions struct {
	Force     bool
	NoGit     bool
	ProjectID string
	DatasetID string
}

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new bqviews project",
		Long: `Initialize a new bqviews project.

This creates:
  - bqviews.yaml configuration file
  - sql/views/ with example views that reference each other
  - README.md and .gitignore
  - a git repository with the post-commit deployment hook

When the directory is already inside a git repository the hook is not
installed; run 'bqviews hook install' to enable deploy-on-commit.`,
		Example: `  # Initialize in current directory
  bqviews init --project my-gcp-project --dataset analytics

  # Initialize in a new directory
  bqviews init my-views

  # Scaffold files only
  bqviews init --no-git

  # Force overwrite existing files
  bqviews init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if f := cmd.Flag("project"); f != nil {
				opts.ProjectID = f.Value.String()
			}
			if f := cmd.Flag("dataset"); f != nil {
				opts.DatasetID = f.Value.String()
			}

			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output))
			return runInit(r, dir, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&opts.NoGit, "no-git", false, "Do not create a git repository or install the hook")

	return cmd
}

func runInit(r *output.Renderer, dir string, opts *InitOptions) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(abs, configFileName)
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", configPath)
	}

	projectID, datasetID := opts.ProjectID, opts.DatasetID
	if projectID == "" {
		projectID = "your-gcp-project"
	}
	if datasetID == "" {
		datasetID = "your_dataset"
	}
	content, err := renderConfig(projectID, datasetID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	files, err := copyTemplate("init", abs, filepath.Base(abs), opts.Force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}
	files = append([]string{configFileName}, files...)

	styles := r.Styles()
	r.Header(1, "Initialized bqviews project in "+abs)
	for _, f := range files {
		if r.EffectiveMode() == output.ModeMarkdown {
			r.Println("- " + f)
		} else {
			r.Printf("  %s %s\n", styles.Success.Render("+"), f)
		}
	}
	r.Println()

	if !opts.NoGit {
		if err := initGit(r, abs); err != nil {
			return err
		}
	}

	r.Println("Next steps:")
	step := 1
	if dir != "." {
		r.Printf("  %d. cd %s\n", step, dir)
		step++
	}
	if opts.ProjectID == "" || opts.DatasetID == "" {
		r.Printf("  %d. Set bigquery.project_id and bigquery.dataset_id in %s\n", step, configFileName)
		step++
	}
	r.Printf("  %d. Run 'bqviews validate' and 'bqviews run --dry'\n", step)
	r.Printf("  %d. Run 'bqviews run' to deploy\n", step+1)
	return nil
}

// initGit creates a repository in dir when needed. The hook is installed only
// in a repository created here.
func initGit(r *output.Renderer, dir string) error {
	created, err := vcs.Init(dir)
	if err != nil {
		return err
	}
	if !created {
		r.Warning("Existing git repository detected: post-commit hook not installed")
		r.Muted("Run 'bqviews hook install' to deploy changed views on every commit")
		r.Println()
		return nil
	}
	r.Success("Initialized git repository")

	hookPath, err := vcs.InstallHook(dir, false)
	if errors.Is(err, vcs.ErrForeignHook) {
		r.Warning(err.Error())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to install hook: %w", err)
	}
	r.Success("Installed post-commit hook: " + hookPath)
	r.Warning("Every commit now deploys the changed views to BigQuery")
	r.Println()
	return nil
}
