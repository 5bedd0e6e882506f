package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/vcs"
)

// NewHookCommand creates the hook command and its subcommands.
func NewHookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Manage the git post-commit deployment hook",
		Long: `Install or remove the git post-commit hook.

The hook runs 'bqviews run --changed' after every commit, deploying the views
whose files the commit added or modified.`,
	}

	cmd.AddCommand(newHookInstallCommand(), newHookUninstallCommand())
	return cmd
}

func newHookInstallCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the post-commit hook",
		Example: `  # Install the hook
  bqviews hook install

  # Replace a hook written by another tool
  bqviews hook install --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			path, err := vcs.InstallHook(cc.Cfg.ProjectRoot, force)
			if err != nil {
				return err
			}
			cc.Renderer.Success("Installed post-commit hook: " + path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing hook not installed by bqviews")
	return cmd
}

func newHookUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the post-commit hook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			removed, err := vcs.UninstallHook(cc.Cfg.ProjectRoot)
			if err != nil {
				return err
			}
			if !removed {
				cc.Renderer.Muted("No post-commit hook installed")
				return nil
			}
			cc.Renderer.Success("Removed post-commit hook")
			return nil
		},
	}
}
