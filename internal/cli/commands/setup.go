// Package commands implements the bqviews subcommands.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/cli/config"
	"github.com/leapstack-labs/bqviews/internal/cli/output"
	"github.com/leapstack-labs/bqviews/internal/compiler"
	"github.com/leapstack-labs/bqviews/internal/deploy"
	"github.com/leapstack-labs/bqviews/internal/project"
)

// CommandContext holds shared dependencies for command execution.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer

	// Executor overrides the BigQuery executor of non-dry runs.
	Executor deploy.Executor
}

// NewCommandContext creates a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, nil
}

// getConfig returns the configuration loaded by the root command, loading it
// when the command runs on its own.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg, nil
	}
	var cfgFile string
	if f := cmd.Flag("config"); f != nil {
		cfgFile = f.Value.String()
	}
	return config.LoadConfig(cfgFile, cmd.Root().PersistentFlags())
}

// scan validates the configuration and discovers the view files.
func (c *CommandContext) scan() ([]project.ViewFile, error) {
	if err := c.Cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.Cfg.ValidateDirectories(); err != nil {
		return nil, err
	}
	files, err := project.Scan(c.Cfg.SQL.ViewsDir, c.Cfg.SQL.Include, c.Cfg.SQL.Exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to discover views: %w", err)
	}
	c.Logger.Debug("discovered views", "dir", c.Cfg.SQL.ViewsDir, "count", len(files))
	return files, nil
}

// compile compiles files. A non-empty args restricts the output to those
// views; each arg is a view name or a file path.
func (c *CommandContext) compile(files []project.ViewFile, args []string, upstream, downstream bool) (*compiler.Result, error) {
	opts := compiler.Options{Upstream: upstream, Downstream: downstream}
	if len(args) > 0 {
		names, missing := project.Select(files, args)
		if len(missing) > 0 {
			return nil, &compiler.UnknownViewError{Names: missing}
		}
		opts.Select = names
	}
	return compiler.New(c.Cfg.BigQuery.ProjectID, c.Cfg.BigQuery.DatasetID, c.Logger).Compile(files, opts)
}

// target returns the default project.dataset for display.
func (c *CommandContext) target() string {
	return c.Cfg.BigQuery.ProjectID + "." + c.Cfg.BigQuery.DatasetID
}
