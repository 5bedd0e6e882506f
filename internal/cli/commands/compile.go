package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
	"github.com/leapstack-labs/bqviews/internal/compiler"
	"github.com/leapstack-labs/bqviews/internal/project"
)

// watchDebounce is how long file events are coalesced before recompiling.
const watchDebounce = 200 * time.Millisecond

// CompileOptions holds options for the compile command.
type CompileOptions struct {
	Select     []string
	Upstream   bool
	Downstream bool
	Watch      bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	opts := &CompileOptions{}

	cmd := &cobra.Command{
		Use:   "compile [VIEW...]",
		Short: "Compile views to SQL without deploying",
		Long: `Resolve references and write the CREATE OR REPLACE VIEW statement of each
view to the compiled directory (sql.compiled_dir).

With --watch the views directory is watched and the project recompiled
whenever a SQL file changes. Compilation errors are reported and watching
continues.`,
		Example: `  # Compile every view
  bqviews compile

  # Compile one view
  bqviews compile user_summary

  # Recompile on every change
  bqviews compile --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			args = append(args, opts.Select...)
			if opts.Watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runCompileWatch(ctx, cc, args, opts)
			}
			return runCompile(cc, args, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Comma-separated list of views to compile")
	cmd.Flags().BoolVar(&opts.Upstream, "upstream", false, "Include the dependencies of selected views")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include views that depend on selected views")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Recompile when view files change")

	return cmd
}

func runCompile(cc *CommandContext, args []string, opts *CompileOptions) error {
	files, err := cc.scan()
	if err != nil {
		return err
	}
	res, err := cc.compile(files, args, opts.Upstream, opts.Downstream)
	if err != nil {
		return err
	}

	dir := cc.Cfg.SQL.CompiledDir
	written, err := compiler.WriteCompiled(dir, res.Views)
	if err != nil {
		return err
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		out := output.CompileOutput{CompiledDir: dir, Views: make([]output.CompiledInfo, 0, len(res.Views))}
		for i, v := range res.Views {
			out.Views = append(out.Views, output.CompiledInfo{
				Name:       v.Name,
				Identifier: v.Identifier,
				Source:     v.SourcePath,
				Output:     written[i],
			})
		}
		return r.JSON(out)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Compiled Views"))
		r.Println()
		r.Println(output.FormatKeyValue("Output", dir))
		r.Println()
		rows := make([][]string, 0, len(res.Views))
		for i, v := range res.Views {
			rows = append(rows, []string{v.Name, v.Identifier, relTo(dir, written[i])})
		}
		r.Table([]string{"View", "Identifier", "File"}, rows)
	default:
		styles := r.Styles()
		for _, v := range res.Views {
			r.Printf("  %s %s\n", styles.ViewName.Render(v.Name), styles.Muted.Render("→ "+v.Identifier))
		}
		r.Println()
		r.Success(fmt.Sprintf("Compiled %d views to %s", len(res.Views), dir))
	}
	return nil
}

func relTo(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// runCompileWatch compiles once, then again after every change to a SQL file
// under the views directory, until ctx is done.
func runCompileWatch(ctx context.Context, cc *CommandContext, args []string, opts *CompileOptions) error {
	r := cc.Renderer
	compileOnce := func() {
		if err := runCompile(cc, args, opts); err != nil {
			r.Error(err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := cc.Cfg.ValidateDirectories(); err != nil {
		return err
	}
	if err := watchDirRecursive(watcher, cc.Cfg.SQL.ViewsDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cc.Cfg.SQL.ViewsDir, err)
	}

	compileOnce()
	r.Muted(fmt.Sprintf("Watching %s for changes (Ctrl+C to stop)", cc.Cfg.SQL.ViewsDir))

	changed := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchDirRecursive(watcher, event.Name)
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), project.Ext) {
				continue
			}

			cc.Logger.Debug("file changed", "file", event.Name, "op", event.Op.String())
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})

		case <-changed:
			r.Println()
			r.Muted(time.Now().Format("15:04:05") + " change detected, recompiling")
			compileOnce()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cc.Logger.Error("watcher error", "error", err)
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
