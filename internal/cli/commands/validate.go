package commands

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/bqviews/internal/cli/output"
)

// ErrValidation is returned when the project has errors.
var ErrValidation = errors.New("validation failed")

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	var selectViews []string

	cmd := &cobra.Command{
		Use:   "validate [VIEW...]",
		Short: "Check views for syntax, cycle and reference errors",
		Long: `Compile the project without writing or deploying anything and report every
problem found: malformed ref() expressions, circular dependencies, duplicate
view names and references that resolve to nothing.

Exits non-zero when any problem is found.`,
		Example: `  # Validate the project
  bqviews validate

  # Validate and check references of one view
  bqviews validate user_summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			return runValidate(cc, append(args, selectViews...))
		},
	}

	cmd.Flags().StringSliceVarP(&selectViews, "select", "s", nil, "Comma-separated list of views to validate")

	return cmd
}

func runValidate(cc *CommandContext, args []string) error {
	r := cc.Renderer

	files, err := cc.scan()
	if err == nil {
		_, err = cc.compile(files, args, false, false)
	}
	views := len(files)
	problems := errorMessages(err)

	switch r.EffectiveMode() {
	case output.ModeJSON:
		if jerr := r.JSON(output.ValidateOutput{Valid: len(problems) == 0, Views: views, Errors: problems}); jerr != nil {
			return jerr
		}
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Validation"))
		r.Println()
		r.Println(output.FormatKeyValue("Views", fmt.Sprintf("%d", views)))
		r.Println(output.FormatKeyValue("Errors", fmt.Sprintf("%d", len(problems))))
		r.Println()
		for _, p := range problems {
			r.Println("- " + p)
		}
	default:
		styles := r.Styles()
		for _, p := range problems {
			r.Println(styles.Error.Render("✗") + " " + p)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %d error(s)", ErrValidation, len(problems))
	}
	if r.EffectiveMode() == output.ModeText {
		r.Success(fmt.Sprintf("%d views valid (%s)", views, cc.target()))
	}
	return nil
}

// errorMessages flattens err into its individual messages.
func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		msgs := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
