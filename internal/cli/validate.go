package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stagecheck/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	Stages []string                 `json:"stages,omitempty"`
	Errors []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the suite definition",
		Long: `Load the suite given by --config (or the default suite) and report
every problem found in it without running anything.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	suite, err := loadSuite(opts)
	var verrs config.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return outputValidationErrors(formatter, verrs)
	case err != nil:
		return formatter.fail(ExitCommandError, ErrCodeConfig, "load suite", err)
	}

	if formatter.json() {
		return formatter.Success(ValidationResult{Valid: true, Stages: suite.Names()})
	}
	fmt.Fprintf(formatter.Writer, "✓ Suite valid (%d stages)\n", len(suite.Stages))
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs config.ValidationErrors) error {
	msg := fmt.Sprintf("validation failed with %d error(s)", len(errs))

	if formatter.json() {
		if err := formatter.Failure(errs[0].Code, errs[0].Message, ValidationResult{Errors: errs}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", e.Code, e.Field, e.Message)
	}
	return NewExitError(ExitFailure, msg)
}
