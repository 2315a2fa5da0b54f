package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/plan"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                   `json:"valid"`
	Plan   string                 `json:"plan,omitempty"`
	Errors []plan.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Check a plan without running it",
		Long: `Check a plan for structural problems without running it.

Reports empty and duplicate keys, unknown operations, missing start or end
steps, next keys that name no step, and an end step unreachable from start.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	p, err := plan.Load(path)
	if err != nil {
		code := ErrCodeLoadFailed
		if errors.Is(err, os.ErrNotExist) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), nil)
		// Load errors are command-level errors (exit code 2)
		return WrapExitError(ExitCommandError, code, err)
	}
	formatter.VerboseLog("Checking plan %q (%d step(s))", p.Name, len(p.Steps))

	problems := plan.Validate(p)
	if len(problems) > 0 {
		return outputValidationErrors(formatter, p.Name, problems)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Plan: p.Name})
	}
	fmt.Fprintf(formatter.Writer, "✓ Plan %q valid\n", p.Name)
	return nil
}

// outputValidationErrors outputs every validation problem.
func outputValidationErrors(formatter *OutputFormatter, name string, errs []plan.ValidationError) error {
	if formatter.Format == "json" {
		result := ValidationResult{Plan: name, Errors: errs}
		if err := formatter.Fail(errs[0].Code, errs[0].Message, result, nil); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, e := range errs {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
		}
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
