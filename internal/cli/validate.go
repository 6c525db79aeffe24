package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/harness"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Config *config.Config `json:"config,omitempty"`
	Files  int            `json:"files,omitempty"`
	Errors []string       `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml | scenarios-dir>",
		Short: "Validate a config file or a directory of scenarios",
		Long: `Validate without running anything.

A file is checked as a config file: YAML decoding with unknown keys
rejected, then the config schema. A directory is searched for scenario
files, each of which is parsed and checked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args[0])
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, path string) error {
	out := newFormatter(cmd, opts)

	info, err := os.Stat(path)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, fmt.Errorf("path not found: %s", path))
	}
	if info.IsDir() {
		return validateScenarios(out, path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return out.Fail(ExitCommandError, CodeCommand, err)
		}
		return outputValidationErrors(out, CodeInvalidConf, ValidationResult{Errors: splitLines(err.Error())})
	}
	out.VerboseLog("config %s: database %s, snapshot %s, locale %s", path, cfg.Database, cfg.Snapshot, cfg.Locale)

	if out.JSON() {
		return out.Success(ValidationResult{Valid: true, Config: &cfg})
	}
	fmt.Fprintf(out.Writer, "✓ %s is valid\n", path)
	return nil
}

func validateScenarios(out *OutputFormatter, dir string) error {
	paths, err := harness.FindScenarios(dir)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}
	res := ValidationResult{Files: len(paths)}
	for _, p := range paths {
		out.VerboseLog("Validating scenario: %s", p)
		if _, err := harness.LoadScenario(p); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p, err))
		}
	}
	if len(paths) == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("no scenario files found in %s", dir))
	}
	if len(res.Errors) > 0 {
		return outputValidationErrors(out, CodeInvalid, res)
	}

	res.Valid = true
	if out.JSON() {
		return out.Success(res)
	}
	fmt.Fprintf(out.Writer, "✓ All %d scenarios valid\n", res.Files)
	return nil
}

// outputValidationErrors reports every validation error and returns the
// failure exit error.
func outputValidationErrors(out *OutputFormatter, code string, res ValidationResult) error {
	msg := fmt.Sprintf("validation failed with %d error(s)", len(res.Errors))
	if out.JSON() {
		if err := out.encode(Response{
			Status: "error",
			Data:   res,
			Error:  &ResponseError{Code: code, Message: res.Errors[0]},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintln(out.Writer, "✗ Validation failed")
	fmt.Fprintln(out.Writer)
	for _, e := range res.Errors {
		fmt.Fprintf(out.Writer, "  %s\n", e)
	}
	return NewExitError(ExitFailure, msg)
}

func splitLines(s string) []string {
	var lines []string
	for line := range strings.SplitSeq(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
