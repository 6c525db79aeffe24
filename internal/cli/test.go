package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to <scenarios-dir>/../golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scripted scenarios against an in-memory server",
		Long: `Run scenario files through the engine and an in-memory server,
checking each scenario's expectations and comparing its trace with the
golden file <golden-dir>/<name>.golden when one exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tasksync test ./testdata/scenarios
  tasksync test ./testdata/scenarios --filter "rejected_*"
  tasksync test ./testdata/scenarios --update
  tasksync test ./testdata/scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default <scenarios-dir>/../golden)")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, scenariosDir string) error {
	out := newFormatter(cmd, opts.RootOptions)
	if _, err := os.Stat(scenariosDir); err != nil {
		return out.Fail(ExitCommandError, CodeCommand, fmt.Errorf("scenarios directory not found: %s", scenariosDir))
	}
	if _, err := filepath.Match(opts.Filter, ""); err != nil {
		return out.Fail(ExitCommandError, CodeCommand, fmt.Errorf("invalid filter pattern: %w", err))
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(scenariosDir)), "golden")
	}

	paths, err := harness.FindScenarios(scenariosDir)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, path := range paths {
		if opts.Filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if ok, _ := filepath.Match(opts.Filter, name); !ok {
				continue
			}
		}
		res := runScenario(cmd.Context(), path, goldenDir, opts.Update)
		result.Scenarios = append(result.Scenarios, res)
		result.Total++
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if !out.JSON() {
			writeScenarioResult(out, res)
		}
	}

	if out.JSON() {
		return outputTestJSON(out, result)
	}
	return outputTestText(out, result)
}

// runScenario loads and runs one scenario file and checks its golden trace.
func runScenario(ctx context.Context, path, goldenDir string, update bool) ScenarioResult {
	if ctx == nil {
		ctx = context.Background()
	}
	res := ScenarioResult{Name: filepath.Base(path), File: path}
	fail := func(format string, args ...any) ScenarioResult {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
		return res
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return fail("load: %v", err)
	}
	res.Name = scenario.Name

	run, err := harness.Run(ctx, scenario)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	if !run.Pass {
		res.Errors = append(res.Errors, run.Errors...)
		return res
	}

	trace, err := harness.MarshalTrace(run.Trace)
	if err != nil {
		return fail("marshal trace: %v", err)
	}
	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")

	if update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			return fail("create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, trace, 0o644); err != nil {
			return fail("write golden file: %v", err)
		}
		res.Pass, res.Golden = true, "updated"
		return res
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		res.Pass, res.Golden = true, "missing"
		return res
	case err != nil:
		return fail("read golden file: %v", err)
	}
	if !bytes.Equal(want, trace) {
		return fail("trace does not match %s (run with --update to regenerate)", goldenPath)
	}
	res.Pass, res.Golden = true, "match"
	return res
}

func writeScenarioResult(out *OutputFormatter, res ScenarioResult) {
	if !res.Pass {
		fmt.Fprintf(out.Writer, "✗ %s\n", res.Name)
		for _, e := range res.Errors {
			for line := range strings.SplitSeq(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(out.Writer, "  %s\n", line)
			}
		}
		return
	}
	switch res.Golden {
	case "updated":
		fmt.Fprintf(out.Writer, "✓ %s (golden updated)\n", res.Name)
	case "missing":
		fmt.Fprintf(out.Writer, "✓ %s (no golden file)\n", res.Name)
	default:
		fmt.Fprintf(out.Writer, "✓ %s\n", res.Name)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(out *OutputFormatter, result TestResult) error {
	if result.Failed == 0 {
		return out.Success(result)
	}
	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if err := out.encode(Response{
		Status: "error",
		Data:   result,
		Error:  &ResponseError{Code: CodeTestFailed, Message: msg},
	}); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// outputTestText outputs the test summary as text.
func outputTestText(out *OutputFormatter, result TestResult) error {
	if result.Total == 0 {
		fmt.Fprintln(out.Writer, "No scenarios found.")
		return nil
	}

	fmt.Fprintln(out.Writer)
	fmt.Fprintf(out.Writer, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(out.Writer, "✓ All scenarios passed")
	return nil
}
