// Package pytest invokes the external test runner against sandboxed code and
// parses the pass/fail summary from its output.
package pytest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/fixsmith/fixsmith/internal/sandbox"
)

// ErrTimedOut is returned when the test run exceeds its timeout.
var ErrTimedOut = errors.New("pytest execution timed out")

// ToolError indicates the test runner could not be launched at all. Test
// failures are never tool errors; they surface through Result.Passed.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s invocation failed: %v", e.Tool, e.Err) }
func (e *ToolError) Unwrap() error { return e.Err }

// Stats holds the counts extracted from the test summary. Total deliberately
// excludes skipped tests.
type Stats struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errors"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Result is the outcome of one test run. Passed derives purely from the
// process exit status; Stats is best-effort parsing of the summary line.
type Result struct {
	Passed   bool
	Stats    Stats
	Output   string // combined stdout and stderr
	ExitCode int
}

// Runner invokes pytest with the working directory fixed to the sandbox
// root so relative imports inside the code under test resolve.
type Runner struct {
	store      *sandbox.Store
	executable string
	timeout    time.Duration
	verbose    bool
}

// NewRunner creates a pytest runner. The executable defaults to "pytest"
// and the timeout to 60s when unset.
func NewRunner(store *sandbox.Store, executable string, timeout time.Duration) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("sandbox store is required")
	}
	if executable == "" {
		executable = "pytest"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{store: store, executable: executable, timeout: timeout, verbose: true}, nil
}

// Run executes the test suite for target ("" for the whole sandbox).
func (r *Runner) Run(ctx context.Context, target string) (*Result, error) {
	resolved := r.store.Root()
	if target != "" {
		var err error
		resolved, err = r.store.Resolve(target)
		if err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{resolved}
	if r.verbose {
		args = append(args, "-v")
	}
	cmd := exec.CommandContext(runCtx, r.executable, args...)
	cmd.Dir = r.store.Root()

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s", ErrTimedOut, resolved)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &ToolError{Tool: r.executable, Err: runErr}
		}
		exitCode = exitErr.ExitCode()
	}

	output := combined.String()
	return &Result{
		Passed:   exitCode == 0,
		Stats:    ParseStats(output),
		Output:   output,
		ExitCode: exitCode,
	}, nil
}
