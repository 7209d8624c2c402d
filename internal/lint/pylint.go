// Package lint invokes pylint on sandboxed files and parses its output into
// structured reports.
package lint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/fixsmith/fixsmith/internal/sandbox"
)

// Severity is one of pylint's four fixed issue categories.
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeverityConvention Severity = "convention"
	SeverityRefactor   Severity = "refactor"
)

// Severities lists the closed set of categories in display order.
var Severities = []Severity{SeverityError, SeverityWarning, SeverityConvention, SeverityRefactor}

// ErrTimedOut is returned when the linter exceeds its timeout.
var ErrTimedOut = errors.New("pylint execution timed out")

// ToolError indicates the linter could not be invoked at all (missing
// executable, unexpected launch failure). Ordinary non-zero exits are not
// tool errors: pylint exits non-zero whenever it finds issues.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s invocation failed: %v", e.Tool, e.Err) }
func (e *ToolError) Unwrap() error { return e.Err }

// Issue is one finding from pylint's JSON output.
type Issue struct {
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Type     Severity `json:"type"`
	Symbol   string   `json:"symbol"`
	Message  string   `json:"message"`
	Path     string   `json:"path"`
	Module   string   `json:"module"`
	MessageID string  `json:"message-id"`
}

// Report is the analysis result for a single file. Score is nil when pylint
// did not emit a score line; that is not an error.
type Report struct {
	Path       string
	Score      *float64
	Issues     []Issue
	ByCategory map[Severity][]Issue
}

// TotalIssues returns the number of findings across all categories.
func (r *Report) TotalIssues() int { return len(r.Issues) }

// DirReport aggregates per-file reports. AverageScore is the arithmetic mean
// over files that produced a score; when no file scored, it is 0 by
// convention (ScoredFiles distinguishes "no data" from a real 0/10).
type DirReport struct {
	Reports      []*Report
	AverageScore float64
	ScoredFiles  int
}

// Runner invokes pylint through the sandboxed file store.
type Runner struct {
	store      *sandbox.Store
	executable string
	timeout    time.Duration
}

// NewRunner creates a pylint runner. The executable defaults to "pylint"
// and the timeout to 30s when unset.
func NewRunner(store *sandbox.Store, executable string, timeout time.Duration) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("sandbox store is required")
	}
	if executable == "" {
		executable = "pylint"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{store: store, executable: executable, timeout: timeout}, nil
}

// Analyze runs pylint on a single file and parses the structured issue list
// plus the human-readable score line.
func (r *Runner) Analyze(ctx context.Context, path string) (*Report, error) {
	resolved, err := r.store.Resolve(path)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.executable, resolved, "--output-format=json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s", ErrTimedOut, path)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Launch failure (e.g. executable not found), not a lint verdict.
			return nil, &ToolError{Tool: r.executable, Err: runErr}
		}
	}

	report := &Report{
		Path:       resolved,
		Issues:     ParseIssues(stdout.Bytes()),
		ByCategory: make(map[Severity][]Issue),
	}
	for _, sev := range Severities {
		report.ByCategory[sev] = nil
	}
	for _, issue := range report.Issues {
		report.ByCategory[issue.Type] = append(report.ByCategory[issue.Type], issue)
	}

	// Pylint prints the score line to text output; scan both streams so the
	// extraction survives output-routing differences between versions.
	report.Score = ParseScore(stderr.String())
	if report.Score == nil {
		report.Score = ParseScore(stdout.String())
	}
	return report, nil
}

// AnalyzeDir runs pylint on every qualifying file under dir ("" for the
// sandbox root) and averages the scores of files that produced one.
func (r *Runner) AnalyzeDir(ctx context.Context, dir string) (*DirReport, error) {
	files, err := r.store.Enumerate(dir, ".py")
	if err != nil {
		return nil, err
	}

	dirReport := &DirReport{}
	for _, file := range files {
		report, err := r.Analyze(ctx, file.Path)
		if err != nil {
			// A single broken file must not sink the aggregate pass.
			continue
		}
		dirReport.Reports = append(dirReport.Reports, report)
	}
	dirReport.AverageScore, dirReport.ScoredFiles = averageScore(dirReport.Reports)
	return dirReport, nil
}

// averageScore computes the mean over reports carrying a score. The
// zero-scored-files mean of 0 is a division guard, not a real 0/10 rating.
func averageScore(reports []*Report) (float64, int) {
	total := 0.0
	count := 0
	for _, report := range reports {
		if report.Score != nil {
			total += *report.Score
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return total / float64(count), count
}
