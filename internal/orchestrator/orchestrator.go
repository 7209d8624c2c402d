// Package orchestrator drives the repair pipeline: discover files that need
// work, run a bounded fix loop per file, then validate the whole tree.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fixsmith/fixsmith/internal/agent"
	"github.com/fixsmith/fixsmith/internal/audit"
	"github.com/fixsmith/fixsmith/internal/lint"
	"github.com/fixsmith/fixsmith/internal/pytest"
	"github.com/fixsmith/fixsmith/internal/sandbox"
	"github.com/fixsmith/fixsmith/internal/syntax"
)

// Outcome classifies how the repair loop ended for one file.
type Outcome string

const (
	// OutcomeSuccess means the judge accepted an iteration.
	OutcomeSuccess Outcome = "success"
	// OutcomeExhausted means the iteration budget ran out without a
	// passing verdict.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeFailed means a terminal error stopped the loop early.
	OutcomeFailed Outcome = "failed"
)

// Candidate is a file selected for repair, with the lint report that
// flagged it and the plan to apply.
type Candidate struct {
	Path         string
	Report       *lint.Report
	Analysis     *agent.Analysis
	UsedFallback bool
}

// FileResult records the outcome of one file's repair loop.
type FileResult struct {
	Path         string
	Outcome      Outcome
	Iterations   int
	InitialScore *float64
	FinalScore   *float64
	Err          error
}

// RunReport summarizes an entire run.
type RunReport struct {
	Files           []FileResult
	FilesDiscovered int
	FilesSelected   int
	TotalIterations int
	FinalTests      *pytest.Result
	FinalLint       *lint.DirReport
}

// Succeeded counts files whose loop ended in success.
func (r *RunReport) Succeeded() int {
	n := 0
	for _, f := range r.Files {
		if f.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

// The orchestrator depends on behavior, not concrete agents, so tests can
// substitute scripted implementations.

type codeAnalyzer interface {
	Analyze(ctx context.Context, path string) (*lint.Report, error)
	AnalyzeDir(ctx context.Context, dir string) (*lint.DirReport, error)
}

type testRunner interface {
	Run(ctx context.Context, target string) (*pytest.Result, error)
}

type syntaxChecker interface {
	Check(ctx context.Context, path string) (*syntax.Result, error)
}

type auditorAgent interface {
	AnalyzeWithFallback(ctx context.Context, relPath, content string, report *lint.Report) (*agent.Analysis, bool, error)
}

type fixerAgent interface {
	ApplyPlan(ctx context.Context, relPath, content string, plan []agent.PlanStep) (string, error)
	RepairFailure(ctx context.Context, relPath, content string, failure agent.FailureContext) (string, error)
}

type judgeAgent interface {
	Evaluate(ctx context.Context, testOutput string, stats pytest.Stats, initialScore, currentScore *float64) (*agent.Verdict, error)
}

// Options carries the loop bounds and selection thresholds.
type Options struct {
	// MaxIterations bounds the per-file repair loop. Must be positive.
	MaxIterations int
	// ScoreThreshold selects files scoring strictly below it.
	ScoreThreshold float64
	// IssueThreshold selects files with strictly more findings than it.
	IssueThreshold int
}

// Orchestrator wires the sandbox, the static tools, and the three agent
// roles into the three-phase pipeline.
type Orchestrator struct {
	store   *sandbox.Store
	lint    codeAnalyzer
	tests   testRunner
	syntax  syntaxChecker
	auditor auditorAgent
	fixer   fixerAgent
	judge   judgeAgent
	trail   audit.Recorder
	opts    Options
}

// New builds an orchestrator. All collaborators are required except the
// audit recorder, which defaults to a no-op.
func New(store *sandbox.Store, lintRunner codeAnalyzer, tests testRunner, syntaxTool syntaxChecker, auditor auditorAgent, fixer fixerAgent, judge judgeAgent, trail audit.Recorder, opts Options) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("sandbox store is required")
	}
	if lintRunner == nil || tests == nil || syntaxTool == nil {
		return nil, fmt.Errorf("lint, test, and syntax tools are required")
	}
	if auditor == nil || fixer == nil || judge == nil {
		return nil, fmt.Errorf("auditor, fixer, and judge are required")
	}
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", opts.MaxIterations)
	}
	if trail == nil {
		trail = audit.NopRecorder{}
	}
	return &Orchestrator{
		store:   store,
		lint:    lintRunner,
		tests:   tests,
		syntax:  syntaxTool,
		auditor: auditor,
		fixer:   fixer,
		judge:   judge,
		trail:   trail,
		opts:    opts,
	}, nil
}

// Run executes discovery, per-file repair, and final validation, and
// returns the run report. Per-file failures never abort the run; only a
// context cancellation or a discovery error does.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}

	candidates, discovered, err := o.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	report.FilesDiscovered = discovered
	report.FilesSelected = len(candidates)
	slog.Info("discovery complete", "discovered", discovered, "selected", len(candidates))

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := o.RepairFile(ctx, cand)
		report.Files = append(report.Files, result)
		report.TotalIterations += result.Iterations
		slog.Info("file repair finished",
			"file", cand.Path,
			"outcome", string(result.Outcome),
			"iterations", result.Iterations)
	}

	o.finalValidation(ctx, report)
	return report, nil
}

// Discover enumerates the sandbox, lints every production file, selects the
// ones below the quality bar, and attaches a refactoring plan to each. Files
// whose plan cannot be obtained even through the fallback are dropped. The
// second return value is the count of files considered.
func (o *Orchestrator) Discover(ctx context.Context) ([]Candidate, int, error) {
	records, err := o.store.Enumerate("", ".py")
	if err != nil {
		return nil, 0, err
	}

	var candidates []Candidate
	considered := 0
	for _, rec := range records {
		if isTestPath(rec.RelPath) {
			continue
		}
		considered++

		report, err := o.lint.Analyze(ctx, rec.RelPath)
		if err != nil {
			slog.Warn("lint failed, skipping file", "file", rec.RelPath, "error", err)
			continue
		}
		if !o.needsRepair(report) {
			continue
		}

		content, err := o.store.Read(rec.RelPath)
		if err != nil {
			slog.Warn("read failed, skipping file", "file", rec.RelPath, "error", err)
			continue
		}

		analysis, fellBack, err := o.auditor.AnalyzeWithFallback(ctx, rec.RelPath, content, report)
		if err != nil {
			slog.Warn("no usable plan, dropping file", "file", rec.RelPath, "error", err)
			continue
		}
		candidates = append(candidates, Candidate{
			Path:         rec.RelPath,
			Report:       report,
			Analysis:     analysis,
			UsedFallback: fellBack,
		})
	}
	return candidates, considered, nil
}

// needsRepair applies the selection thresholds. A file with no score (a
// lint crash or empty output) is treated as a clean 10 so only its issue
// count can select it.
func (o *Orchestrator) needsRepair(report *lint.Report) bool {
	score := 10.0
	if report.Score != nil {
		score = *report.Score
	}
	return score < o.opts.ScoreThreshold || report.TotalIssues() > o.opts.IssueThreshold
}

// RepairFile runs the bounded fix-validate loop for one candidate. Each
// iteration rewrites the file, gates on syntax, runs the suite, and asks
// the judge for a verdict. A fixer or write error is terminal.
func (o *Orchestrator) RepairFile(ctx context.Context, cand Candidate) FileResult {
	result := FileResult{
		Path:         cand.Path,
		Outcome:      OutcomeExhausted,
		InitialScore: scoreOf(cand.Report),
	}

	var failure *agent.FailureContext
	for iter := 1; iter <= o.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
			return result
		}
		result.Iterations = iter

		content, err := o.store.Read(cand.Path)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("failed to read %s: %w", cand.Path, err)
			return result
		}

		var fixed string
		if failure == nil {
			fixed, err = o.fixer.ApplyPlan(ctx, cand.Path, content, cand.Analysis.Plan)
		} else {
			fixed, err = o.fixer.RepairFailure(ctx, cand.Path, content, *failure)
		}
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
			return result
		}

		if _, err := o.store.Write(cand.Path, fixed, true); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("failed to write %s: %w", cand.Path, err)
			return result
		}

		// Syntax gate: a file that does not parse would poison the whole
		// suite, so skip tests and send the parse error straight back to
		// the fixer.
		synRes, err := o.syntax.Check(ctx, cand.Path)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("syntax check failed for %s: %w", cand.Path, err)
			return result
		}
		if !synRes.Valid {
			failure = &agent.FailureContext{
				Output: fmt.Sprintf("syntax error at line %d, column %d: %s", synRes.Line, synRes.Column, synRes.Message),
				Stats:  pytest.Stats{Failed: 1, Total: 1},
			}
			slog.Info("syntax gate rejected rewrite", "file", cand.Path, "iteration", iter, "line", synRes.Line)
			continue
		}

		testRes, err := o.tests.Run(ctx, "")
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("test run failed: %w", err)
			return result
		}

		current, lintErr := o.lint.Analyze(ctx, cand.Path)
		if lintErr != nil {
			slog.Warn("relint failed, judging without a current score", "file", cand.Path, "error", lintErr)
		}
		result.FinalScore = scoreOf(current)

		verdict, judgeErr := o.judge.Evaluate(ctx, testRes.Output, testRes.Stats, result.InitialScore, result.FinalScore)
		if !agent.ShouldContinue(verdict, judgeErr) {
			result.Outcome = OutcomeSuccess
			return result
		}
		failure = &agent.FailureContext{Output: testRes.Output, Stats: testRes.Stats}
	}
	return result
}

// finalValidation runs the suite and lints the whole tree one last time.
// The results are report-only: they go into the run report and the audit
// trail but never change per-file outcomes.
func (o *Orchestrator) finalValidation(ctx context.Context, report *RunReport) {
	detail := map[string]any{
		"files_selected":   report.FilesSelected,
		"files_succeeded":  report.Succeeded(),
		"total_iterations": report.TotalIterations,
	}

	testRes, err := o.tests.Run(ctx, "")
	if err != nil {
		slog.Warn("final test run failed", "error", err)
		detail["test_error"] = err.Error()
	} else {
		report.FinalTests = testRes
		detail["tests_passed"] = testRes.Stats.Passed
		detail["tests_failed"] = testRes.Stats.Failed
	}

	dirReport, err := o.lint.AnalyzeDir(ctx, "")
	if err != nil {
		slog.Warn("final lint sweep failed", "error", err)
		detail["lint_error"] = err.Error()
	} else {
		report.FinalLint = dirReport
		detail["average_score"] = dirReport.AverageScore
		detail["scored_files"] = dirReport.ScoredFiles
	}

	status := audit.StatusSuccess
	if report.FinalTests == nil || !report.FinalTests.Passed {
		status = audit.StatusPartial
	}
	o.trail.Record(ctx, audit.Event{
		Role:   "orchestrator",
		Action: audit.ActionDebug,
		Status: status,
		Detail: detail,
	})
}

// isTestPath reports whether a relative path belongs to the test suite.
// Test files are the oracle and must never be rewritten.
func isTestPath(relPath string) bool {
	slashed := strings.ReplaceAll(relPath, "\\", "/")
	if strings.HasPrefix(slashed, "tests/") || strings.Contains(slashed, "/tests/") {
		return true
	}
	base := slashed
	if i := strings.LastIndex(slashed, "/"); i >= 0 {
		base = slashed[i+1:]
	}
	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py")
}

func scoreOf(report *lint.Report) *float64 {
	if report == nil {
		return nil
	}
	return report.Score
}
