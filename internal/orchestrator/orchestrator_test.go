package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixsmith/fixsmith/internal/agent"
	"github.com/fixsmith/fixsmith/internal/lint"
	"github.com/fixsmith/fixsmith/internal/pytest"
	"github.com/fixsmith/fixsmith/internal/sandbox"
	"github.com/fixsmith/fixsmith/internal/syntax"
)

// Scripted collaborators. Each consumes its script in call order and counts
// calls so tests can assert on phase ordering.

type fakeAnalyzer struct {
	reports map[string]*lint.Report
	dir     *lint.DirReport
	calls   int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, path string) (*lint.Report, error) {
	f.calls++
	if rep, ok := f.reports[path]; ok {
		return rep, nil
	}
	return &lint.Report{Path: path}, nil
}

func (f *fakeAnalyzer) AnalyzeDir(_ context.Context, _ string) (*lint.DirReport, error) {
	if f.dir != nil {
		return f.dir, nil
	}
	return &lint.DirReport{}, nil
}

type fakeTests struct {
	script []*pytest.Result
	calls  int
}

func (f *fakeTests) Run(_ context.Context, _ string) (*pytest.Result, error) {
	f.calls++
	if len(f.script) == 0 {
		return &pytest.Result{Passed: true, Output: "0 passed"}, nil
	}
	res := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return res, nil
}

type fakeSyntax struct {
	script []*syntax.Result
	calls  int
}

func (f *fakeSyntax) Check(_ context.Context, _ string) (*syntax.Result, error) {
	f.calls++
	if len(f.script) == 0 {
		return &syntax.Result{Valid: true}, nil
	}
	res := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return res, nil
}

type fakeAuditor struct {
	analyses map[string]*agent.Analysis
	errPaths map[string]bool
}

func (f *fakeAuditor) AnalyzeWithFallback(_ context.Context, relPath, _ string, _ *lint.Report) (*agent.Analysis, bool, error) {
	if f.errPaths[relPath] {
		return nil, true, errors.New("no usable plan")
	}
	if a, ok := f.analyses[relPath]; ok {
		return a, false, nil
	}
	return &agent.Analysis{File: relPath, Plan: []agent.PlanStep{{Step: "tidy up", Priority: "low"}}}, false, nil
}

type fakeFixer struct {
	planCalls   int
	repairCalls int
	output      string
	err         error
	failures    []agent.FailureContext
}

func (f *fakeFixer) ApplyPlan(_ context.Context, _, _ string, _ []agent.PlanStep) (string, error) {
	f.planCalls++
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func (f *fakeFixer) RepairFailure(_ context.Context, _, _ string, failure agent.FailureContext) (string, error) {
	f.repairCalls++
	f.failures = append(f.failures, failure)
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

type fakeJudge struct {
	script []func() (*agent.Verdict, error)
	calls  int
}

func (f *fakeJudge) Evaluate(_ context.Context, _ string, _ pytest.Stats, _, _ *float64) (*agent.Verdict, error) {
	f.calls++
	if len(f.script) == 0 {
		return &agent.Verdict{TestsPassed: false}, nil
	}
	fn := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return fn()
}

func passVerdict() (*agent.Verdict, error) { return &agent.Verdict{TestsPassed: true}, nil }
func failVerdict() (*agent.Verdict, error) { return &agent.Verdict{TestsPassed: false}, nil }

func newStore(t *testing.T, files map[string]string) *sandbox.Store {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	store, err := sandbox.New(root)
	require.NoError(t, err)
	return store
}

func defaultOpts() Options {
	return Options{MaxIterations: 10, ScoreThreshold: 8.0, IssueThreshold: 5}
}

func floatPtr(v float64) *float64 { return &v }

func TestDiscoverSelectsBelowThreshold(t *testing.T) {
	store := newStore(t, map[string]string{
		"calc.py":            "def add(a, b): return a + b\n",
		"clean.py":           "x = 1\n",
		"tests/test_calc.py": "def test_add(): pass\n",
		"test_helpers.py":    "def test_x(): pass\n",
	})
	analyzer := &fakeAnalyzer{reports: map[string]*lint.Report{
		"calc.py":  {Path: "calc.py", Score: floatPtr(4.5)},
		"clean.py": {Path: "clean.py", Score: floatPtr(9.5)},
	}}
	orc, err := New(store, analyzer, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{}, &fakeJudge{}, nil, defaultOpts())
	require.NoError(t, err)

	candidates, considered, err := orc.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, considered, "test files are never considered")
	require.Len(t, candidates, 1)
	assert.Equal(t, "calc.py", candidates[0].Path)
	require.NotNil(t, candidates[0].Analysis)
}

func TestDiscoverIssueCountSelectsWithoutScore(t *testing.T) {
	issues := make([]lint.Issue, 6)
	store := newStore(t, map[string]string{"noisy.py": "pass\n"})
	analyzer := &fakeAnalyzer{reports: map[string]*lint.Report{
		// No score at all: only the issue count can select it.
		"noisy.py": {Path: "noisy.py", Issues: issues},
	}}
	orc, err := New(store, analyzer, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{}, &fakeJudge{}, nil, defaultOpts())
	require.NoError(t, err)

	candidates, _, err := orc.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "noisy.py", candidates[0].Path)
}

func TestDiscoverDropsFileWithoutUsablePlan(t *testing.T) {
	store := newStore(t, map[string]string{"calc.py": "pass\n"})
	analyzer := &fakeAnalyzer{reports: map[string]*lint.Report{
		"calc.py": {Path: "calc.py", Score: floatPtr(2.0)},
	}}
	auditor := &fakeAuditor{errPaths: map[string]bool{"calc.py": true}}
	orc, err := New(store, analyzer, &fakeTests{}, &fakeSyntax{}, auditor, &fakeFixer{}, &fakeJudge{}, nil, defaultOpts())
	require.NoError(t, err)

	candidates, considered, err := orc.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, considered)
	assert.Empty(t, candidates)
}

func TestRepairFileSucceedsFirstIteration(t *testing.T) {
	store := newStore(t, map[string]string{"calc.py": "def add(a,b): return a+b\n"})
	fixer := &fakeFixer{output: "def add(a, b):\n    return a + b\n"}
	judge := &fakeJudge{script: []func() (*agent.Verdict, error){passVerdict}}
	analyzer := &fakeAnalyzer{reports: map[string]*lint.Report{
		"calc.py": {Path: "calc.py", Score: floatPtr(9.0)},
	}}
	orc, err := New(store, analyzer, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, fixer, judge, nil, defaultOpts())
	require.NoError(t, err)

	cand := Candidate{
		Path:     "calc.py",
		Report:   &lint.Report{Score: floatPtr(4.0)},
		Analysis: &agent.Analysis{Plan: []agent.PlanStep{{Step: "format"}}},
	}
	result := orc.RepairFile(context.Background(), cand)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, fixer.planCalls)
	assert.Equal(t, 0, fixer.repairCalls)
	require.NotNil(t, result.FinalScore)
	assert.Equal(t, 9.0, *result.FinalScore)

	// The rewrite landed on disk and the original was backed up.
	content, err := store.Read("calc.py")
	require.NoError(t, err)
	assert.Equal(t, fixer.output, content)
	entries, err := os.ReadDir(store.BackupDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRepairFileSyntaxGateSkipsTests(t *testing.T) {
	store := newStore(t, map[string]string{"calc.py": "pass\n"})
	fixer := &fakeFixer{output: "whatever\n"}
	tests := &fakeTests{}
	syntaxFake := &fakeSyntax{script: []*syntax.Result{
		{Valid: false, Line: 4, Column: 2, Message: "invalid syntax"},
		{Valid: true},
	}}
	judge := &fakeJudge{script: []func() (*agent.Verdict, error){passVerdict}}
	orc, err := New(store, &fakeAnalyzer{}, tests, syntaxFake, &fakeAuditor{}, fixer, judge, nil, defaultOpts())
	require.NoError(t, err)

	cand := Candidate{Path: "calc.py", Analysis: &agent.Analysis{}}
	result := orc.RepairFile(context.Background(), cand)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.Iterations)

	// The first iteration never reached the test suite.
	assert.Equal(t, 1, tests.calls)
	assert.Equal(t, 1, judge.calls)

	// The second iteration repaired from a synthesized failure describing
	// the parse error.
	require.Len(t, fixer.failures, 1)
	assert.Contains(t, fixer.failures[0].Output, "syntax error at line 4")
	assert.Equal(t, pytest.Stats{Failed: 1, Total: 1}, fixer.failures[0].Stats)
}

func TestRepairFileExhaustsIterationBudget(t *testing.T) {
	store := newStore(t, map[string]string{"calc.py": "pass\n"})
	fixer := &fakeFixer{output: "still broken\n"}
	tests := &fakeTests{script: []*pytest.Result{
		{Passed: false, Stats: pytest.Stats{Failed: 1, Total: 1}, Output: "1 failed"},
	}}
	judge := &fakeJudge{script: []func() (*agent.Verdict, error){failVerdict}}
	opts := defaultOpts()
	opts.MaxIterations = 3
	orc, err := New(store, &fakeAnalyzer{}, tests, &fakeSyntax{}, &fakeAuditor{}, fixer, judge, nil, opts)
	require.NoError(t, err)

	cand := Candidate{Path: "calc.py", Analysis: &agent.Analysis{}}
	result := orc.RepairFile(context.Background(), cand)
	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 1, fixer.planCalls)
	assert.Equal(t, 2, fixer.repairCalls)
	assert.Equal(t, 3, judge.calls)
}

func TestRepairFileJudgeErrorNeverMeansSuccess(t *testing.T) {
	store := newStore(t, map[string]string{"calc.py": "pass\n"})
	judge := &fakeJudge{script: []func() (*agent.Verdict, error){
		func() (*agent.Verdict, error) { return nil, errors.New("unparseable response") },
		passVerdict,
	}}
	orc, err := New(store, &fakeAnalyzer{}, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{output: "x = 1\n"}, judge, nil, defaultOpts())
	require.NoError(t, err)

	cand := Candidate{Path: "calc.py", Analysis: &agent.Analysis{}}
	result := orc.RepairFile(context.Background(), cand)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.Iterations, "the unparseable verdict forced a second iteration")
}

func TestRepairFileFixerErrorIsTerminal(t *testing.T) {
	store := newStore(t, map[string]string{"calc.py": "pass\n"})
	fixer := &fakeFixer{err: errors.New("model unavailable")}
	orc, err := New(store, &fakeAnalyzer{}, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, fixer, &fakeJudge{}, nil, defaultOpts())
	require.NoError(t, err)

	cand := Candidate{Path: "calc.py", Analysis: &agent.Analysis{}}
	result := orc.RepairFile(context.Background(), cand)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 1, result.Iterations)
	require.Error(t, result.Err)
}

func TestRunEndToEnd(t *testing.T) {
	store := newStore(t, map[string]string{
		"calc.py":            "def add(a,b): return a+b\n",
		"tests/test_calc.py": "def test_add(): pass\n",
	})
	analyzer := &fakeAnalyzer{
		reports: map[string]*lint.Report{
			"calc.py": {Path: "calc.py", Score: floatPtr(5.0)},
		},
		dir: &lint.DirReport{AverageScore: 9.1, ScoredFiles: 1},
	}
	tests := &fakeTests{script: []*pytest.Result{
		{Passed: true, Stats: pytest.Stats{Passed: 1, Total: 1}, Output: "1 passed"},
	}}
	judge := &fakeJudge{script: []func() (*agent.Verdict, error){passVerdict}}
	orc, err := New(store, analyzer, tests, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{output: "def add(a, b):\n    return a + b\n"}, judge, nil, defaultOpts())
	require.NoError(t, err)

	report, err := orc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesDiscovered)
	assert.Equal(t, 1, report.FilesSelected)
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, 1, report.TotalIterations)
	require.NotNil(t, report.FinalTests)
	assert.True(t, report.FinalTests.Passed)
	require.NotNil(t, report.FinalLint)
	assert.Equal(t, 9.1, report.FinalLint.AverageScore)
}

func TestRunExhaustedFileCountsAllIterations(t *testing.T) {
	store := newStore(t, map[string]string{"calc.py": "pass\n"})
	analyzer := &fakeAnalyzer{reports: map[string]*lint.Report{
		"calc.py": {Path: "calc.py", Score: floatPtr(3.0)},
	}}
	tests := &fakeTests{script: []*pytest.Result{
		{Passed: false, Stats: pytest.Stats{Failed: 1, Total: 1}, Output: "1 failed"},
	}}
	opts := defaultOpts()
	opts.MaxIterations = 4
	orc, err := New(store, analyzer, tests, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{output: "pass\n"}, &fakeJudge{}, nil, opts)
	require.NoError(t, err)

	report, err := orc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	assert.Equal(t, OutcomeExhausted, report.Files[0].Outcome)
	assert.Equal(t, 4, report.TotalIterations)
}

func TestNewValidatesArguments(t *testing.T) {
	store := newStore(t, nil)

	_, err := New(nil, &fakeAnalyzer{}, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{}, &fakeJudge{}, nil, defaultOpts())
	assert.Error(t, err)

	_, err = New(store, nil, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{}, &fakeJudge{}, nil, defaultOpts())
	assert.Error(t, err)

	opts := defaultOpts()
	opts.MaxIterations = 0
	_, err = New(store, &fakeAnalyzer{}, &fakeTests{}, &fakeSyntax{}, &fakeAuditor{}, &fakeFixer{}, &fakeJudge{}, nil, opts)
	assert.Error(t, err)
}

func TestIsTestPath(t *testing.T) {
	cases := map[string]bool{
		"tests/test_calc.py":   true,
		"pkg/tests/helpers.py": true,
		"test_main.py":         true,
		"pkg/test_api.py":      true,
		"calc_test.py":         true,
		"calc.py":              false,
		"pkg/contest.py":       false,
		"latest_report.py":     false,
	}
	for path, want := range cases {
		assert.Equal(t, want, isTestPath(path), path)
	}
}
