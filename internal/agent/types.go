// Package agent implements the three decision roles that drive the repair
// loop: the auditor plans, the fixer rewrites, the judge decides. Each role
// is a stateless prompt-format + model-call + response-parse function; the
// only side effects are the model call itself and one audit event per call.
package agent

import "github.com/fixsmith/fixsmith/internal/pytest"

// PlanStep is one prioritized instruction in a refactoring plan. Order is
// presentation priority, not an execution dependency.
type PlanStep struct {
	Step      string `json:"step"`
	Rationale string `json:"rationale"`
	Priority  string `json:"priority"`
}

// Analysis is the auditor's output for one file.
type Analysis struct {
	File        string     `json:"file"`
	Summary     string     `json:"summary"`
	Plan        []PlanStep `json:"refactoring_plan"`
	TotalIssues int        `json:"total_issues"`
}

// Verdict is the judge's conclusion about one iteration.
type Verdict struct {
	TestsPassed bool     `json:"tests_passed"`
	Errors      []string `json:"errors"`
	Reasoning   string   `json:"reasoning"`
}

// FailureContext carries the loop's most recent validation failure into the
// fixer's repair mode.
type FailureContext struct {
	Output string
	Stats  pytest.Stats
}

// ShouldContinue reports whether the repair loop needs another iteration.
// An evaluation that errored or failed to parse always continues: a parse
// failure must never be read as success.
func ShouldContinue(verdict *Verdict, err error) bool {
	if err != nil || verdict == nil {
		return true
	}
	return !verdict.TestsPassed
}
