package agent

import (
	"fmt"
	"strings"

	"github.com/fixsmith/fixsmith/internal/ai"
	"github.com/fixsmith/fixsmith/internal/lint"
	"github.com/fixsmith/fixsmith/internal/pytest"
)

// Prompt size ceilings keep pathological inputs from blowing up API costs.
const (
	maxPromptFileBytes   = 60000
	maxPromptOutputBytes = 8000
)

func buildAuditorPrompt(relPath, content string, report *lint.Report) string {
	var b strings.Builder
	b.WriteString(`You are a senior code auditor. Analyze the Python file below and produce a prioritized refactoring plan that will raise its quality and keep its tests passing.

`)
	fmt.Fprintf(&b, "FILE PATH: %s\n\nFILE CONTENT:\n```python\n%s\n```\n", relPath, ai.Truncate(content, maxPromptFileBytes))

	if report != nil {
		score := "N/A"
		if report.Score != nil {
			score = fmt.Sprintf("%.2f", *report.Score)
		}
		fmt.Fprintf(&b, "\nSTATIC ANALYSIS:\n- Score: %s/10\n- Errors: %d\n- Warnings: %d\n- Conventions: %d\n- Refactor suggestions: %d\n",
			score,
			len(report.ByCategory[lint.SeverityError]),
			len(report.ByCategory[lint.SeverityWarning]),
			len(report.ByCategory[lint.SeverityConvention]),
			len(report.ByCategory[lint.SeverityRefactor]))
		if len(report.Issues) > 0 {
			b.WriteString("\nTOP ISSUES:\n")
			for i, issue := range report.Issues {
				if i >= 5 {
					break
				}
				fmt.Fprintf(&b, "%d. Line %d [%s]: %s\n", i+1, issue.Line, issue.Type, issue.Message)
			}
		}
	}

	b.WriteString(`
Respond with a JSON object of this exact shape:
{
  "file": "<relative path>",
  "summary": "<one paragraph assessment>",
  "total_issues": <int>,
  "refactoring_plan": [
    {"step": "<instruction>", "rationale": "<why>", "priority": "critical|high|medium|low"}
  ]
}

Order the plan by priority, most important first. Do not propose changes that would alter the file's public behavior.

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences.`)
	return b.String()
}

func buildFixerPlanPrompt(relPath, content string, plan []PlanStep) string {
	var b strings.Builder
	b.WriteString(`You are a careful Python refactoring engineer. Apply the refactoring plan below to the file and return the complete corrected file.

`)
	fmt.Fprintf(&b, "FILE PATH: %s\n\nCURRENT CONTENT:\n```python\n%s\n```\n\nREFACTORING PLAN:\n", relPath, ai.Truncate(content, maxPromptFileBytes))
	for i, step := range plan {
		fmt.Fprintf(&b, "%d. [%s] %s\n   Rationale: %s\n", i+1, step.Priority, step.Step, step.Rationale)
	}
	b.WriteString(fixerOutputContract)
	return b.String()
}

func buildFixerRepairPrompt(relPath, content, testOutput string, stats pytest.Stats) string {
	var b strings.Builder
	b.WriteString(`You are a careful Python engineer. The previous change to this file broke validation. Repair the file so its tests pass, and return the complete corrected file.

`)
	fmt.Fprintf(&b, "FILE PATH: %s\n\nCURRENT CONTENT:\n```python\n%s\n```\n", relPath, ai.Truncate(content, maxPromptFileBytes))
	fmt.Fprintf(&b, "\nTEST RESULTS: %d passed, %d failed, %d errors\n\nFAILURE OUTPUT (may be truncated):\n%s\n",
		stats.Passed, stats.Failed, stats.Errored, ai.Truncate(testOutput, maxPromptOutputBytes))
	b.WriteString(fixerOutputContract)
	return b.String()
}

const fixerOutputContract = `
RULES:
1. Return the ENTIRE file, not a fragment or a diff.
2. Preserve the file's public interface: function and class names, signatures, and observable behavior the tests rely on.
3. Do not invent new dependencies.

IMPORTANT: Respond with ONLY the Python source code. No explanations, no markdown code fences.`

func buildJudgePrompt(testOutput string, stats pytest.Stats, initialScore, currentScore *float64) string {
	var b strings.Builder
	b.WriteString(`You are the final judge of a code-repair iteration. Decide whether the change is acceptable based on the test run and the quality scores.

`)
	fmt.Fprintf(&b, "TEST STATISTICS: %d passed, %d failed, %d errors, %d skipped\n", stats.Passed, stats.Failed, stats.Errored, stats.Skipped)
	fmt.Fprintf(&b, "\nTEST OUTPUT (may be truncated):\n%s\n", ai.Truncate(testOutput, maxPromptOutputBytes))

	fmt.Fprintf(&b, "\nQUALITY SCORES: initial=%s current=%s\n", formatScore(initialScore), formatScore(currentScore))

	b.WriteString(`
Respond with a JSON object of this exact shape:
{
  "tests_passed": <true only if every test passed>,
  "errors": ["<each distinct failure, one line each>"],
  "reasoning": "<one sentence>"
}

RULES:
1. tests_passed must be false if any test failed or errored.
2. A quality-score regression alone does not fail the verdict; failing tests do.

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences.`)
	return b.String()
}

func formatScore(score *float64) string {
	if score == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f/10", *score)
}
