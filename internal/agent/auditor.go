package agent

import (
	"context"
	"fmt"

	"github.com/fixsmith/fixsmith/internal/ai"
	"github.com/fixsmith/fixsmith/internal/audit"
	"github.com/fixsmith/fixsmith/internal/lint"
)

// fallbackIssueLimit bounds how many lint findings seed a synthesized plan.
const fallbackIssueLimit = 5

// Auditor produces a prioritized refactoring plan for a flagged file.
type Auditor struct {
	client *ai.Client
	trail  audit.Recorder
	model  string
}

// NewAuditor creates the auditor role. An empty model uses the client
// default.
func NewAuditor(client *ai.Client, trail audit.Recorder, model string) (*Auditor, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is required")
	}
	if trail == nil {
		trail = audit.NopRecorder{}
	}
	return &Auditor{client: client, trail: trail, model: model}, nil
}

// Analyze asks the model for a refactoring plan. A response that cannot be
// parsed as the expected JSON shape returns an error; callers wanting
// degraded-but-usable guidance should use AnalyzeWithFallback.
func (a *Auditor) Analyze(ctx context.Context, relPath, content string, report *lint.Report) (*Analysis, error) {
	prompt := buildAuditorPrompt(relPath, content, report)

	completion, err := a.client.Complete(ctx, "auditor-analysis", a.model, prompt, 0)
	if err != nil {
		a.record(ctx, audit.StatusFailure, map[string]any{
			"file_analyzed": relPath,
			"input_prompt":  prompt,
			"error":         err.Error(),
		})
		return nil, fmt.Errorf("auditor analysis failed: %w", err)
	}

	parsed := ai.ParseJSON[Analysis](completion.Text, "auditor analysis response")
	status := audit.StatusSuccess
	if !parsed.OK {
		status = audit.StatusFailure
	}
	a.record(ctx, status, map[string]any{
		"file_analyzed":   relPath,
		"input_prompt":    prompt,
		"output_response": completion.Text,
		"parse_ok":        parsed.OK,
	})

	if !parsed.OK {
		return nil, fmt.Errorf("failed to parse auditor analysis: %s", parsed.Err)
	}
	analysis := parsed.Value
	if analysis.File == "" {
		analysis.File = relPath
	}
	if analysis.TotalIssues == 0 {
		analysis.TotalIssues = len(analysis.Plan)
	}
	return &analysis, nil
}

// AnalyzeWithFallback analyzes a file and, when the model response cannot be
// parsed, synthesizes a minimal plan from the lint findings so the repair
// loop can proceed with degraded guidance instead of stalling. The second
// return value reports whether the fallback path was taken.
func (a *Auditor) AnalyzeWithFallback(ctx context.Context, relPath, content string, report *lint.Report) (*Analysis, bool, error) {
	analysis, err := a.Analyze(ctx, relPath, content, report)
	if err == nil {
		return analysis, false, nil
	}

	fallback := FallbackAnalysis(relPath, report)
	if len(fallback.Plan) == 0 {
		// Nothing to synthesize from either: the file is dropped.
		return nil, true, fmt.Errorf("no usable plan for %s: %w", relPath, err)
	}

	a.record(ctx, audit.StatusPartial, map[string]any{
		"file_analyzed": relPath,
		"used_fallback": true,
		"plan_steps":    len(fallback.Plan),
	})
	return fallback, true, nil
}

// FallbackAnalysis builds a plan purely from static-analysis findings: the
// top issues in report order, with priority derived from severity. It never
// calls the model.
func FallbackAnalysis(relPath string, report *lint.Report) *Analysis {
	analysis := &Analysis{
		File:    relPath,
		Summary: "Plan synthesized from static-analysis findings after an unparseable auditor response.",
	}
	if report == nil {
		return analysis
	}

	if report.Score != nil && *report.Score < 5.0 {
		analysis.Plan = append(analysis.Plan, PlanStep{
			Step:      "Fix the errors preventing this file from scoring above 5/10",
			Rationale: fmt.Sprintf("static analysis rates the file %.2f/10", *report.Score),
			Priority:  "critical",
		})
	}

	for i, issue := range report.Issues {
		if i >= fallbackIssueLimit {
			break
		}
		analysis.Plan = append(analysis.Plan, PlanStep{
			Step:      fmt.Sprintf("Fix %s at line %d", issue.Type, issue.Line),
			Rationale: issue.Message,
			Priority:  severityPriority(issue.Type),
		})
	}
	analysis.TotalIssues = len(analysis.Plan)
	return analysis
}

func severityPriority(sev lint.Severity) string {
	switch sev {
	case lint.SeverityError:
		return "high"
	case lint.SeverityWarning:
		return "medium"
	default:
		return "low"
	}
}

func (a *Auditor) record(ctx context.Context, status audit.Status, detail map[string]any) {
	a.trail.Record(ctx, audit.Event{
		Role:   "auditor",
		Model:  a.modelName(),
		Action: audit.ActionAnalysis,
		Status: status,
		Detail: detail,
	})
}

func (a *Auditor) modelName() string {
	if a.model != "" {
		return a.model
	}
	return a.client.Model()
}
