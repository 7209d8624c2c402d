package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/fixsmith/fixsmith/internal/ai"
	"github.com/fixsmith/fixsmith/internal/audit"
)

// Fixer rewrites a file, either by applying a refactoring plan or by
// repairing the most recent validation failure.
type Fixer struct {
	client *ai.Client
	trail  audit.Recorder
	model  string
}

// NewFixer creates the fixer role. An empty model uses the client default.
func NewFixer(client *ai.Client, trail audit.Recorder, model string) (*Fixer, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is required")
	}
	if trail == nil {
		trail = audit.NopRecorder{}
	}
	return &Fixer{client: client, trail: trail, model: model}, nil
}

// ApplyPlan returns replacement content for the file after applying the
// refactoring plan.
func (f *Fixer) ApplyPlan(ctx context.Context, relPath, content string, plan []PlanStep) (string, error) {
	prompt := buildFixerPlanPrompt(relPath, content, plan)
	return f.complete(ctx, relPath, prompt, map[string]any{
		"file_fixed":        relPath,
		"refactoring_steps": len(plan),
	})
}

// RepairFailure returns replacement content that addresses the failure
// context from the previous iteration (test failures or a syntax error).
func (f *Fixer) RepairFailure(ctx context.Context, relPath, content string, failure FailureContext) (string, error) {
	prompt := buildFixerRepairPrompt(relPath, content, failure.Output, failure.Stats)
	return f.complete(ctx, relPath, prompt, map[string]any{
		"file_fixed":   relPath,
		"tests_failed": failure.Stats.Failed,
		"repair_mode":  true,
	})
}

func (f *Fixer) complete(ctx context.Context, relPath, prompt string, detail map[string]any) (string, error) {
	completion, err := f.client.Complete(ctx, "fixer-rewrite", f.model, prompt, 0)
	if err != nil {
		detail["error"] = err.Error()
		detail["input_prompt"] = prompt
		f.record(ctx, audit.StatusFailure, detail)
		return "", fmt.Errorf("fixer rewrite failed: %w", err)
	}

	// The fixer's contract is raw code; fences are tolerated and stripped.
	fixed := strings.TrimSpace(ai.StripCodeFences(completion.Text))
	if fixed == "" {
		detail["input_prompt"] = prompt
		detail["output_response"] = completion.Text
		f.record(ctx, audit.StatusFailure, detail)
		return "", fmt.Errorf("fixer returned empty content for %s", relPath)
	}

	detail["input_prompt"] = prompt
	detail["output_response"] = completion.Text
	f.record(ctx, audit.StatusSuccess, detail)
	return fixed + "\n", nil
}

func (f *Fixer) record(ctx context.Context, status audit.Status, detail map[string]any) {
	model := f.model
	if model == "" {
		model = f.client.Model()
	}
	f.trail.Record(ctx, audit.Event{
		Role:   "fixer",
		Model:  model,
		Action: audit.ActionFix,
		Status: status,
		Detail: detail,
	})
}
