package agent

import (
	"context"
	"fmt"

	"github.com/fixsmith/fixsmith/internal/ai"
	"github.com/fixsmith/fixsmith/internal/audit"
	"github.com/fixsmith/fixsmith/internal/pytest"
)

// Judge evaluates an iteration's test run and score movement and issues a
// pass/fail verdict.
type Judge struct {
	client *ai.Client
	trail  audit.Recorder
	model  string
}

// NewJudge creates the judge role. An empty model uses the client default.
func NewJudge(client *ai.Client, trail audit.Recorder, model string) (*Judge, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is required")
	}
	if trail == nil {
		trail = audit.NopRecorder{}
	}
	return &Judge{client: client, trail: trail, model: model}, nil
}

// Evaluate asks the model for a verdict on the iteration. A response that
// cannot be parsed returns an error; ShouldContinue maps that to "keep
// iterating", never to success.
func (j *Judge) Evaluate(ctx context.Context, testOutput string, stats pytest.Stats, initialScore, currentScore *float64) (*Verdict, error) {
	prompt := buildJudgePrompt(testOutput, stats, initialScore, currentScore)

	completion, err := j.client.Complete(ctx, "judge-evaluation", j.model, prompt, 4096)
	if err != nil {
		j.record(ctx, audit.StatusFailure, map[string]any{
			"input_prompt": prompt,
			"error":        err.Error(),
		})
		return nil, fmt.Errorf("judge evaluation failed: %w", err)
	}

	parsed := ai.ParseJSON[Verdict](completion.Text, "judge evaluation response")
	detail := map[string]any{
		"input_prompt":    prompt,
		"output_response": completion.Text,
		"tests_passed":    stats.Passed,
		"tests_failed":    stats.Failed,
	}
	if initialScore != nil && currentScore != nil {
		detail["quality_improvement"] = *currentScore - *initialScore
	}

	if !parsed.OK {
		j.record(ctx, audit.StatusFailure, detail)
		return nil, fmt.Errorf("failed to parse judge evaluation: %s", parsed.Err)
	}

	j.record(ctx, audit.StatusSuccess, detail)
	verdict := parsed.Value
	return &verdict, nil
}

func (j *Judge) record(ctx context.Context, status audit.Status, detail map[string]any) {
	model := j.model
	if model == "" {
		model = j.client.Model()
	}
	j.trail.Record(ctx, audit.Event{
		Role:   "judge",
		Model:  model,
		Action: audit.ActionDebug,
		Status: status,
		Detail: detail,
	})
}
