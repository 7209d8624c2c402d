// Package ai provides the shared language-model runtime for the decision
// roles: a single Anthropic client with retry, circuit breaking, rate
// limiting, and resilient response parsing.
package ai

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Model tiers. The default handles the reasoning-heavy roles (auditor,
// judge); the simple tier is available for cheap auxiliary calls.
const (
	ModelSonnet = "claude-sonnet-4-5-20250929"
	ModelHaiku  = "claude-3-5-haiku-20241022"
)

// DefaultModel returns the default model, honoring the FIXSMITH_MODEL
// environment override.
func DefaultModel() string {
	if model := os.Getenv("FIXSMITH_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Completion is one model response with usage accounting.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
}

// Config holds client configuration.
type Config struct {
	APIKey            string      // falls back to ANTHROPIC_API_KEY
	Model             string      // default model for calls that pass ""
	Retry             RetryConfig // zero value means DefaultRetryConfig
	RequestsPerMinute int         // rate limit on outgoing calls (0 = unlimited)
}

// Client wraps the Anthropic API with the resilience stack shared by every
// role. All three roles hold the same client, so the concurrency and rate
// limits apply to the process as a whole.
type Client struct {
	api     *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *circuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewClient creates the shared model client. A missing API key is a startup
// fatal for the caller; nothing downstream rechecks credentials.
func NewClient(cfg *Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))

	c := &Client{
		api:   &api,
		model: model,
		retry: retry,
	}
	if retry.CircuitBreakerEnabled {
		c.breaker = newCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// Model returns the client's default model identifier.
func (c *Client) Model() string { return c.model }

// Complete sends a single-message prompt and returns the concatenated text
// blocks of the response. An empty model selects the client default.
func (c *Client) Complete(ctx context.Context, operation, model, prompt string, maxTokens int) (*Completion, error) {
	if model == "" {
		model = c.model
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limit wait canceled: %w", operation, err)
		}
	}

	start := time.Now()
	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.api.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Completion{
		Text:         text,
		Model:        model,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		Duration:     time.Since(start),
	}, nil
}
