package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// RetryConfig controls retry, timeout, and circuit-breaker behavior for
// model calls.
type RetryConfig struct {
	MaxRetries        int           // attempts beyond the first (default 3)
	InitialBackoff    time.Duration // default 1s
	MaxBackoff        time.Duration // default 30s
	BackoffMultiplier float64       // default 2.0
	Timeout           time.Duration // per-attempt timeout (default 120s)

	CircuitBreakerEnabled bool
	FailureThreshold      int           // failures before the circuit opens (default 5)
	SuccessThreshold      int           // half-open successes before closing (default 2)
	OpenTimeout           time.Duration // how long the circuit stays open (default 30s)

	MaxConcurrentCalls int // 0 = unlimited
}

// DefaultRetryConfig returns the standard retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               120 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    2,
	}
}

// ErrCircuitOpen is returned when the circuit breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker fails fast once the API has produced a run of transient
// failures, and probes for recovery after a cool-down.
type circuitBreaker struct {
	mu sync.Mutex

	state            breakerState
	failures         int
	successes        int
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

func newCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:            breakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

func (cb *circuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if time.Since(cb.lastFailure) > cb.openTimeout {
			cb.setState(breakerHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case breakerHalfOpen:
		return nil
	}
	return ErrCircuitOpen
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		cb.failures = 0
	case breakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.setState(breakerClosed)
			cb.failures = 0
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()
	switch cb.state {
	case breakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.setState(breakerOpen)
		}
	case breakerHalfOpen:
		// Any failure while probing reopens the circuit.
		cb.setState(breakerOpen)
	}
}

// setState transitions the breaker; callers must hold the lock.
func (cb *circuitBreaker) setState(next breakerState) {
	if cb.state == next {
		return
	}
	slog.Info("circuit breaker state change", "from", cb.state.String(), "to", next.String(), "failures", cb.failures)
	cb.state = next
	cb.successes = 0
}

// retryWithBackoff executes fn with exponential backoff, per-attempt
// timeouts, and circuit-breaker accounting.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer c.sem.Release(1)
	}

	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.breaker != nil {
			if err := c.breaker.allow(); err != nil {
				return fmt.Errorf("%s blocked: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if c.breaker != nil {
				c.breaker.recordSuccess()
			}
			if attempt > 0 {
				slog.Info("model call succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}
		lastErr = err

		if !isRetriableError(err) {
			slog.Warn("model call failed with non-retriable error", "operation", operation, "error", err)
			return err
		}
		if c.breaker != nil {
			c.breaker.recordFailure()
		}
		if attempt == c.retry.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		}

		slog.Info("model call failed, retrying", "operation", operation, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.retry.MaxRetries+1, lastErr)
}

// isRetriableError reports whether an error is transient. Rate limits,
// server errors, timeouts, and network failures retry; other client errors
// do not.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"connection refused", "connection reset", "timeout", "temporary failure",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
