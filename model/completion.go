// Package model talks to the embedding and completion providers.
package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"contractrag/types"
)

// Embedder turns text into a vector. It mirrors rag.Embedder so providers can
// be handed to the pipeline directly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces raw model output for a prompt. When Schema is set the
// provider is asked for JSON matching it, but callers still validate.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	System      string
	Prompt      string
	Schema      *jsonschema.Definition
	SchemaName  string
	Temperature float32
	MaxTokens   int
}

// CalculateBackoff returns exponential backoff with jitter.
// Base delay is doubled each attempt, with random jitter up to 25%.
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff > 30*time.Second || backoff <= 0 {
		backoff = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2+1)) - backoff/4
	return backoff + jitter
}

// Retryable reports whether an error from Complete is worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, types.ErrRateLimited) || errors.Is(err, types.ErrModel)
}

// classify wraps a provider error with the matching sentinel. Context errors
// pass through untouched so callers can tell a timeout from a model failure.
func classify(provider string, status int, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", provider, err)
	case status == 429:
		return fmt.Errorf("%w: %s: %v", types.ErrRateLimited, provider, err)
	default:
		return fmt.Errorf("%w: %s: %v", types.ErrModel, provider, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type retryingCompleter struct {
	inner      Completer
	maxRetries int
	delay      time.Duration
}

// WithRetry retries rate limits and transient model errors up to maxRetries
// times. Deadlines are never retried.
func WithRetry(c Completer, maxRetries int, delay time.Duration) Completer {
	if maxRetries <= 0 {
		return c
	}
	return &retryingCompleter{inner: c, maxRetries: maxRetries, delay: delay}
}

func (r *retryingCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, CalculateBackoff(r.delay, attempt)); err != nil {
				return "", err
			}
		}
		out, err := r.inner.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !Retryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", r.maxRetries+1, lastErr)
}
