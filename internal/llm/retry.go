package llm

import (
	"context"
	"time"

	"mobilemoney/pkg/logger"

	"go.uber.org/zap"
)

// RetryConfig carries the outbound-call tunables: a per-attempt deadline
// and an exponential backoff schedule, capped.
type RetryConfig struct {
	Deadline   time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig is 30s/3/1s/10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Deadline:   30 * time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// CompleteWithRetry wraps a Provider call with a per-attempt deadline and
// exponential backoff on infrastructure errors, never on a well-formed
// model response. The conversational fallback on exhaustion is the
// caller's responsibility.
func CompleteWithRetry(ctx context.Context, p Provider, req CompletionRequest, cfg RetryConfig) (*CompletionResponse, error) {
	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Deadline)
		resp, err := p.Complete(attemptCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}
		logger.Warn("llm completion failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return nil, lastErr
}
