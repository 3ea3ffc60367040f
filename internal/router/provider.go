package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"invoiceflow/internal/lifecycle"
)

var (
	// ErrProviderTimeout is returned when a classification call exceeds its deadline
	ErrProviderTimeout = errors.New("decision provider timed out")

	// ErrProviderUnavailable is returned for any other provider failure
	ErrProviderUnavailable = errors.New("decision provider unavailable")
)

// Request is the context handed to a provider for classification
type Request struct {
	Message   string
	InvoiceID string
	State     lifecycle.State
	History   []lifecycle.TransitionRecord
}

// Provider classifies a natural-language message into a routing decision.
// Implementations perform the only network I/O in the request path and must
// respect ctx cancellation.
type Provider interface {
	Classify(ctx context.Context, req Request) (*Decision, error)
}

// RetryConfig bounds the retry loop around a provider
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// DefaultRetryConfig mirrors the provider-boundary policy: small retry
// budget, exponential backoff, per-attempt timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		Timeout:    30 * time.Second,
	}
}

// RetryingProvider wraps a Provider with bounded retry and a deterministic
// fallback. When retries are exhausted it returns the "undetermined intent"
// fallback decision instead of an error, so the failure still flows through
// the validator and surfaces as a clarification, never as a guessed mutation.
type RetryingProvider struct {
	inner  Provider
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetryingProvider wraps inner with the retry policy
func NewRetryingProvider(inner Provider, cfg RetryConfig, logger *zap.Logger) *RetryingProvider {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RetryingProvider{inner: inner, cfg: cfg, logger: logger}
}

// Classify attempts the inner provider up to MaxRetries+1 times. It never
// returns an error for provider failures; the caller always gets a decision.
func (p *RetryingProvider) Classify(ctx context.Context, req Request) (*Decision, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.BaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return FallbackDecision("classification cancelled"), nil
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		decision, err := p.inner.Classify(attemptCtx, req)
		cancel()

		if err == nil {
			return decision, nil
		}
		lastErr = err

		p.logger.Warn("decision provider attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.cfg.MaxRetries+1),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	p.logger.Error("decision provider exhausted retries, falling back to undetermined intent",
		zap.Error(lastErr))

	return FallbackDecision(fmt.Sprintf("provider unavailable: %v", lastErr)), nil
}
