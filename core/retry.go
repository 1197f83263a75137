package core

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRetryBaseDelay   = time.Second
	defaultRetryMaxDelay    = 30 * time.Second
	defaultRetryMaxAttempts = 3
	retryJitterFraction     = 0.10
)

// RetryPolicy describes capped exponential backoff with up to 10% jitter.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Jitter returns a value in [0,1); nil uses math/rand.
	Jitter func() float64
}

func RetryPolicyFromConfig(cfg RetryConfig) RetryPolicy {
	return RetryPolicy{
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultRetryBaseDelay
	}
	if p.MaxDelay <= 0 || p.MaxDelay > defaultRetryMaxDelay {
		p.MaxDelay = defaultRetryMaxDelay
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultRetryMaxAttempts
	}
	if p.Jitter == nil {
		p.Jitter = rand.Float64
	}
	return p
}

// NextDelay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(float64(delay) * retryJitterFraction * p.Jitter())
	delay += jitter
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	policy = policy.normalized()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}
		if waitErr := waitWithContext(ctx, policy.NextDelay(attempt)); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retryable()
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch strings.ToUpper(strings.TrimSpace(richErr.TextCode)) {
		case ErrorRateLimited:
			return true
		case ErrorUpstream:
			retryable, _ := richErr.Metadata["retryable"].(bool)
			return retryable
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientErrorPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporarily unavailable",
	"temporary failure",
	"too many requests",
	"unexpected eof",
	"server misbehaving",
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
