// Package retry implements component L, the Retry/Resilience Helper: a
// provider-call decorator that classifies errors as transient or permanent
// and retries transient ones with exponential backoff and jitter, grounded
// on the backoff+jitter shape in the web search tool's searchWithRetry.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Config controls the backoff schedule. Zero values fall back to
// DefaultConfig's values in Do and DoStream.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig mirrors spec.md's retry_{max_attempts,base_delay_seconds,max_delay_seconds} defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// StatusError is implemented by provider errors that carry an HTTP status
// code, letting Classify use the wire-level code instead of guessing from
// the message.
type StatusError interface {
	StatusCode() int
}

var transientPhrases = []string{
	"timeout",
	"timed out",
	"temporarily unavailable",
	"unavailable",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"connection reset",
	"connection refused",
	"eof",
}

// IsTransient classifies err as retryable or not. HTTP status codes
// 408/429/500/502/503/504 are transient; 400/401/403/404 are always
// permanent and never retried regardless of message content. Everything
// else falls back to a message-pattern match.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return isTransientStatus(statusErr.StatusCode())
	}
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"status=400", "status=401", "status=403", "status=404"} {
		if strings.Contains(msg, code) {
			return false
		}
	}
	for _, code := range []string{"status=408", "status=429", "status=500", "status=502", "status=503", "status=504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do runs fn, retrying up to cfg.MaxAttempts times (the first attempt plus
// cfg.MaxAttempts-1 retries) while the error classifies as transient,
// sleeping with exponential backoff and jitter between attempts. It
// returns fn's last error unchanged if every attempt fails, so callers can
// still apperrors.Wrap the original failure.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := backoffWithJitter(cfg, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// DoStream is Do specialized for streaming calls: retries only cover
// establishing the stream (open), never its in-flight frames, per §4.L.
func DoStream[T any](ctx context.Context, cfg Config, open func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		stream, err := open(ctx)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := backoffWithJitter(cfg, attempt)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

func backoffWithJitter(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << attempt
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	jitter := time.Duration(float64(delay) * 0.3 * rand.Float64())
	delay += jitter
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
