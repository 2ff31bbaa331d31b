package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amanahlabs/fiqhbridge/internal/native"
)

// retryPolicy configures retry behavior for provider calls.
type retryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError reports whether a provider error is worth another attempt.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if containsAny(msg, "rate limit", "quota exceeded", "429") {
		return true
	}
	if containsAny(msg, "500", "502", "503", "504", "unavailable") {
		return true
	}
	if containsAny(msg, "connection reset", "timeout", "temporary") {
		return true
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// generate runs fn under the rate limiter with exponential backoff on
// transient provider errors.
func (s *Subsystem) generate(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	delay := s.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", translateGenErr(ctx, fmt.Errorf("rate limit wait: %w", err))
		}

		text, err := fn(ctx)
		if err == nil {
			s.logger.Debug("generation succeeded",
				"attempts", attempt+1, "elapsed", time.Since(start))
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryableError(err) {
			break
		}

		s.logger.Debug("generation attempt failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", translateGenErr(ctx, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.retry.MaxInterval {
			delay = s.retry.MaxInterval
		}
	}

	return "", translateGenErr(ctx, lastErr)
}

// translateGenErr lifts provider errors into boundary error codes.
func translateGenErr(ctx context.Context, err error) error {
	var be *native.Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return native.NewError(native.CodeCallTimeout, "generation timed out: %v", err)
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return native.NewError(native.CodeCallCancelled, "generation cancelled: %v", err)
	}
	return native.NewError(native.CodeNativeError, "generation failed: %v", err)
}
