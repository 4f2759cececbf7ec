// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package provider

import (
	"context"
	"time"

	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// RetryConfig bounds the retry loop around provider calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig retries three times with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget runs out. Classification comes from the error code, not
// from inspecting transport details: invalid requests fail immediately,
// timeouts and upstream failures back off and retry.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	var lastErr error

	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !templarerr.IsRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, templarerr.Wrap(ctx.Err(), templarerr.CodeProviderTimeout, "retry interrupted")
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, templarerr.Wrapf(lastErr, templarerr.CodeProviderExhausted,
		"giving up after %d attempts", cfg.MaxAttempts)
}
