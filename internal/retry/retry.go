// Package retry provides bounded exponential backoff for transiently
// failing operations such as RPC connectivity. It must never wrap a
// transaction broadcast: a failed submission may already be on the wire.
package retry

import (
	"context"
	"math"
	"time"

	apperrors "github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/logging"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig backs off 1s, 2s, 4s, 8s, capped at 30s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Func is an attempt of the operation under retry.
type Func func(ctx context.Context, attempt int) error

// WithExponentialBackoff runs fn until it succeeds, the attempts are
// exhausted, the error is not retryable, or the context ends. The last
// error is returned.
func WithExponentialBackoff(ctx context.Context, cfg *Config, fn Func) error {
	logger := logging.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("Operation succeeded after retry")
			}
			return nil
		}

		if !apperrors.IsRetryable(lastErr) || attempt >= cfg.MaxAttempts {
			break
		}

		delay := delayFor(cfg, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": cfg.MaxAttempts,
			"delay":        delay.String(),
			"error":        lastErr.Error(),
		}).Warn("Operation failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func delayFor(cfg *Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if ceil := float64(cfg.MaxDelay); delay > ceil {
		delay = ceil
	}
	return time.Duration(delay)
}
