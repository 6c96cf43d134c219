// Package retry provides bounded retries with a fixed inter-attempt delay
// for transient failures.
//
// The executor is generic over any fallible operation: it attempts the
// operation, classifies failures with IsRetryable, sleeps for the configured
// delay and tries again while the budget lasts. Fatal errors abort
// immediately without consuming further attempts.
//
// # Attempt counting
//
// Config.MaxRetries is the number of additional attempts after the first, so
// an operation runs at most MaxRetries+1 times. The delay is fixed, not
// exponential, which keeps attempt timing predictable.
//
// # Usage
//
//	cfg := retry.Config{MaxRetries: 3, Delay: time.Second, OperationName: "db_query"}
//	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
//		return runQuery(ctx)
//	})
//
// An operation can abort the loop regardless of classification by wrapping
// its error with Stop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moneta/pgclient/logger"
	"github.com/moneta/pgclient/pkg/metrics"
)

// Config controls the retry loop.
type Config struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// Delay is the fixed pause between attempts.
	Delay time.Duration

	// OperationName labels log lines and metrics. Optional.
	OperationName string
}

// DefaultConfig mirrors the library-wide retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Delay:      1 * time.Second,
	}
}

// WithName returns a copy of the config carrying the given operation label.
func (c Config) WithName(name string) Config {
	c.OperationName = name
	return c
}

// RetryableFunc is one attempt of the operation under retry.
type RetryableFunc func(ctx context.Context) error

// Do runs fn with bounded retries and a fixed delay between attempts.
//
// Fatal errors (per IsRetryable) and errors wrapped with Stop abort the loop
// immediately. When the budget is exhausted the last encountered error is
// returned as-is, so callers can match it with errors.Is.
func Do(ctx context.Context, cfg Config, fn RetryableFunc) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(cfg.OperationName).Inc()
			logger.Debug("retrying operation",
				"operation", cfg.OperationName,
				"attempt", attempt+1,
				"delay", cfg.Delay,
				"error", lastErr)

			timer := time.NewTimer(cfg.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var stopErr StopError
		if errors.As(err, &stopErr) {
			return stopErr.Err
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	logger.Warn("operation failed after exhausting retries",
		"operation", cfg.OperationName,
		"attempts", cfg.MaxRetries+1,
		"error", lastErr)
	return lastErr
}

// StopError wraps an error to indicate that retries should stop immediately,
// regardless of how the underlying error would be classified.
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error so Do aborts without further attempts.
func Stop(err error) error {
	return StopError{Err: err}
}
