package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxRetries        int
	BackoffType       BackoffType
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// Retryable reports whether err is worth another attempt; nil retries everything
	Retryable func(err error) bool
}

// BackoffType defines the type of backoff strategy
type BackoffType int

const (
	LinearBackoff BackoffType = iota
	ExponentialBackoff
	FixedBackoff
)

// DefaultRetryConfig returns the retry policy used for manifest fetches
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BackoffType:       ExponentialBackoff,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WithRetryConfig runs fn until it succeeds, returns a non-retryable error,
// or config.MaxRetries attempts are spent. A MaxRetries below one still runs
// fn once. The last error is returned wrapped.
func WithRetryConfig(ctx context.Context, logger *slog.Logger, config RetryConfig, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := max(config.MaxRetries, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := calculateBackoff(attempt, config)
		logger.Warn("attempt failed, retrying", "attempt", attempt, "max", attempts, "delay", delay, "error", err)
		if sleepErr := Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	if attempts == 1 {
		return err
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", attempts, err)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	var delay time.Duration
	switch config.BackoffType {
	case ExponentialBackoff:
		delay = time.Duration(float64(config.InitialDelay) * pow(config.BackoffMultiplier, attempt-1))
	case LinearBackoff:
		delay = config.InitialDelay * time.Duration(attempt)
	default:
		return config.InitialDelay
	}
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		return config.MaxDelay
	}
	return delay
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for range exp {
		result *= base
	}
	return result
}
