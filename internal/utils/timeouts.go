package utils

import (
	"context"
	"time"
)

// TimeoutConfig holds timeout configuration for the blocking operations of a run
type TimeoutConfig struct {
	VersionTimeout     time.Duration // Max time for the browser version query
	ManifestTimeout    time.Duration // Max time to fetch the driver manifest
	DownloadTimeout    time.Duration // Max time to download a driver archive
	ProbeTimeout       time.Duration // Max time for one DevTools readiness probe
	HealthCheckTimeout time.Duration // Max time for a single startup health check
}

// DefaultTimeoutConfig returns sensible default timeouts
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		VersionTimeout:     15 * time.Second,
		ManifestTimeout:    30 * time.Second,
		DownloadTimeout:    5 * time.Minute, // driver archives are ~10MB but mirrors can be slow
		ProbeTimeout:       2 * time.Second,
		HealthCheckTimeout: 10 * time.Second,
	}
}

// WithTimeout wraps a function with a timeout context derived from parent
func WithTimeout(parent context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
