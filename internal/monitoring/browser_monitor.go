package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"autolite/internal/platform"
)

// Metrics is a point-in-time view of browser processes and lifecycle counters
type Metrics struct {
	BrowserProcessCount int `json:"browser_process_count"`
	TotalGoroutines     int `json:"total_goroutines"`

	BrowserLaunches     int64 `json:"browser_launches"`
	BrowserTerminations int64 `json:"browser_terminations"`
	SessionAttempts     int64 `json:"session_attempts"`
	DriverFetches       int64 `json:"driver_fetches"`

	LastUpdated   time.Time `json:"last_updated"`
	UptimeSeconds int64     `json:"uptime_seconds"`

	LeakDetected bool   `json:"leak_detected"`
	LeakReason   string `json:"leak_reason,omitempty"`
}

// Runner executes argv and returns its standard output
type Runner func(ctx context.Context, argv []string) ([]byte, error)

func execRunner(ctx context.Context, argv []string) ([]byte, error) {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
}

// BrowserMonitor counts browser processes through the platform's process
// listing and tracks how many launches and sessions this run has made
type BrowserMonitor struct {
	startTime time.Time
	platform  platform.Platform
	run       Runner
	logger    *slog.Logger

	mu      sync.RWMutex
	metrics Metrics

	launchCount    atomic.Int64
	terminateCount atomic.Int64
	attemptCount   atomic.Int64
	fetchCount     atomic.Int64
}

func NewBrowserMonitor(p platform.Platform, logger *slog.Logger) *BrowserMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserMonitor{
		startTime: time.Now(),
		platform:  p,
		run:       execRunner,
		logger:    logger,
		metrics:   Metrics{LastUpdated: time.Now()},
	}
}

// WithRunner replaces the process-listing runner, mainly for tests
func (bm *BrowserMonitor) WithRunner(run Runner) *BrowserMonitor {
	bm.run = run
	return bm
}

func (bm *BrowserMonitor) RecordLaunch() {
	bm.logger.Debug("browser launch recorded", "total_launches", bm.launchCount.Add(1))
}

func (bm *BrowserMonitor) RecordTermination() {
	bm.logger.Debug("browser termination recorded", "total_terminations", bm.terminateCount.Add(1))
}

func (bm *BrowserMonitor) RecordSessionAttempt() {
	bm.logger.Debug("session attempt recorded", "total_attempts", bm.attemptCount.Add(1))
}

func (bm *BrowserMonitor) RecordDriverFetch() {
	bm.logger.Debug("driver fetch recorded", "total_fetches", bm.fetchCount.Add(1))
}

// CountBrowserProcesses returns how many browser processes the OS lists right now
func (bm *BrowserMonitor) CountBrowserProcesses(ctx context.Context) (int, error) {
	out, err := bm.run(ctx, bm.platform.ProcessListArgv())
	if err != nil {
		// pgrep exits 1 when nothing matches
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count browser processes: %w", err)
	}
	return bm.platform.CountProcesses(out), nil
}

// GetMetrics returns the last collected metrics with live counters
func (bm *BrowserMonitor) GetMetrics() Metrics {
	bm.mu.RLock()
	metrics := bm.metrics
	bm.mu.RUnlock()

	metrics.BrowserLaunches = bm.launchCount.Load()
	metrics.BrowserTerminations = bm.terminateCount.Load()
	metrics.SessionAttempts = bm.attemptCount.Load()
	metrics.DriverFetches = bm.fetchCount.Load()
	return metrics
}

// Refresh recounts processes and re-runs leak detection
func (bm *BrowserMonitor) Refresh(ctx context.Context) Metrics {
	count, err := bm.CountBrowserProcesses(ctx)
	if err != nil {
		bm.logger.Error("Failed to get browser process count", "error", err)
		count = -1
	}

	m := Metrics{
		BrowserProcessCount: count,
		TotalGoroutines:     runtime.NumGoroutine(),
		BrowserLaunches:     bm.launchCount.Load(),
		BrowserTerminations: bm.terminateCount.Load(),
		SessionAttempts:     bm.attemptCount.Load(),
		DriverFetches:       bm.fetchCount.Load(),
		LastUpdated:         time.Now(),
		UptimeSeconds:       int64(time.Since(bm.startTime).Seconds()),
	}
	m.LeakDetected, m.LeakReason = detectLeak(m)

	bm.mu.Lock()
	bm.metrics = m
	bm.mu.Unlock()

	if m.LeakDetected {
		bm.logger.Warn("Browser leak suspected", "reason", m.LeakReason, "browser_processes", m.BrowserProcessCount)
	}
	return m
}

func detectLeak(m Metrics) (bool, string) {
	// every launch this run made should have been terminated or handed over
	if diff := m.BrowserLaunches - m.BrowserTerminations; diff > 1 {
		return true, fmt.Sprintf("Launch/terminate imbalance: %d launches, %d terminations",
			m.BrowserLaunches, m.BrowserTerminations)
	}
	if m.TotalGoroutines > 1000 {
		return true, fmt.Sprintf("High goroutine count: %d", m.TotalGoroutines)
	}
	return false, ""
}

// GetMetricsJSON returns metrics as JSON string
func (bm *BrowserMonitor) GetMetricsJSON() (string, error) {
	jsonBytes, err := json.MarshalIndent(bm.GetMetrics(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metrics to JSON: %w", err)
	}
	return string(jsonBytes), nil
}

// LogCurrentStatus logs the current monitoring status
func (bm *BrowserMonitor) LogCurrentStatus() {
	m := bm.GetMetrics()
	bm.logger.Info("Browser monitor status",
		"browser_processes", m.BrowserProcessCount,
		"goroutines", m.TotalGoroutines,
		"launches", m.BrowserLaunches,
		"terminations", m.BrowserTerminations,
		"session_attempts", m.SessionAttempts,
		"driver_fetches", m.DriverFetches,
		"leak_detected", m.LeakDetected,
		"leak_reason", m.LeakReason)
}
