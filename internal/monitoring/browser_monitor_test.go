package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autolite/internal/platform"
)

func linuxMonitor(t *testing.T, run Runner) *BrowserMonitor {
	t.Helper()
	p, err := platform.Detect("linux", "amd64")
	require.NoError(t, err)
	return NewBrowserMonitor(p, nil).WithRunner(run)
}

func TestCountBrowserProcesses(t *testing.T) {
	var gotArgv []string
	bm := linuxMonitor(t, func(_ context.Context, argv []string) ([]byte, error) {
		gotArgv = argv
		return []byte("101 chrome\n102 chrome\n103 chrome_crashpad\n"), nil
	})

	n, err := bm.CountBrowserProcesses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"pgrep", "-il", "chrome"}, gotArgv)
}

func TestCountBrowserProcessesNoneRunning(t *testing.T) {
	// pgrep exits 1 when nothing matches; "false" does the same
	bm := linuxMonitor(t, func(ctx context.Context, _ []string) ([]byte, error) {
		return exec.CommandContext(ctx, "false").Output()
	})

	n, err := bm.CountBrowserProcesses(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountBrowserProcessesFailure(t *testing.T) {
	bm := linuxMonitor(t, func(context.Context, []string) ([]byte, error) {
		return nil, errors.New("pgrep: not found")
	})

	_, err := bm.CountBrowserProcesses(context.Background())
	assert.Error(t, err)
	assert.Equal(t, -1, bm.Refresh(context.Background()).BrowserProcessCount)
}

func TestCountersAndLeakDetection(t *testing.T) {
	bm := linuxMonitor(t, func(context.Context, []string) ([]byte, error) {
		return []byte("1 chrome\n"), nil
	})

	bm.RecordLaunch()
	bm.RecordSessionAttempt()
	bm.RecordDriverFetch()
	m := bm.Refresh(context.Background())
	assert.Equal(t, int64(1), m.BrowserLaunches)
	assert.Equal(t, int64(1), m.SessionAttempts)
	assert.Equal(t, int64(1), m.DriverFetches)
	assert.Equal(t, 1, m.BrowserProcessCount)
	assert.False(t, m.LeakDetected)

	bm.RecordLaunch()
	bm.RecordLaunch()
	m = bm.Refresh(context.Background())
	assert.True(t, m.LeakDetected)
	assert.Contains(t, m.LeakReason, "3 launches")

	bm.RecordTermination()
	bm.RecordTermination()
	assert.False(t, bm.Refresh(context.Background()).LeakDetected)
}

func TestGetMetricsJSON(t *testing.T) {
	bm := linuxMonitor(t, func(context.Context, []string) ([]byte, error) { return nil, nil })
	bm.RecordLaunch()
	bm.RecordTermination()

	out, err := bm.GetMetricsJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.EqualValues(t, 1, decoded["browser_launches"])
	assert.EqualValues(t, 1, decoded["browser_terminations"])
	assert.NotContains(t, decoded, "leak_reason")
}
