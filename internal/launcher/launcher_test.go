package launcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"autolite/internal/platform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcess struct {
	once    sync.Once
	done    chan struct{}
	kills   atomic.Int32
	killErr error
}

func newFakeProcess() *fakeProcess { return &fakeProcess{done: make(chan struct{})} }

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	if p.killErr != nil {
		return p.killErr
	}
	p.exit()
	return nil
}

func (p *fakeProcess) exit()                  { p.once.Do(func() { close(p.done) }) }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

type countSeq struct {
	mu     sync.Mutex
	counts []int
	calls  int
}

func (c *countSeq) CountBrowserProcesses(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.counts) == 0 {
		return 0, nil
	}
	n := c.counts[0]
	if len(c.counts) > 1 {
		c.counts = c.counts[1:]
	}
	return n, nil
}

type recorder struct{ launches, terminations atomic.Int32 }

func (r *recorder) RecordLaunch()      { r.launches.Add(1) }
func (r *recorder) RecordTermination() { r.terminations.Add(1) }

func testLauncher(t *testing.T, counter Counter, proc *fakeProcess) (*Launcher, *[]string) {
	t.Helper()
	p, err := platform.Detect("linux", "amd64")
	require.NoError(t, err)

	var argv []string
	l := New(p, counter, nil)
	l.Spawn = func(_ context.Context, a []string) (Process, error) {
		argv = a
		return proc, nil
	}
	l.Probe = nil
	l.Fs = afero.NewMemMapFs()
	l.Interval = time.Millisecond
	l.Settle = time.Millisecond
	return l, &argv
}

func TestLaunchWaitsForCumulativeThreshold(t *testing.T) {
	counter := &countSeq{counts: []int{0, 2, 3, 4}}
	proc := newFakeProcess()
	l, argv := testLauncher(t, counter, proc)

	h, _, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p", Headless: true, Port: 9001})
	require.NoError(t, err)
	defer h.Terminate()

	// 0+2+3 < 7, 0+2+3+4 >= 7
	assert.Equal(t, 4, counter.calls)
	assert.Equal(t, 9001, h.Port())
	assert.Equal(t, 4242, h.Pid())
	assert.Equal(t, []string{
		"google-chrome", "--remote-debugging-port=9001", "--user-data-dir=/p",
		"--headless=new", "--no-first-run", "--start-maximized",
	}, *argv)
}

func TestLaunchProbeEndsWaitEarly(t *testing.T) {
	counter := &countSeq{counts: []int{1}}
	proc := newFakeProcess()
	l, _ := testLauncher(t, counter, proc)

	var probed atomic.Int32
	l.Probe = func(_ context.Context, port int) error {
		assert.Equal(t, 9222, port)
		if probed.Add(1) < 2 {
			return errors.New("connection refused")
		}
		return nil
	}

	h, _, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p", Port: 9222})
	require.NoError(t, err)
	defer h.Terminate()
	assert.Equal(t, int32(2), probed.Load())
	assert.Equal(t, 2, counter.calls)
}

func TestLaunchWithoutPortSkipsProbe(t *testing.T) {
	counter := &countSeq{counts: []int{7}}
	l, _ := testLauncher(t, counter, newFakeProcess())
	l.Probe = func(context.Context, int) error {
		t.Fatal("probe must not run without a port")
		return nil
	}

	h, _, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p"})
	require.NoError(t, err)
	require.NoError(t, h.Terminate())
}

func TestLaunchInterruptedDuringReadiness(t *testing.T) {
	counter := &countSeq{counts: []int{0}}
	proc := newFakeProcess()
	l, _ := testLauncher(t, counter, proc)
	rec := &recorder{}
	l.Recorder = rec
	l.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := l.Launch(ctx, platform.LaunchOptions{ProfileDir: "/p", Port: 9001})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, int32(1), proc.kills.Load(), "browser must be killed on interrupt")
	assert.Equal(t, int32(1), rec.launches.Load())
	assert.Equal(t, int32(1), rec.terminations.Load())
}

func TestLaunchProcessExitsEarly(t *testing.T) {
	proc := newFakeProcess()
	proc.exit()
	l, _ := testLauncher(t, &countSeq{}, proc)

	_, _, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p"})
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestLaunchSpawnFailure(t *testing.T) {
	l, _ := testLauncher(t, &countSeq{}, nil)
	l.Spawn = func(context.Context, []string) (Process, error) {
		return nil, errors.New("file does not exist: google-chrome")
	}
	_, _, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p"})
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestTerminateIsIdempotent(t *testing.T) {
	proc := newFakeProcess()
	rec := &recorder{}
	l, _ := testLauncher(t, &countSeq{counts: []int{7}}, proc)
	l.Recorder = rec

	h, _, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p"})
	require.NoError(t, err)

	require.NoError(t, h.Terminate())
	require.NoError(t, h.Terminate())
	assert.Equal(t, int32(1), proc.kills.Load())
	assert.Equal(t, int32(1), rec.terminations.Load())
}

func TestExecSpawnerMissingBinary(t *testing.T) {
	_, err := ExecSpawner(context.Background(), []string{"/nonexistent/google-chrome"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestExecSpawnerKill(t *testing.T) {
	p, err := ExecSpawner(context.Background(), []string{"sleep", "30"})
	if err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	require.NoError(t, p.Kill())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped after kill")
	}
	require.NoError(t, p.Kill())
}

func TestLaunchReportsNewProfile(t *testing.T) {
	l, _ := testLauncher(t, &countSeq{counts: []int{7}}, nil)
	l.Spawn = func(context.Context, []string) (Process, error) { return newFakeProcess(), nil }

	h, res, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/home/.runtime/chromecache"})
	require.NoError(t, err)
	require.NoError(t, h.Terminate())
	assert.True(t, res.NewProfile)

	require.NoError(t, l.Fs.MkdirAll("/home/.runtime/chromecache", 0o755))
	h, res, err = l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/home/.runtime/chromecache"})
	require.NoError(t, err)
	require.NoError(t, h.Terminate())
	assert.False(t, res.NewProfile)
}

type brokenCounter struct{ calls atomic.Int32 }

func (c *brokenCounter) CountBrowserProcesses(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, errors.New("pgrep: executable file not found in $PATH")
}

func TestLaunchGivesUpAfterThresholdPolls(t *testing.T) {
	counter := &brokenCounter{}
	l, _ := testLauncher(t, counter, newFakeProcess())

	done := make(chan struct{})
	var (
		h   *Handle
		err error
	)
	go func() {
		defer close(done)
		h, _, err = l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p"})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("launch kept waiting on a counter that never reports")
	}
	require.NoError(t, err)
	require.NoError(t, h.Terminate())
	assert.Equal(t, int32(l.Threshold), counter.calls.Load())
}

func TestTerminateReturnsKillError(t *testing.T) {
	proc := newFakeProcess()
	rec := &recorder{}
	l, _ := testLauncher(t, &countSeq{counts: []int{7}}, proc)
	l.Recorder = rec

	h, _, err := l.Launch(context.Background(), platform.LaunchOptions{ProfileDir: "/p"})
	require.NoError(t, err)

	proc.killErr = errors.New("operation not permitted")
	assert.EqualError(t, h.Terminate(), "operation not permitted")
	assert.Equal(t, int32(1), rec.terminations.Load())
}
