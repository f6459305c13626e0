// Package launcher starts the browser with a remote-debugging port and waits
// until it is ready to accept a driver.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"autolite/internal/platform"
	"autolite/internal/utils"
)

var (
	ErrLaunch      = errors.New("browser launch failed")
	ErrInterrupted = errors.New("interrupted")
)

// Counter reports how many browser processes are currently running
type Counter interface {
	CountBrowserProcesses(ctx context.Context) (int, error)
}

// Recorder is told about launches and terminations
type Recorder interface {
	RecordLaunch()
	RecordTermination()
}

// Result describes what a launch found on disk
type Result struct {
	// NewProfile is true when the profile directory did not exist before launch
	NewProfile bool
}

// Prober reports whether the DevTools endpoint on port answers
type Prober func(ctx context.Context, port int) error

type Launcher struct {
	Platform platform.Platform
	Counter  Counter
	Spawn    Spawner
	Probe    Prober
	Recorder Recorder
	Fs       afero.Fs

	// Interval between process counts, Threshold the cumulative count that
	// marks the browser ready, Settle the pause once ready
	Interval     time.Duration
	Threshold    int
	Settle       time.Duration
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

func New(p platform.Platform, counter Counter, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		Platform:     p,
		Counter:      counter,
		Spawn:        ExecSpawner,
		Probe:        DevToolsProbe,
		Fs:           afero.NewOsFs(),
		Interval:     2 * time.Second,
		Threshold:    7,
		Settle:       3 * time.Second,
		ProbeTimeout: 2 * time.Second,
		Logger:       logger,
	}
}

// Launch starts the browser and blocks until it looks ready. Cancelling ctx
// kills the process and returns ErrInterrupted.
func (l *Launcher) Launch(ctx context.Context, opts platform.LaunchOptions) (*Handle, Result, error) {
	var res Result
	exists, err := afero.DirExists(l.Fs, opts.ProfileDir)
	if err != nil {
		return nil, res, fmt.Errorf("%w: checking profile: %v", ErrLaunch, err)
	}
	res.NewProfile = !exists
	if res.NewProfile {
		l.Logger.Info("crafting new profile", "profile", opts.ProfileDir)
	} else {
		l.Logger.Info("spooling up existing profile", "profile", opts.ProfileDir)
	}

	argv := l.Platform.LaunchArgv(opts)
	l.Logger.Info("launching browser", "port", opts.Port, "headless", opts.Headless)
	l.Logger.Debug("browser command", "argv", argv)

	proc, err := l.Spawn(ctx, argv)
	if err != nil {
		return nil, res, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	h := &Handle{proc: proc, port: opts.Port, recorder: l.Recorder}
	if l.Recorder != nil {
		l.Recorder.RecordLaunch()
	}

	if err := l.waitReady(ctx, h); err != nil {
		h.Terminate()
		return nil, res, err
	}
	l.Logger.Info("browser ready", "pid", proc.Pid(), "port", opts.Port)
	return h, res, nil
}

// waitReady polls the process count, summing every poll, until the sum
// reaches Threshold. With a debugging port, a successful DevTools probe ends
// the wait early. Every live browser adds at least one per poll, so after
// Threshold polls the wait gives up and the caller proceeds unconfirmed.
// The settle pause applies either way.
func (l *Launcher) waitReady(ctx context.Context, h *Handle) error {
	total := 0
	for poll := 1; ; poll++ {
		select {
		case <-ctx.Done():
			return ErrInterrupted
		case <-h.proc.Done():
			return fmt.Errorf("%w: browser exited during start-up", ErrLaunch)
		default:
		}

		n, err := l.Counter.CountBrowserProcesses(ctx)
		if err != nil {
			l.Logger.Debug("process count failed", "error", err)
		}
		total += n
		if total >= l.Threshold {
			l.Logger.Debug("process threshold reached", "total", total)
			break
		}

		if h.port > 0 && l.Probe != nil && l.probe(ctx, h.port) {
			l.Logger.Debug("devtools endpoint answered", "port", h.port)
			break
		}

		if poll >= l.Threshold {
			l.Logger.Warn("browser readiness not confirmed, proceeding", "polls", poll, "total", total)
			break
		}

		if err := utils.Sleep(ctx, l.Interval); err != nil {
			return ErrInterrupted
		}
	}

	if err := utils.Sleep(ctx, l.Settle); err != nil {
		return ErrInterrupted
	}
	return nil
}

func (l *Launcher) probe(ctx context.Context, port int) bool {
	timeout := l.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	// the allocator can block past its context while the socket is half open
	err := utils.WithTimeout(ctx, timeout, func(ctx context.Context) error {
		return l.Probe(ctx, port)
	})
	return err == nil
}

// Handle is a launched browser. Terminate is safe to call more than once.
type Handle struct {
	proc     Process
	port     int
	recorder Recorder

	once sync.Once
	err  error
}

func (h *Handle) Pid() int  { return h.proc.Pid() }
func (h *Handle) Port() int { return h.port }

// Terminate kills the browser and waits for it to exit
func (h *Handle) Terminate() error {
	h.once.Do(func() {
		h.err = h.proc.Kill()
		if h.err == nil {
			<-h.proc.Done()
		}
		if h.recorder != nil {
			h.recorder.RecordTermination()
		}
	})
	return h.err
}
