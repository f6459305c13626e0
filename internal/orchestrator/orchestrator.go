// Package orchestrator drives session start-up through driver mismatches:
// try the installed driver, fetch a matching one and retry once, then fall
// back to release mode once, then give up.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autolite/internal/catalog"
	"autolite/internal/launcher"
	"autolite/internal/session"
	"autolite/internal/utils"
	"autolite/internal/version"
)

// MaxAttempts bounds session attempts per run
const MaxAttempts = 3

var (
	ErrAbort       = errors.New("automation session could not be started")
	ErrInterrupted = launcher.ErrInterrupted
)

type State int

const (
	AttemptDebug State = iota
	FetchBinary
	ProcessBinary
	RetryDebug
	FallbackRelease
	Success
	Abort
	Interrupted
)

var stateNames = [...]string{
	AttemptDebug:    "attempt-debug",
	FetchBinary:     "fetch-binary",
	ProcessBinary:   "process-binary",
	RetryDebug:      "retry-debug",
	FallbackRelease: "fallback-release",
	Success:         "success",
	Abort:           "abort",
	Interrupted:     "interrupted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FatalError is the single error an aborted run returns
type FatalError struct {
	State State
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrAbort, e.State, e.Err)
}

func (e *FatalError) Unwrap() error        { return e.Err }
func (e *FatalError) Is(target error) bool { return target == ErrAbort }

type Bootstrapper interface {
	Bootstrap(ctx context.Context, cfg session.Config) (*session.Bundle, error)
}

type VersionResolver interface {
	Resolve(ctx context.Context) (version.Version, error)
}

type Catalog interface {
	Resolve(ctx context.Context, major version.Version) (catalog.Download, error)
}

type Installer interface {
	Install(ctx context.Context, d catalog.Download) error
}

// Recorder counts attempts and fetches
type Recorder interface {
	RecordSessionAttempt()
	RecordDriverFetch()
}

// Notifier shows progress and failures to the user
type Notifier interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Report describes how a run went
type Report struct {
	Path      []State
	Attempts  int
	Fetched   bool
	Download  catalog.Download
	FinalMode session.Mode
}

type Orchestrator struct {
	Sessions  Bootstrapper
	Versions  VersionResolver
	Catalog   Catalog
	Installer Installer
	Recorder  Recorder
	Notifier  Notifier

	// RetryPause precedes the fallback to release mode
	RetryPause time.Duration
	Logger     *slog.Logger
}

type run struct {
	*Orchestrator
	cfg    session.Config
	report Report
	log    *slog.Logger
}

// Run returns an open session bundle, or a *FatalError once every recovery
// path is exhausted, or ErrInterrupted when ctx is cancelled. The browser
// version is resolved up front; if that fails the run still tries the
// installed driver and only a needed fetch turns the failure fatal.
func (o *Orchestrator) Run(ctx context.Context, cfg session.Config) (*session.Bundle, Report, error) {
	r := &run{Orchestrator: o, cfg: cfg, log: o.logger()}

	if cfg.TargetMajor == 0 && o.Versions != nil {
		if v, err := o.Versions.Resolve(ctx); err != nil {
			r.log.Warn("browser version unknown", "error", err)
		} else {
			r.cfg.TargetMajor = v
		}
	}

	state := AttemptDebug
	if cfg.Mode == session.Release {
		state = FallbackRelease
	}

	for {
		r.report.Path = append(r.report.Path, state)
		if ctx.Err() != nil {
			return r.interrupted()
		}

		switch state {
		case AttemptDebug, RetryDebug:
			bundle, err := r.attempt(ctx, session.Debug)
			switch {
			case err == nil:
				return r.success(bundle)
			case isInterrupt(ctx, err):
				return r.interrupted()
			case !errors.Is(err, session.ErrVersionMismatch):
				return r.abort(state, err)
			case state == AttemptDebug:
				r.notify().Warn("Driver is outdated, fetching a matching one ...")
				state = FetchBinary
			default:
				r.notify().Warn("Debug mode error! Falling back to release mode ...")
				if err := utils.Sleep(ctx, o.RetryPause); err != nil {
					return r.interrupted()
				}
				state = FallbackRelease
			}

		case FetchBinary:
			d, err := r.fetch(ctx)
			if isInterrupt(ctx, err) {
				return r.interrupted()
			}
			if err != nil {
				return r.abort(state, err)
			}
			r.report.Download = d
			state = ProcessBinary

		case ProcessBinary:
			r.notify().Info("Installing driver %s (%s) ...", r.report.Download.Version, r.report.Download.Platform)
			err := o.Installer.Install(ctx, r.report.Download)
			if isInterrupt(ctx, err) {
				return r.interrupted()
			}
			if err != nil {
				return r.abort(state, err)
			}
			r.report.Fetched = true
			state = RetryDebug

		case FallbackRelease:
			bundle, err := r.attempt(ctx, session.Release)
			switch {
			case err == nil:
				return r.success(bundle)
			case isInterrupt(ctx, err):
				return r.interrupted()
			default:
				return r.abort(state, err)
			}

		default:
			return r.abort(state, fmt.Errorf("unexpected state %s", state))
		}
	}
}

func (r *run) attempt(ctx context.Context, mode session.Mode) (*session.Bundle, error) {
	if r.report.Attempts >= MaxAttempts {
		return nil, fmt.Errorf("attempt limit of %d reached", MaxAttempts)
	}
	r.report.Attempts++
	r.report.FinalMode = mode
	if r.Recorder != nil {
		r.Recorder.RecordSessionAttempt()
	}

	cfg := r.cfg
	cfg.Mode = mode
	r.log.Info("session attempt", "attempt", r.report.Attempts, "mode", mode.String())
	return r.Sessions.Bootstrap(ctx, cfg)
}

func (r *run) fetch(ctx context.Context) (catalog.Download, error) {
	if r.Recorder != nil {
		r.Recorder.RecordDriverFetch()
	}
	if r.cfg.TargetMajor == 0 {
		if r.Versions == nil {
			return catalog.Download{}, version.ErrResolve
		}
		v, err := r.Versions.Resolve(ctx)
		if err != nil {
			return catalog.Download{}, err
		}
		r.cfg.TargetMajor = v
	}
	r.notify().Info("Fetching driver for browser version %d ...", int(r.cfg.TargetMajor))
	return r.Catalog.Resolve(ctx, r.cfg.TargetMajor)
}

func (r *run) success(b *session.Bundle) (*session.Bundle, Report, error) {
	r.report.Path = append(r.report.Path, Success)
	r.log.Info("session ready", "attempts", r.report.Attempts, "mode", r.report.FinalMode.String(), "fetched", r.report.Fetched)
	return b, r.report, nil
}

func (r *run) abort(at State, err error) (*session.Bundle, Report, error) {
	r.report.Path = append(r.report.Path, Abort)
	fatal := &FatalError{State: at, Err: err}
	r.log.Error("giving up", "state", at.String(), "error", err)
	r.notify().Error("Error! %v", err)
	return nil, r.report, fatal
}

func (r *run) interrupted() (*session.Bundle, Report, error) {
	r.report.Path = append(r.report.Path, Interrupted)
	r.notify().Warn("Interrupted by user.")
	return nil, r.report, ErrInterrupted
}

func isInterrupt(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return ctx.Err() != nil || errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) notify() Notifier {
	if o.Notifier != nil {
		return o.Notifier
	}
	return discard{}
}

type discard struct{}

func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
