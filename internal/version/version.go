// Package version resolves the installed browser's major version.
package version

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var ErrResolve = errors.New("cannot resolve browser version")

// Version is the browser's major version, the only key used to match a driver
type Version int

func (v Version) String() string { return strconv.Itoa(int(v)) }

// Runner executes argv and returns its standard output
type Runner func(ctx context.Context, argv []string) ([]byte, error)

// ExecRunner runs argv with os/exec, discarding stderr
func ExecRunner(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

type Resolver struct {
	Argv    []string
	Run     Runner
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewResolver(argv []string, timeout time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Argv: argv, Run: ExecRunner, Timeout: timeout, Logger: logger}
}

// Resolve runs the version command and parses its output. Every failure is
// returned as ErrResolve; nothing here is fatal to the process.
func (r *Resolver) Resolve(ctx context.Context) (Version, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	out, err := r.Run(ctx, r.Argv)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrResolve, strings.Join(r.Argv, " "), err)
	}

	v, err := Parse(string(out))
	if err != nil {
		return 0, err
	}
	r.Logger.Debug("resolved browser version", "major", int(v), "output", strings.TrimSpace(string(out)))
	return v, nil
}

// Parse extracts the major version from version-command output. The first
// whitespace-delimited token whose leading dot-segment is an integer wins, so
// both "Google Chrome 108.0.5359.124" and "108.0.5359.124" yield 108. Taking
// the first token outright would fail on the "Google Chrome" prefix, and
// taking the last would fail on trailing words such as snap's
// "Chromium 120.0.6099.71 snap".
func Parse(output string) (Version, error) {
	for _, tok := range strings.Fields(output) {
		head, _, _ := strings.Cut(tok, ".")
		n, err := strconv.Atoi(head)
		if err != nil || n <= 0 {
			continue
		}
		return Version(n), nil
	}
	return 0, fmt.Errorf("%w: unparsable output %q", ErrResolve, strings.TrimSpace(output))
}

// MajorOf returns the leading integer of a dotted version string
func MajorOf(dotted string) (Version, bool) {
	head, _, _ := strings.Cut(strings.TrimSpace(dotted), ".")
	n, err := strconv.Atoi(head)
	if err != nil || n <= 0 {
		return 0, false
	}
	return Version(n), true
}
