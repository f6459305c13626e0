// Package session opens a controlled browser session and hands back the
// session together with its wait and action helpers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrVersionMismatch means the driver cannot drive the installed browser;
	// fetching a matching driver may fix it
	ErrVersionMismatch = errors.New("driver does not match browser version")
	ErrSession         = errors.New("session error")

	ErrDriverMissing = errors.New("driver binary not installed")
)

// Session is an open control session on one page
type Session interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression in the page and returns its value
	Evaluate(ctx context.Context, expr string) (any, error)
	// ExecuteCDP sends a raw DevTools command
	ExecuteCDP(ctx context.Context, method string, params map[string]any) error
	Close() error
}

// Opener starts a session with a particular driver
type Opener interface {
	Open(ctx context.Context, cfg Config, opts Options) (Session, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, cfg Config, opts Options) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, cfg Config, opts Options) (Session, error) {
	return f(ctx, cfg, opts)
}

// Bundle is what a successful bootstrap hands to page handlers
type Bundle struct {
	Session Session
	Waiter  *Waiter
	Actions *Actions
}

// Close ends the session
func (b *Bundle) Close() error { return b.Session.Close() }

type Bootstrapper struct {
	// Debug opens sessions through the local driver binary, Release through
	// the managed driver
	Debug   Opener
	Release Opener
	Logger  *slog.Logger
}

func NewBootstrapper(debug, release Opener, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{Debug: debug, Release: release, Logger: logger}
}

// Bootstrap opens a session for cfg. A successful session has had
// navigator.webdriver masked (unless attached to a running browser) and any
// headless marker removed from its user agent before it is returned.
func (b *Bootstrapper) Bootstrap(ctx context.Context, cfg Config) (*Bundle, error) {
	cfg = cfg.normalized()
	opts := BuildOptions(cfg)

	opener := b.Debug
	if cfg.Mode == Release {
		opener = b.Release
	}
	if opener == nil {
		return nil, fmt.Errorf("%w: no driver for %s mode", ErrSession, cfg.Mode)
	}

	log := b.Logger.With("mode", cfg.Mode.String(), "variant", cfg.Variant.String())
	log.Info("spawning session", "slave", cfg.Slave, "headless", cfg.Headless)

	sess, err := opener.Open(ctx, cfg, opts)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrVersionMismatch) {
			log.Warn("driver is outdated", "error", err)
		}
		return nil, err
	}

	if err := prepare(ctx, sess, cfg, log); err != nil {
		if cerr := sess.Close(); cerr != nil {
			log.Debug("closing failed session", "error", cerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}

	return &Bundle{
		Session: sess,
		Waiter:  NewWaiter(sess, cfg.WaitTimeout),
		Actions: NewActions(sess),
	}, nil
}

func prepare(ctx context.Context, sess Session, cfg Config, log *slog.Logger) error {
	if !cfg.Slave {
		if _, err := sess.Evaluate(ctx, "Object.defineProperty(navigator, 'webdriver', {get: () => undefined})"); err != nil {
			return fmt.Errorf("masking navigator.webdriver: %w", err)
		}
	}

	raw, err := sess.Evaluate(ctx, "navigator.userAgent")
	if err != nil {
		return fmt.Errorf("reading user agent: %w", err)
	}
	ua, _ := raw.(string)
	fixed, changed := NormalizeUserAgent(ua)
	if !changed {
		return nil
	}
	if err := sess.ExecuteCDP(ctx, "Network.setUserAgentOverride", map[string]any{"userAgent": fixed}); err != nil {
		return fmt.Errorf("overriding user agent: %w", err)
	}
	log.Debug("user agent overridden", "user_agent", fixed)
	return nil
}

// classify maps driver errors onto ErrVersionMismatch or ErrSession
func classify(err error) error {
	switch {
	case errors.Is(err, ErrVersionMismatch), errors.Is(err, ErrSession):
		return err
	case errors.Is(err, ErrDriverMissing), IsSessionNotCreated(err):
		return fmt.Errorf("%w: %w", ErrVersionMismatch, err)
	}
	return fmt.Errorf("%w: %w", ErrSession, err)
}

// IsSessionNotCreated reports whether err is the driver's refusal to start a
// session, which chromedriver answers when the browser version is unsupported
func IsSessionNotCreated(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "session not created")
}
