// Package browsermgr opens release-mode sessions through the managed
// playwright driver, which needs no locally installed chromedriver.
package browsermgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"

	"autolite/internal/session"
)

var errNoContext = errors.New("browser exposes no context")

type Manager struct {
	runOpts *playwright.RunOptions
	logger  *slog.Logger

	mu       sync.Mutex
	open     map[*pwSession]struct{}
	launches atomic.Int64
}

func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		// only the driver is managed; the browser is the installed Chrome
		runOpts: &playwright.RunOptions{SkipInstallBrowsers: true, Verbose: false},
		logger:  logger,
		open:    make(map[*pwSession]struct{}),
	}
}

// Open starts the playwright driver, installing it on first use, and either
// attaches to the browser on cfg.Port or launches a persistent context on
// cfg.ProfileDir
func (m *Manager) Open(ctx context.Context, cfg session.Config, opts session.Options) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.logger.Info("fetching release driver, please wait")
	if err := playwright.Install(m.runOpts); err != nil {
		return nil, fmt.Errorf("%w: installing playwright driver: %v", session.ErrSession, err)
	}
	pw, err := playwright.Run(m.runOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: starting playwright: %v", session.ErrSession, err)
	}
	m.launches.Add(1)

	s := &pwSession{pw: pw, manager: m}
	if cfg.Slave {
		err = s.attach(cfg.Port)
	} else {
		err = s.launch(cfg, opts)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", session.ErrSession, err)
	}

	s.bctx.On("close", func() {
		m.logger.Warn("browser context closed")
	})

	m.mu.Lock()
	m.open[s] = struct{}{}
	m.mu.Unlock()
	m.logger.Info("release session ready", "slave", cfg.Slave)
	return s, nil
}

// OpenSessions returns how many sessions have not been closed yet
func (m *Manager) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Close closes every session still open
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*pwSession, 0, len(m.open))
	for s := range m.open {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Debug("closing release session", "error", err)
		}
	}
	m.logger.Debug("release driver closed", "launches", m.launches.Load())
}

func (m *Manager) forget(s *pwSession) {
	m.mu.Lock()
	delete(m.open, s)
	m.mu.Unlock()
}

// CDPEndpoint is the DevTools HTTP endpoint of a browser started with
// --remote-debugging-port=port
func CDPEndpoint(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// PersistentContextOptions maps the session options onto a persistent
// playwright launch. Excluded switches become ignored default args.
func PersistentContextOptions(cfg session.Config, opts session.Options) playwright.BrowserTypeLaunchPersistentContextOptions {
	var ignore []string
	for _, sw := range opts.ExcludeSwitches {
		ignore = append(ignore, "--"+strings.TrimPrefix(sw, "--"))
	}
	return playwright.BrowserTypeLaunchPersistentContextOptions{
		Channel:           playwright.String("chrome"),
		Headless:          playwright.Bool(cfg.Headless),
		Args:              opts.Args,
		IgnoreDefaultArgs: ignore,
		NoViewport:        playwright.Bool(true),
	}
}

type pwSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser // nil for persistent contexts
	bctx    playwright.BrowserContext
	page    playwright.Page
	cdp     playwright.CDPSession
	manager *Manager

	closeOnce sync.Once
	closeErr  error
}

func (s *pwSession) attach(port int) error {
	br, err := s.pw.Chromium.ConnectOverCDP(CDPEndpoint(port))
	if err != nil {
		return fmt.Errorf("connecting over CDP: %w", err)
	}
	s.browser = br

	contexts := br.Contexts()
	if len(contexts) == 0 {
		return errNoContext
	}
	s.bctx = contexts[0]
	if pages := s.bctx.Pages(); len(pages) > 0 {
		s.page = pages[0]
		return nil
	}
	s.page, err = s.bctx.NewPage()
	return err
}

func (s *pwSession) launch(cfg session.Config, opts session.Options) error {
	bctx, err := s.pw.Chromium.LaunchPersistentContext(cfg.ProfileDir, PersistentContextOptions(cfg, opts))
	if err != nil {
		return fmt.Errorf("launching persistent context: %w", err)
	}
	s.bctx = bctx
	if pages := bctx.Pages(); len(pages) > 0 {
		s.page = pages[0]
		return nil
	}
	s.page, err = bctx.NewPage()
	return err
}

func (s *pwSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url)
	return err
}

func (s *pwSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.Title()
}

func (s *pwSession) Evaluate(ctx context.Context, expr string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.page.Evaluate(expr)
}

// ExecuteCDP sends method over a DevTools session bound to the page. The
// session is kept for the page's lifetime; overrides end when it detaches.
func (s *pwSession) ExecuteCDP(ctx context.Context, method string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cdp == nil {
		cdp, err := s.bctx.NewCDPSession(s.page)
		if err != nil {
			return fmt.Errorf("opening CDP session: %w", err)
		}
		s.cdp = cdp
	}
	_, err := s.cdp.Send(method, params)
	return err
}

// Close detaches from an attached browser without closing it, and closes
// a launched persistent context. The playwright driver is always stopped.
func (s *pwSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.cdp != nil {
			errs = append(errs, s.cdp.Detach())
		}
		if s.browser == nil && s.bctx != nil {
			errs = append(errs, s.bctx.Close())
		}
		errs = append(errs, s.pw.Stop())
		s.closeErr = errors.Join(errs...)
		s.manager.forget(s)
	})
	return s.closeErr
}
