package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/tebeka/selenium"
)

// WebDriverOpener starts chromedriver from the installed binary and opens a
// WebDriver session through it
type WebDriverOpener struct {
	Fs     afero.Fs
	Client *http.Client
	Logger *slog.Logger
}

func NewWebDriverOpener(fs afero.Fs, logger *slog.Logger) *WebDriverOpener {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebDriverOpener{Fs: fs, Client: &http.Client{Timeout: 30 * time.Second}, Logger: logger}
}

func (o *WebDriverOpener) Open(ctx context.Context, cfg Config, opts Options) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok, _ := afero.Exists(o.Fs, cfg.BinaryPath); !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverMissing, cfg.BinaryPath)
	}

	if cfg.Variant == Stealth {
		n, err := PatchDriver(o.Fs, cfg.BinaryPath)
		if err != nil {
			return nil, fmt.Errorf("%w: patching driver: %v", ErrSession, err)
		}
		o.Logger.Debug("driver markers scrubbed", "replaced", n)
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}
	svc, err := selenium.NewChromeDriverService(cfg.BinaryPath, port, selenium.Output(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: starting chromedriver: %v", ErrSession, err)
	}

	caps := selenium.Capabilities{
		"browserName":        "chrome",
		"goog:chromeOptions": opts.ChromeOptions(),
	}
	base := fmt.Sprintf("http://localhost:%d/wd/hub", port)
	wd, err := selenium.NewRemote(caps, base)
	if err != nil {
		if stopErr := svc.Stop(); stopErr != nil {
			o.Logger.Debug("stopping chromedriver", "error", stopErr)
		}
		return nil, err
	}

	return &webDriverSession{wd: wd, svc: svc, base: base, client: o.Client}, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("no free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stopper is the part of *selenium.Service a session needs
type stopper interface {
	Stop() error
}

type webDriverSession struct {
	wd     selenium.WebDriver
	svc    stopper
	base   string
	client *http.Client
}

func (s *webDriverSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.wd.Get(url)
}

func (s *webDriverSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.wd.Title()
}

func (s *webDriverSession) Evaluate(ctx context.Context, expr string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.wd.ExecuteScript("return ("+expr+");", []any{})
}

// ExecuteCDP uses chromedriver's goog/cdp/execute extension, which the
// WebDriver client does not wrap
func (s *webDriverSession) ExecuteCDP(ctx context.Context, method string, params map[string]any) error {
	return executeCDP(ctx, s.client, s.base, s.wd.SessionID(), method, params)
}

func executeCDP(ctx context.Context, client *http.Client, base, sessionID, method string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{"cmd": method, "params": params})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/session/%s/goog/cdp/execute", base, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (s *webDriverSession) Close() error {
	err := s.wd.Quit()
	if stopErr := s.svc.Stop(); err == nil {
		err = stopErr
	}
	return err
}
