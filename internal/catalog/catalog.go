// Package catalog resolves chromedriver downloads from the chrome-for-testing
// version manifest.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/tidwall/gjson"

	"autolite/internal/utils"
	"autolite/internal/version"
)

var (
	ErrNotFound           = errors.New("driver download not found")
	ErrManifestFetch      = fmt.Errorf("%w: manifest fetch failed", ErrNotFound)
	ErrNoMatchingDownload = fmt.Errorf("%w: no matching version/platform", ErrNotFound)
)

// DriverName is the key under downloads.* holding driver archives
const DriverName = "chromedriver"

// maxManifestSize bounds the manifest read; the real file is a few MB
const maxManifestSize = 64 << 20

// Download describes one driver archive
type Download struct {
	Version  string // full dotted version of the manifest entry
	Major    version.Version
	Platform string
	URL      string
}

// FileName is the archive's file name as served, e.g. chromedriver-linux64.zip
func (d Download) FileName() string {
	return path.Base(d.URL)
}

type Catalog struct {
	URL      string
	Platform string
	Client   *http.Client
	Timeout  time.Duration
	// Retry applies to transport failures and 5xx answers; the zero value
	// fetches once
	Retry    utils.RetryConfig
	Logger   *slog.Logger
}

// errTransient marks fetch failures a retry may cure
var errTransient = errors.New("transient")

func New(manifestURL, platformTag string, client *http.Client, timeout time.Duration, logger *slog.Logger) *Catalog {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		URL:      manifestURL,
		Platform: platformTag,
		Client:   client,
		Timeout:  timeout,
		Logger:   logger,
	}
}

// Resolve fetches the manifest and selects the download for major on this
// catalog's platform
func (c *Catalog) Resolve(ctx context.Context, major version.Version) (Download, error) {
	body, err := c.fetch(ctx)
	if err != nil {
		return Download{}, err
	}
	d, err := Select(body, major, c.Platform)
	if err != nil {
		c.Logger.Warn("no driver download", "major", int(major), "platform", c.Platform, "error", err)
		return Download{}, err
	}
	c.Logger.Info("resolved driver download", "version", d.Version, "platform", d.Platform, "url", d.URL)
	return d, nil
}

func (c *Catalog) fetch(ctx context.Context) ([]byte, error) {
	policy := c.Retry
	policy.Retryable = func(err error) bool {
		return errors.Is(err, errTransient) && ctx.Err() == nil
	}

	var body []byte
	err := utils.WithRetryConfig(ctx, c.Logger, policy, func(ctx context.Context) error {
		var err error
		body, err = c.fetchOnce(ctx)
		return err
	})
	return body, err
}

func (c *Catalog) fetchOnce(ctx context.Context) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestFetch, err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrManifestFetch, errTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %w: status %d", ErrManifestFetch, errTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrManifestFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrManifestFetch, err)
	}
	return body, nil
}

// Select picks the first manifest entry whose major version equals major and
// returns its download for platform. Entries are taken in manifest order; a
// later entry with a higher minor/patch never wins over an earlier match, and
// a first match without the platform is not followed by further searching.
func Select(manifest []byte, major version.Version, platform string) (Download, error) {
	if !gjson.ValidBytes(manifest) {
		return Download{}, fmt.Errorf("%w: malformed JSON", ErrManifestFetch)
	}
	versions := gjson.GetBytes(manifest, "versions")
	if !versions.IsArray() {
		return Download{}, fmt.Errorf("%w: missing versions array", ErrManifestFetch)
	}

	var entry gjson.Result
	found := false
	versions.ForEach(func(_, v gjson.Result) bool {
		m, ok := version.MajorOf(v.Get("version").String())
		if ok && m == major {
			entry, found = v, true
			return false
		}
		return true
	})
	if !found {
		return Download{}, fmt.Errorf("%w: no entry for major %d", ErrNoMatchingDownload, major)
	}

	var d Download
	entry.Get("downloads." + DriverName).ForEach(func(_, rec gjson.Result) bool {
		if rec.Get("platform").String() == platform {
			d = Download{
				Version:  entry.Get("version").String(),
				Major:    major,
				Platform: platform,
				URL:      rec.Get("url").String(),
			}
			return false
		}
		return true
	})
	if d.URL == "" {
		return Download{}, fmt.Errorf("%w: %s has no %s download", ErrNoMatchingDownload, entry.Get("version").String(), platform)
	}
	return d, nil
}
