package utils

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// HealthCheckConfig holds configuration for startup health checks
type HealthCheckConfig struct {
	CheckBrowser  bool
	CheckDriver   bool
	CheckManifest bool

	BrowserVersionArgv []string
	DriverPath         string
	ManifestURL        string
	Client             *http.Client
	Timeout            time.Duration
}

// HealthReport lists which checks failed. Failures are warnings: a missing
// driver is repaired by the fetch cycle and a missing browser surfaces at launch.
type HealthReport struct {
	Failures map[string]error
}

func (r HealthReport) OK() bool { return len(r.Failures) == 0 }

func (r HealthReport) Error() string {
	msg := ""
	for name, err := range r.Failures {
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %v", name, err)
	}
	return msg
}

// RunHealthChecks performs the configured startup checks and reports every
// failure rather than stopping at the first one
func RunHealthChecks(ctx context.Context, config HealthCheckConfig) HealthReport {
	report := HealthReport{Failures: map[string]error{}}

	if config.CheckBrowser {
		if err := CheckBrowserAvailability(ctx, config.BrowserVersionArgv, config.Timeout); err != nil {
			report.Failures["browser"] = err
		}
	}

	if config.CheckDriver {
		if err := CheckDriverBinary(config.DriverPath); err != nil {
			report.Failures["driver"] = err
		}
	}

	if config.CheckManifest {
		if err := CheckManifestReachable(ctx, config.Client, config.ManifestURL, config.Timeout); err != nil {
			report.Failures["manifest"] = err
		}
	}

	return report
}

// CheckBrowserAvailability checks that the browser answers its version query
func CheckBrowserAvailability(ctx context.Context, argv []string, timeout time.Duration) error {
	if len(argv) == 0 {
		return fmt.Errorf("no browser version command configured")
	}
	err := WithTimeout(ctx, timeout, func(ctx context.Context) error {
		return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
	})
	if err != nil {
		return fmt.Errorf("browser not available or not working: %v", err)
	}
	return nil
}

// CheckDriverBinary checks that a driver file is present at path
func CheckDriverBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("driver binary not found: %v", err)
	}
	if info.IsDir() {
		return fmt.Errorf("driver path %s is a directory", path)
	}
	return nil
}

// CheckManifestReachable issues a HEAD request for the manifest through the
// configured client, which exercises the proxy when one is set
func CheckManifestReachable(ctx context.Context, client *http.Client, manifestURL string, timeout time.Duration) error {
	if client == nil {
		client = http.DefaultClient
	}
	return WithTimeout(ctx, timeout, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("manifest unreachable: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("manifest request failed with status: %d", resp.StatusCode)
		}
		return nil
	})
}
