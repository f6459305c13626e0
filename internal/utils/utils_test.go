package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		shouldError bool
	}{
		{"Valid HTTPS URL", "https://googlechromelabs.github.io/chrome-for-testing/x.json", false},
		{"Loopback mirror", "http://127.0.0.1:8080/manifest.json", false},
		{"Empty URL", "", true},
		{"File scheme", "file:///etc/passwd", true},
		{"Missing host", "https://", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateProxyURL(t *testing.T) {
	assert.NoError(t, ValidateProxyURL(""))
	assert.NoError(t, ValidateProxyURL("socks5://localhost:1080"))
	assert.Error(t, ValidateProxyURL("ftp://localhost:21"))
	assert.Error(t, ValidateProxyURL("socks5://"))
}

func TestValidateStructMessage(t *testing.T) {
	type sample struct {
		Mode string `validate:"oneof=debug release"`
	}
	err := ValidateStruct(sample{Mode: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mode must satisfy oneof=debug release")
	assert.NoError(t, ValidateStruct(sample{Mode: "debug"}))
}

func TestNewHTTPClientProxies(t *testing.T) {
	c, err := NewHTTPClient("", 0)
	require.NoError(t, err)
	assert.NotNil(t, c.Transport)

	_, err = NewHTTPClient("socks5://localhost:1080", time.Second)
	assert.NoError(t, err)

	_, err = NewHTTPClient("bogus://localhost:1080", time.Second)
	assert.Error(t, err)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestRunHealthChecks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	driver := filepath.Join(dir, "chromedriver")
	require.NoError(t, os.WriteFile(driver, []byte("bin"), 0o755))

	report := RunHealthChecks(context.Background(), HealthCheckConfig{
		CheckDriver:   true,
		CheckManifest: true,
		DriverPath:    driver,
		ManifestURL:   srv.URL,
		Client:        srv.Client(),
		Timeout:       time.Second,
	})
	assert.True(t, report.OK(), report.Error())

	report = RunHealthChecks(context.Background(), HealthCheckConfig{
		CheckDriver:  true,
		CheckBrowser: true,
		DriverPath:   filepath.Join(dir, "missing"),
		Timeout:      time.Second,
	})
	assert.False(t, report.OK())
	assert.Contains(t, report.Failures, "driver")
	assert.Contains(t, report.Failures, "browser")
}

func TestWithRetryConfig(t *testing.T) {
	fast := RetryConfig{MaxRetries: 3, BackoffType: FixedBackoff, InitialDelay: time.Millisecond}

	calls := 0
	err := WithRetryConfig(context.Background(), nil, fast, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := errors.New("boom")
	err = WithRetryConfig(context.Background(), nil, fast, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "max retries (3)")
	assert.Equal(t, 3, calls)

	calls = 0
	fast.Retryable = func(error) bool { return false }
	err = WithRetryConfig(context.Background(), nil, fast, func(context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoff(t *testing.T) {
	exp := RetryConfig{BackoffType: ExponentialBackoff, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2}
	assert.Equal(t, time.Second, calculateBackoff(1, exp))
	assert.Equal(t, 4*time.Second, calculateBackoff(3, exp))
	assert.Equal(t, 5*time.Second, calculateBackoff(4, exp))

	lin := RetryConfig{BackoffType: LinearBackoff, InitialDelay: time.Second}
	assert.Equal(t, 3*time.Second, calculateBackoff(3, lin))
}
