package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"autolite/internal/utils"
)

const (
	EnvPrefix = "AUTOLITE"

	DefaultManifestURL = "https://googlechromelabs.github.io/chrome-for-testing/known-good-versions-with-downloads.json"

	BinaryDefault    = "default"
	BinaryUndetected = "undetected"

	ModeDebug   = "debug"
	ModeRelease = "release"
)

// Config is read once at startup and passed down explicitly; nothing below
// cmd reads the environment.
type Config struct {
	Port       int    `envconfig:"PORT" default:"9001" validate:"min=1,max=65535"`
	Binary     string `envconfig:"BINARY" default:"default" validate:"oneof=default undetected"`
	Mode       string `envconfig:"MODE" default:"debug" validate:"oneof=debug release"`
	Headless   bool   `envconfig:"HEADLESS" default:"true"`
	LoadImages bool   `envconfig:"LOAD_IMAGES" default:"false"`
	Slave      bool   `envconfig:"SLAVE" default:"true"`

	// HomeDir holds .runtime/ and user/. Empty means the executable's directory.
	HomeDir     string `envconfig:"HOME_DIR"`
	ManifestURL string `envconfig:"MANIFEST_URL" default:"https://googlechromelabs.github.io/chrome-for-testing/known-good-versions-with-downloads.json" validate:"required"`
	SOCKS5Proxy string `envconfig:"SOCKS5_PROXY"`

	SettleDelay        time.Duration `envconfig:"SETTLE_DELAY" default:"1s" validate:"min=0"`
	ReadinessInterval  time.Duration `envconfig:"READINESS_INTERVAL" default:"2s" validate:"min=0"`
	ReadinessThreshold int           `envconfig:"READINESS_THRESHOLD" default:"7" validate:"min=1"`
	ReadinessSettle    time.Duration `envconfig:"READINESS_SETTLE" default:"3s" validate:"min=0"`
	WaitTimeout        time.Duration `envconfig:"WAIT_TIMEOUT" default:"30s" validate:"min=0"`
	RetryPause         time.Duration `envconfig:"RETRY_PAUSE" default:"3s" validate:"min=0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Timeouts utils.TimeoutConfig `ignored:"true"`
}

// Load reads AUTOLITE_* variables (SOCKS5_PROXY is also read unprefixed) and
// validates the result
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	cfg.Timeouts = utils.DefaultTimeoutConfig()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags plus the URL fields
func (c Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	if err := utils.ValidateURL(c.ManifestURL); err != nil {
		return fmt.Errorf("manifest URL: %w", err)
	}
	if err := utils.ValidateProxyURL(c.SOCKS5Proxy); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	return nil
}

// Debug reports whether the run starts against the locally installed driver
func (c Config) Debug() bool { return c.Mode == ModeDebug }

// Stealth reports whether the stealth session variant was selected
func (c Config) Stealth() bool { return c.Binary == BinaryUndetected }

// DriverBaseName is the canonical driver file name before OS suffixes
func (c Config) DriverBaseName() string {
	if c.Stealth() {
		return "undetected_chromedriver"
	}
	return "chromedriver"
}

// ResolveHome returns HomeDir or, when unset, the directory of the running executable
func (c Config) ResolveHome() (string, error) {
	if c.HomeDir != "" {
		return filepath.Abs(c.HomeDir)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

// Level maps LogLevel onto slog
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
