package session

import (
	"strconv"
	"time"

	"autolite/internal/version"
)

// Variant selects the anti-detection flag set
type Variant int

const (
	Standard Variant = iota
	Stealth
)

func (v Variant) String() string {
	if v == Stealth {
		return "stealth"
	}
	return "standard"
}

// Mode selects the driver: debug uses the locally installed chromedriver,
// release uses the managed playwright driver
type Mode int

const (
	Debug Mode = iota
	Release
)

func (m Mode) String() string {
	if m == Release {
		return "release"
	}
	return "debug"
}

// Config is fixed for one session attempt
type Config struct {
	Headless   bool
	LoadImages bool
	// Slave attaches to a browser already listening on Port instead of
	// letting the driver start one
	Slave bool
	Port  int

	Variant     Variant
	Mode        Mode
	TargetMajor version.Version
	BinaryPath  string
	ProfileDir  string

	WaitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Headless:    true,
		Slave:       true,
		Port:        9000,
		WaitTimeout: 30 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.Slave {
		c.Headless = true
	}
	return c
}

// Options is the browser option set handed to a driver
type Options struct {
	Args                   []string
	ExcludeSwitches        []string
	UseAutomationExtension *bool
	DebuggerAddress        string
}

var fingerprintArgs = []string{
	"--enforce-webrtc-ip-permission-check",
	"--webrtc-ip-handling-policy=disable_non_proxied_udp",
	"--force-webrtc-ip-handling-policy",
	"--use-fake-ui-for-media-stream",
	"--use-fake-device-for-media-stream",
	"--disable-media-session-api",
}

// BuildOptions layers the options in a fixed order: window, headless,
// images, debugging port, fingerprint flags, then the variant's flags
func BuildOptions(c Config) Options {
	c = c.normalized()

	var o Options
	o.Args = append(o.Args, "--start-maximized")
	if c.Headless {
		o.Args = append(o.Args, "--headless=new")
	}
	if !c.LoadImages {
		o.Args = append(o.Args, "--blink-settings=imagesEnabled=false")
	}
	if c.Slave {
		o.Args = append(o.Args, "--remote-debugging-port="+strconv.Itoa(c.Port))
		o.DebuggerAddress = "127.0.0.1:" + strconv.Itoa(c.Port)
	}
	o.Args = append(o.Args, fingerprintArgs...)

	switch c.Variant {
	case Stealth:
		o.Args = append(o.Args, "--disable-gpu")
	default:
		o.Args = append(o.Args, "--disable-blink-features=AutomationControlled")
		o.ExcludeSwitches = []string{"enable-automation"}
		off := false
		o.UseAutomationExtension = &off
	}
	return o
}

// ChromeOptions renders o as a goog:chromeOptions capability. Attaching to a
// running browser rejects excludeSwitches and useAutomationExtension, so they
// are left out when DebuggerAddress is set.
func (o Options) ChromeOptions() map[string]any {
	m := map[string]any{"args": o.Args}
	if o.DebuggerAddress != "" {
		m["debuggerAddress"] = o.DebuggerAddress
		return m
	}
	if len(o.ExcludeSwitches) > 0 {
		m["excludeSwitches"] = o.ExcludeSwitches
	}
	if o.UseAutomationExtension != nil {
		m["useAutomationExtension"] = *o.UseAutomationExtension
	}
	return m
}
