package platform

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

var ErrUnsupported = errors.New("platform not supported")

// LaunchOptions are the parts of the browser command line that vary per run
type LaunchOptions struct {
	ProfileDir string
	Headless   bool
	Port       int
}

// Platform builds the structured commands used to query, launch and count the
// browser on one operating system. Commands are argument vectors, never shell
// strings.
type Platform interface {
	OS() string
	// Tag is the chrome-for-testing platform tag, e.g. "linux64"
	Tag() string
	BrowserPath() string
	BrowserProcessName() string
	// DriverFileName turns a binary base name into the on-disk file name
	DriverFileName(base string) string
	// NeedsExecBit reports whether installed binaries need chmod +x
	NeedsExecBit() bool
	VersionArgv() []string
	LaunchArgv(opts LaunchOptions) []string
	ProcessListArgv() []string
	CountProcesses(out []byte) int
}

// Current returns the Platform for the running OS and architecture
func Current() (Platform, error) {
	return Detect(runtime.GOOS, runtime.GOARCH)
}

// Detect returns the Platform for the given GOOS/GOARCH pair
func Detect(goos, goarch string) (Platform, error) {
	switch goos {
	case "linux":
		return linux{}, nil
	case "darwin":
		return darwin{arm: goarch == "arm64"}, nil
	case "windows":
		return windows{is32: goarch == "386"}, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, goos, goarch)
}

// chromeArgs is the flag layout shared by every OS; only the executable differs.
func chromeArgs(opts LaunchOptions) []string {
	var args []string
	if opts.Port > 0 {
		args = append(args, "--remote-debugging-port="+strconv.Itoa(opts.Port))
	}
	args = append(args, "--user-data-dir="+opts.ProfileDir)
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	return append(args, "--no-first-run", "--start-maximized")
}

// countLines counts output lines mentioning name, case-insensitively
func countLines(out []byte, name string) int {
	name = strings.ToLower(name)
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.Contains(strings.ToLower(sc.Text()), name) {
			n++
		}
	}
	return n
}

type linux struct{}

func (linux) OS() string                        { return "linux" }
func (linux) Tag() string                       { return "linux64" }
func (linux) BrowserPath() string               { return "google-chrome" }
func (linux) BrowserProcessName() string        { return "chrome" }
func (linux) DriverFileName(base string) string { return base }
func (linux) NeedsExecBit() bool                { return true }

func (l linux) VersionArgv() []string {
	return []string{l.BrowserPath(), "--version"}
}

func (l linux) LaunchArgv(opts LaunchOptions) []string {
	return append([]string{l.BrowserPath()}, chromeArgs(opts)...)
}

// pgrep -l prints "pid name" so the name filter below still applies
func (l linux) ProcessListArgv() []string {
	return []string{"pgrep", "-il", l.BrowserProcessName()}
}

func (l linux) CountProcesses(out []byte) int {
	return countLines(out, l.BrowserProcessName())
}

type darwin struct {
	arm bool
}

func (darwin) OS() string { return "darwin" }

func (d darwin) Tag() string {
	if d.arm {
		return "mac-arm64"
	}
	return "mac-x64"
}

func (darwin) BrowserPath() string {
	return "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
}

func (darwin) BrowserProcessName() string        { return "chrome" }
func (darwin) DriverFileName(base string) string { return base }
func (darwin) NeedsExecBit() bool                { return true }

func (d darwin) VersionArgv() []string {
	return []string{d.BrowserPath(), "--version"}
}

func (d darwin) LaunchArgv(opts LaunchOptions) []string {
	return append([]string{d.BrowserPath()}, chromeArgs(opts)...)
}

func (d darwin) ProcessListArgv() []string {
	return []string{"pgrep", "-il", d.BrowserProcessName()}
}

func (d darwin) CountProcesses(out []byte) int {
	return countLines(out, d.BrowserProcessName())
}

type windows struct {
	is32 bool
}

func (windows) OS() string { return "windows" }

func (w windows) Tag() string {
	if w.is32 {
		return "win32"
	}
	return "win64"
}

func (windows) BrowserPath() string {
	return `C:\Program Files\Google\Chrome\Application\chrome.exe`
}

func (windows) BrowserProcessName() string        { return "chrome.exe" }
func (windows) DriverFileName(base string) string { return base + ".exe" }
func (windows) NeedsExecBit() bool                { return false }

func (w windows) VersionArgv() []string {
	script := fmt.Sprintf("(Get-Item '%s').VersionInfo.ProductVersion", w.BrowserPath())
	return []string{"powershell", "-NoProfile", "-Command", script}
}

func (w windows) LaunchArgv(opts LaunchOptions) []string {
	return append([]string{w.BrowserPath()}, chromeArgs(opts)...)
}

func (w windows) ProcessListArgv() []string {
	return []string{"tasklist", "/FI", "IMAGENAME eq " + w.BrowserProcessName(), "/FO", "CSV", "/NH"}
}

func (w windows) CountProcesses(out []byte) int {
	return countLines(out, w.BrowserProcessName())
}
