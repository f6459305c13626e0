package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectTags(t *testing.T) {
	tests := []struct {
		goos, goarch string
		tag          string
	}{
		{"linux", "amd64", "linux64"},
		{"darwin", "arm64", "mac-arm64"},
		{"darwin", "amd64", "mac-x64"},
		{"windows", "amd64", "win64"},
		{"windows", "386", "win32"},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			p, err := Detect(tt.goos, tt.goarch)
			require.NoError(t, err)
			assert.Equal(t, tt.tag, p.Tag())
		})
	}
}

func TestDetectUnsupported(t *testing.T) {
	_, err := Detect("plan9", "amd64")
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestLaunchArgv(t *testing.T) {
	p, err := Detect("linux", "amd64")
	require.NoError(t, err)

	argv := p.LaunchArgv(LaunchOptions{ProfileDir: "/tmp/profile dir", Headless: true, Port: 9001})
	assert.Equal(t, []string{
		"google-chrome",
		"--remote-debugging-port=9001",
		"--user-data-dir=/tmp/profile dir",
		"--headless=new",
		"--no-first-run",
		"--start-maximized",
	}, argv)

	argv = p.LaunchArgv(LaunchOptions{ProfileDir: "/p"})
	assert.Equal(t, []string{"google-chrome", "--user-data-dir=/p", "--no-first-run", "--start-maximized"}, argv)
}

func TestWindowsCommands(t *testing.T) {
	p, err := Detect("windows", "amd64")
	require.NoError(t, err)

	assert.Equal(t, "chromedriver.exe", p.DriverFileName("chromedriver"))
	assert.False(t, p.NeedsExecBit())
	argv := p.VersionArgv()
	require.Len(t, argv, 4)
	assert.Equal(t, "powershell", argv[0])
	assert.Contains(t, argv[3], `chrome.exe').VersionInfo.ProductVersion`)
	assert.Equal(t, p.BrowserPath(), p.LaunchArgv(LaunchOptions{ProfileDir: `C:\p`})[0])
}

func TestCountProcesses(t *testing.T) {
	p, _ := Detect("linux", "amd64")
	out := []byte("101 chrome\n102 chrome\n103 chrome_crashpad\n104 bash\n")
	assert.Equal(t, 3, p.CountProcesses(out))
	assert.Equal(t, 0, p.CountProcesses(nil))

	w, _ := Detect("windows", "amd64")
	out = []byte("\"chrome.exe\",\"1200\",\"Console\",\"1\",\"120,000 K\"\r\n\"chrome.exe\",\"1204\",\"Console\",\"1\",\"20,000 K\"\r\n")
	assert.Equal(t, 2, w.CountProcesses(out))
	assert.Equal(t, 0, w.CountProcesses([]byte("INFO: No tasks are running which match the specified criteria.\r\n")))
}
