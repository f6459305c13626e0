package config

import (
	"fmt"
	"os"
	"path/filepath"

	"autolite/internal/platform"
)

// Paths is the on-disk layout of one installation. The driver binary and the
// profile directory are process-wide singletons; concurrent runs against the
// same Home are unsupported.
type Paths struct {
	Home string

	// RuntimeDir is the hidden working directory for the driver and the profile
	RuntimeDir string
	ProfileDir string
	BinaryPath string

	UserDir   string
	LogFile   string
	TempDir   string
	BackupDir string
}

// NewPaths derives every path from home
func NewPaths(home string, p platform.Platform, driverBase string) Paths {
	runtimeDir := filepath.Join(home, ".runtime")
	userDir := filepath.Join(home, "user")
	return Paths{
		Home:       home,
		RuntimeDir: runtimeDir,
		ProfileDir: filepath.Join(runtimeDir, "chromecache"),
		BinaryPath: filepath.Join(runtimeDir, p.DriverFileName(driverBase)),
		UserDir:    userDir,
		LogFile:    filepath.Join(userDir, ".log"),
		TempDir:    filepath.Join(userDir, "temp"),
		BackupDir:  filepath.Join(userDir, "backup"),
	}
}

// Ensure creates the directories and the log file. The profile directory is
// left alone: its absence marks a first run.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.RuntimeDir, p.UserDir, p.TempDir, p.BackupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(p.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	return f.Close()
}
