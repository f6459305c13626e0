// Package workspace tidies the runtime and user directories between runs.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const driverLogName = "driver.log"

// KeepExtensions are the finished-download suffixes moved to backup; anything
// else left in temp is an aborted download
var KeepExtensions = []string{".xlsx", ".xls"}

type Workspace struct {
	Fs     afero.Fs
	Logger *slog.Logger
}

func New(fs afero.Fs, logger *slog.Logger) *Workspace {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{Fs: fs, Logger: logger}
}

// CleanDriverLogs removes driver.log files left by earlier runs directly
// inside dirs. Missing directories are skipped.
func (w *Workspace) CleanDriverLogs(dirs ...string) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range dirs {
		path := filepath.Join(dir, driverLogName)
		err := w.Fs.Remove(path)
		switch {
		case err == nil:
			removed++
			w.Logger.Debug("removed stale driver log", "path", path)
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}
	return removed, errors.Join(errs...)
}

// Result counts what Tidy did
type Result struct {
	Removed  int
	BackedUp int
}

// Tidy empties tempDir: finished downloads move into backupDir, everything
// else is deleted. Subdirectories are left alone.
func (w *Workspace) Tidy(tempDir, backupDir string) (Result, error) {
	var res Result
	entries, err := afero.ReadDir(w.Fs, tempDir)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("reading %s: %w", tempDir, err)
	}
	if err := w.Fs.MkdirAll(backupDir, 0o755); err != nil {
		return res, fmt.Errorf("creating %s: %w", backupDir, err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(tempDir, e.Name())
		if keep(e.Name()) {
			if err := w.Fs.Rename(src, filepath.Join(backupDir, e.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			res.BackedUp++
			continue
		}
		if err := w.Fs.Remove(src); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Removed++
	}
	if res.Removed+res.BackedUp > 0 {
		w.Logger.Info("tidied temp folder", "removed", res.Removed, "backed_up", res.BackedUp)
	}
	return res, errors.Join(errs...)
}

func keep(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, k := range KeepExtensions {
		if ext == k {
			return true
		}
	}
	return false
}
