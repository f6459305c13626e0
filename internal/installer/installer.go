// Package installer replaces the local driver binary with a freshly
// downloaded archive.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"autolite/internal/catalog"
	"autolite/internal/utils"
)

var (
	ErrDownload = errors.New("driver download failed")
	ErrInstall  = errors.New("driver install failed")
)

// archiveDriverName is the driver file name inside every archive, before OS
// suffixes; it stays the same whatever the installed file is called
const archiveDriverName = "chromedriver"

// Target names where the driver lives and how it must look on disk
type Target struct {
	RuntimeDir string
	BinaryPath string
	// DriverFileName maps archiveDriverName onto this OS's file name
	DriverFileName func(base string) string
	NeedsExecBit   bool
}

type Installer struct {
	Fs     afero.Fs
	Client *http.Client
	Target Target

	// SettleDelay follows every filesystem mutation; some filesystems and
	// antivirus hooks lag behind renames and deletes
	SettleDelay time.Duration
	Timeout     time.Duration
	Logger      *slog.Logger
}

func New(fs afero.Fs, client *http.Client, target Target, settle, timeout time.Duration, logger *slog.Logger) *Installer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if target.DriverFileName == nil {
		target.DriverFileName = func(base string) string { return base }
	}
	return &Installer{
		Fs:          fs,
		Client:      client,
		Target:      target,
		SettleDelay: settle,
		Timeout:     timeout,
		Logger:      logger,
	}
}

// Install removes the current binary, downloads d, and leaves only the new
// binary at Target.BinaryPath. Running it twice for the same download leaves
// the same single file behind.
func (i *Installer) Install(ctx context.Context, d catalog.Download) error {
	log := i.Logger.With("version", d.Version, "platform", d.Platform)
	log.Info("installing driver", "url", d.URL, "target", i.Target.BinaryPath)

	if err := i.Fs.MkdirAll(i.Target.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating runtime dir: %v", ErrInstall, err)
	}

	if err := i.removeIfExists(i.Target.BinaryPath); err != nil {
		return fmt.Errorf("%w: removing old binary: %v", ErrInstall, err)
	}
	if err := i.settle(ctx); err != nil {
		return err
	}

	archive := filepath.Join(i.Target.RuntimeDir, d.FileName())
	if err := i.download(ctx, d.URL, archive); err != nil {
		return err
	}
	if err := i.settle(ctx); err != nil {
		return err
	}

	if err := extract(i.Fs, archive, i.Target.RuntimeDir); err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	if err := i.settle(ctx); err != nil {
		return err
	}

	stem := strings.TrimSuffix(d.FileName(), filepath.Ext(d.FileName()))
	subdir := filepath.Join(i.Target.RuntimeDir, stem)
	inner := filepath.Join(subdir, i.Target.DriverFileName(archiveDriverName))
	if err := i.Fs.Rename(inner, i.Target.BinaryPath); err != nil {
		return fmt.Errorf("%w: moving %s into place: %v", ErrInstall, inner, err)
	}
	if err := i.settle(ctx); err != nil {
		return err
	}

	if err := i.Fs.RemoveAll(subdir); err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrInstall, subdir, err)
	}
	if err := i.Fs.Remove(archive); err != nil {
		return fmt.Errorf("%w: removing archive: %v", ErrInstall, err)
	}
	if err := i.settle(ctx); err != nil {
		return err
	}

	if i.Target.NeedsExecBit {
		info, err := i.Fs.Stat(i.Target.BinaryPath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInstall, err)
		}
		if err := i.Fs.Chmod(i.Target.BinaryPath, info.Mode().Perm()|0o111); err != nil {
			return fmt.Errorf("%w: chmod: %v", ErrInstall, err)
		}
	}

	log.Info("driver installed", "path", i.Target.BinaryPath)
	return nil
}

func (i *Installer) download(ctx context.Context, url, dest string) error {
	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	err := i.fetchTo(ctx, url, dest)
	if err == nil {
		return nil
	}

	// keep the partial file around under a name nothing else will pick up
	if _, statErr := i.Fs.Stat(dest); statErr == nil {
		if renameErr := i.Fs.Rename(dest, dest+".failed"); renameErr != nil {
			i.Logger.Warn("failed to set aside partial download", "path", dest, "error", renameErr)
		}
	}
	return fmt.Errorf("%w: %v", ErrDownload, err)
}

func (i *Installer) fetchTo(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := i.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f, err := i.Fs.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	i.Logger.Debug("archive downloaded", "path", dest, "bytes", n)
	return nil
}

func (i *Installer) removeIfExists(path string) error {
	err := i.Fs.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (i *Installer) settle(ctx context.Context) error {
	if err := utils.Sleep(ctx, i.SettleDelay); err != nil {
		return fmt.Errorf("%w: %w", ErrInstall, err)
	}
	return nil
}
