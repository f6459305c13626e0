package session

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"
)

// cdcMarker matches the automation variable names chromedriver injects into
// every page; pages probe for them to detect automation
var cdcMarker = regexp.MustCompile(`cdc_[a-zA-Z0-9]{22}`)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// PatchDriver rewrites every cdc_ marker in the binary at path with random
// letters of the same length and returns how many it replaced. The file is
// replaced through a rename so a running copy is never written to.
func PatchDriver(fs afero.Fs, path string) (int, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return 0, err
	}

	n := 0
	patched := cdcMarker.ReplaceAllFunc(data, func(m []byte) []byte {
		n++
		out := make([]byte, len(m))
		for i := range out {
			out[i] = letters[rand.IntN(len(letters))]
		}
		return out
	})
	if n == 0 {
		return 0, nil
	}

	tmp, err := afero.TempFile(fs, filepath.Dir(path), filepath.Base(path)+".patch-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(patched); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return 0, err
	}
	if err := fs.Chmod(tmpName, info.Mode().Perm()); err != nil {
		fs.Remove(tmpName)
		return 0, err
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return 0, fmt.Errorf("replacing %s: %w", path, err)
	}
	return n, nil
}
