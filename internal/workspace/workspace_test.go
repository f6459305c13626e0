package workspace

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanDriverLogs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/.runtime/driver.log", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/home/.runtime/chromedriver", []byte("bin"), 0o755))
	require.NoError(t, afero.WriteFile(fs, "/cwd/driver.log", []byte("x"), 0o644))

	n, err := New(fs, nil).CleanDriverLogs("/home/.runtime", "/cwd", "/missing")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for path, want := range map[string]bool{
		"/home/.runtime/driver.log":   false,
		"/cwd/driver.log":             false,
		"/home/.runtime/chromedriver": true,
	} {
		ok, _ := afero.Exists(fs, path)
		assert.Equal(t, want, ok, path)
	}
}

func TestTidy(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"report_1.xlsx", "old.XLS", "partial.crdownload", "notes.txt"} {
		require.NoError(t, afero.WriteFile(fs, "/home/user/temp/"+name, []byte(name), 0o644))
	}
	require.NoError(t, fs.MkdirAll("/home/user/temp/nested", 0o755))

	res, err := New(fs, nil).Tidy("/home/user/temp", "/home/user/backup")
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 2, BackedUp: 2}, res)

	backed, err := afero.ReadDir(fs, "/home/user/backup")
	require.NoError(t, err)
	var names []string
	for _, e := range backed {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"report_1.xlsx", "old.XLS"}, names)

	left, err := afero.ReadDir(fs, "/home/user/temp")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "nested", left[0].Name())
}

func TestTidyMissingTemp(t *testing.T) {
	res, err := New(afero.NewMemMapFs(), nil).Tidy("/none/temp", "/none/backup")
	require.NoError(t, err)
	assert.Zero(t, res)
}
