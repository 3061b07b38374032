package execution

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchProfilesReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: []\n"), 0o644))

	store := mustDefaultStore(t)
	w, err := WatchProfiles(path, store, DefaultProfiles(), nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - language: lua
    file: main.lua
    run: ["lua", "{file}"]
`), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := store.Resolve("lua")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	// an invalid file keeps the previous set
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - language: broken\n"), 0o644))
	time.Sleep(3 * reloadDebounce)
	_, ok := store.Resolve("lua")
	assert.True(t, ok)
	_, ok = store.Resolve("python")
	assert.True(t, ok)
}

func TestWatchProfilesIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: []\n"), 0o644))

	store := mustDefaultStore(t)
	w, err := WatchProfiles(path, store, DefaultProfiles(), nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("garbage"), 0o644))
	time.Sleep(3 * reloadDebounce)
	assert.Len(t, store.List(), 4)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
