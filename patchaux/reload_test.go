package patchaux

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloaderDebounce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.yaml")
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	r, err := NewReloader(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Add(path))
	require.NoError(t, r.Add(path))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{'b', byte('0' + i)}, 0o644))
		time.Sleep(5 * time.Millisecond)
	}
	// Files not added are ignored.
	require.NoError(t, os.WriteFile(other, []byte("c"), 0o644))

	select {
	case got := <-r.Changed():
		assert.Equal(t, path, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
	select {
	case got := <-r.Changed():
		t.Fatalf("unexpected second change %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReloaderRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	r, err := NewReloader(10*time.Millisecond, nil)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Add(path))

	// Editors often save by writing a temporary file and renaming it.
	tmp := filepath.Join(dir, ".patch.yaml.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("b"), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	select {
	case got := <-r.Changed():
		assert.Equal(t, path, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported after rename")
	}
}

func TestReloaderClose(t *testing.T) {
	r, err := NewReloader(time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
