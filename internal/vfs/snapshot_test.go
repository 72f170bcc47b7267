package vfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	snap := Snapshot{
		"/cwd":        DirEntry(),
		"/cwd/app.js": FileEntry([]byte("console.log(1)")),
		"/lib":        DirEntry("a.js", "b"),
		"/gone":       MissingEntry(),
		NoNetworkKey:  FileEntry(nil),
	}

	file := filepath.Join(t.TempDir(), "fs.zst")
	require.NoError(t, SaveSnapshot(file, snap))

	got, err := LoadSnapshot(file)
	require.NoError(t, err)

	assert.Equal(t, Directory, got["/cwd"].Kind)
	assert.Equal(t, "console.log(1)", string(got["/cwd/app.js"].Data))
	assert.Equal(t, []string{"a.js", "b"}, got["/lib"].Children)
	assert.Equal(t, Missing, got["/gone"].Kind)
	assert.Contains(t, got, NoNetworkKey)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not zstd"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.js"), []byte("main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "lib", "x.js"), []byte("x"), 0o644))

	snap, err := LoadDir(root, "/cwd")
	require.NoError(t, err)

	assert.Equal(t, Directory, snap["/cwd"].Kind)
	assert.Equal(t, Directory, snap["/cwd/pkg/lib"].Kind)
	assert.Equal(t, "main", string(snap["/cwd/main.js"].Data))
	assert.Equal(t, "x", string(snap["/cwd/pkg/lib/x.js"].Data))

	s := New(snap, WithOffline(true))
	names, err := s.ReadDir(context.Background(), "/cwd")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.js", "pkg"}, names)
}
