package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")

	writeFile(t, filepath.Join(src, "dist", "server.js"), "console.log('hi')")
	writeFile(t, filepath.Join(src, "dist", "assets", "app.css"), "body{}")
	writeFile(t, filepath.Join(src, "package.json"), "{}")
	writeFile(t, filepath.Join(src, "node_modules", "left-pad", "index.js"), "module.exports=1")
	require.NoError(t, os.Symlink("dist/server.js", filepath.Join(src, "entry.js")))

	stats, err := CopyTree(src, dst, CopyOptions{Exclude: []string{"node_modules/**"}, Checksums: true})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Files)
	assert.Len(t, stats.Checksums, 3)
	assert.Contains(t, stats.Checksums, "dist/server.js")

	data, err := os.ReadFile(filepath.Join(dst, "dist", "assets", "app.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))

	_, err = os.Stat(filepath.Join(dst, "node_modules", "left-pad", "index.js"))
	assert.True(t, os.IsNotExist(err))

	link, err := os.Readlink(filepath.Join(dst, "entry.js"))
	require.NoError(t, err)
	assert.Equal(t, "dist/server.js", link)

	require.NoError(t, VerifyChecksums(dst, stats.Checksums))
}

func TestCopyTreeMissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "copy")
	stats, err := CopyTree(filepath.Join(t.TempDir(), "missing"), dst, CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Files)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCopyTreeInvalidPattern(t *testing.T) {
	_, err := CopyTree(t.TempDir(), t.TempDir(), CopyOptions{Exclude: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestVerifyChecksumsMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "one")

	sums, err := Checksums(dir)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "a.txt"), "two")
	assert.Error(t, VerifyChecksums(dir, sums))

	writeFile(t, filepath.Join(dir, "a.txt"), "one")
	writeFile(t, filepath.Join(dir, "extra.txt"), "x")
	assert.Error(t, VerifyChecksums(dir, sums))
}

func TestSwap(t *testing.T) {
	root := t.TempDir()
	live := filepath.Join(root, "current")
	writeFile(t, filepath.Join(live, "old.txt"), "old")

	staged := filepath.Join(root, "releases", "r2")
	writeFile(t, filepath.Join(staged, "new.txt"), "new")

	require.NoError(t, Swap(staged, live))

	_, err := os.Stat(filepath.Join(live, "old.txt"))
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(filepath.Join(live, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"current", "releases"}, names)
}

func TestSwapWithoutLive(t *testing.T) {
	root := t.TempDir()
	live := filepath.Join(root, "current")
	staged := filepath.Join(root, "staged")
	writeFile(t, filepath.Join(staged, "index.html"), "<h1>hi</h1>")

	require.NoError(t, Swap(staged, live))

	_, err := os.Stat(filepath.Join(live, "index.html"))
	assert.NoError(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	in := map[string]int{"files": 3}
	require.NoError(t, WriteJSON(path, in))

	var out map[string]int
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
}
