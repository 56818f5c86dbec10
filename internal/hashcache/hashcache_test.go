package hashcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) os.FileInfo {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info
}

func TestLookupMiss(t *testing.T) {
	c := New()
	dir := t.TempDir()
	info := writeFile(t, dir, "a.txt", "hello")

	_, ok := c.Lookup("a.txt", info)
	require.False(t, ok)
}

func TestStoreThenLookupHit(t *testing.T) {
	c := New()
	dir := t.TempDir()
	info := writeFile(t, dir, "a.txt", "hello")

	c.Store("a.txt", "deadbeef", info)
	digest, ok := c.Lookup("a.txt", info)
	require.True(t, ok)
	require.Equal(t, "deadbeef", digest)
}

func TestLookupInvalidatesOnSizeChange(t *testing.T) {
	c := New()
	dir := t.TempDir()
	info := writeFile(t, dir, "a.txt", "hello")
	c.Store("a.txt", "deadbeef", info)

	time.Sleep(time.Millisecond)
	info2 := writeFile(t, dir, "a.txt", "hello world, longer now")

	_, ok := c.Lookup("a.txt", info2)
	require.False(t, ok)
}

func TestForget(t *testing.T) {
	c := New()
	dir := t.TempDir()
	info := writeFile(t, dir, "a.txt", "hello")
	c.Store("a.txt", "deadbeef", info)
	require.Equal(t, 1, c.Len())

	c.Forget("a.txt")
	require.Equal(t, 0, c.Len())
	_, ok := c.Lookup("a.txt", info)
	require.False(t, ok)
}
