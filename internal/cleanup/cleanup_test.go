package cleanup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s3lfs/s3lfs/internal/manifest"
	"github.com/s3lfs/s3lfs/internal/objectkey"
)

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	store := manifest.New(filepath.Join(t.TempDir(), ".s3_manifest.yaml"))
	objects := newFakeStore()
	return New(store, objects, "s3lfs"), objects
}

func TestRemoveDeletesManifestEntryAndObject(t *testing.T) {
	m, objects := newTestManager(t)
	ctx := context.Background()

	digest := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	require.NoError(t, m.Store.Save(manifest.Manifest{Files: map[string]string{"a.txt": digest}}))
	key := objectkey.Blob("s3lfs", digest, "a.txt")
	objects.put(key, []byte("gzipped"))

	require.NoError(t, m.Remove(ctx, "a.txt", false))

	got, err := m.Store.Load()
	require.NoError(t, err)
	require.NotContains(t, got.Files, "a.txt")
	require.False(t, objects.has(key))
}

func TestRemoveKeepInStore(t *testing.T) {
	m, objects := newTestManager(t)
	ctx := context.Background()

	digest := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	require.NoError(t, m.Store.Save(manifest.Manifest{Files: map[string]string{"a.txt": digest}}))
	key := objectkey.Blob("s3lfs", digest, "a.txt")
	objects.put(key, []byte("gzipped"))

	require.NoError(t, m.Remove(ctx, "a.txt", true))

	got, err := m.Store.Load()
	require.NoError(t, err)
	require.NotContains(t, got.Files, "a.txt")
	require.True(t, objects.has(key), "keepInStore must leave the object alone")
}

func TestRemoveSubtree(t *testing.T) {
	m, objects := newTestManager(t)
	ctx := context.Background()

	digestA := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	digestB := "d41d8cd98f00b204e9800998ecf8427ee41d8cd98f00b204e9800998ecf8427e"
	require.NoError(t, m.Store.Save(manifest.Manifest{Files: map[string]string{
		"data/a.txt":   digestA,
		"data/b.txt":   digestB,
		"other/c.txt":  digestA,
	}}))
	objects.put(objectkey.Blob("s3lfs", digestA, "data/a.txt"), []byte("x"))
	objects.put(objectkey.Blob("s3lfs", digestB, "data/b.txt"), []byte("y"))
	objects.put(objectkey.Blob("s3lfs", digestA, "other/c.txt"), []byte("z"))

	removed, err := m.RemoveSubtree(ctx, "data", false)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"data/a.txt", "data/b.txt"}, removed)

	got, err := m.Store.Load()
	require.NoError(t, err)
	require.NotContains(t, got.Files, "data/a.txt")
	require.NotContains(t, got.Files, "data/b.txt")
	require.Contains(t, got.Files, "other/c.txt")
}

func TestCleanupDryRunDoesNotDelete(t *testing.T) {
	m, objects := newTestManager(t)
	ctx := context.Background()

	digest := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	require.NoError(t, m.Store.Save(manifest.Manifest{Files: map[string]string{"a.txt": digest}}))
	keepKey := objectkey.Blob("s3lfs", digest, "a.txt")
	orphanKey := objectkey.Blob("s3lfs", "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "old.txt")
	objects.put(keepKey, []byte("x"))
	objects.put(orphanKey, []byte("y"))

	res, err := m.Cleanup(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []string{orphanKey}, res.Deleted)
	require.True(t, objects.has(orphanKey), "dry run must not delete")
}

func TestCleanupForceDeletesOrphans(t *testing.T) {
	m, objects := newTestManager(t)
	ctx := context.Background()

	digest := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	require.NoError(t, m.Store.Save(manifest.Manifest{Files: map[string]string{"a.txt": digest}}))
	keepKey := objectkey.Blob("s3lfs", digest, "a.txt")
	orphanKey := objectkey.Blob("s3lfs", "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "old.txt")
	objects.put(keepKey, []byte("x"))
	objects.put(orphanKey, []byte("y"))

	res, err := m.Cleanup(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{orphanKey}, res.Deleted)
	require.False(t, objects.has(orphanKey))
	require.True(t, objects.has(keepKey))
}
