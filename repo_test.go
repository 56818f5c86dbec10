package s3lfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s3lfs/s3lfs/internal/config"
	"github.com/s3lfs/s3lfs/internal/manifest"
	"github.com/s3lfs/s3lfs/internal/s3lfserr"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Bucket = "my-bucket"
	cfg.Signed = false // unsigned: avoids needing live credentials for Open

	r, err := Open(root, cfg)
	require.NoError(t, err)
	return r
}

func TestInitCreatesManifest(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Init(ctx))

	_, err := os.Stat(r.ManifestPath())
	require.NoError(t, err)

	err = r.Init(ctx)
	require.ErrorAs(t, err, &s3lfserr.AlreadyInitialisedError{})
}

func TestListEmptyPatternDumpsEverything(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))

	tracked := map[string]string{
		"b.txt":      "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"data/c.txt": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
	require.NoError(t, r.store.Save(manifest.Manifest{Bucket: "my-bucket", Prefix: "s3lfs", Files: tracked}))

	// An untracked file on disk is not part of the dump.
	require.NoError(t, os.WriteFile(filepath.Join(r.root, "a.txt"), []byte("x"), 0o644))

	files, err := r.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, tracked, files)
}
