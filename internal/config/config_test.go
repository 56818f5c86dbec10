package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s3lfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bucket: my-bucket\nregion: us-west-2\n"), 0o644))

	t.Setenv("S3LFS_RETRY_MAXATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "my-bucket", cfg.Bucket)
	require.Equal(t, "us-west-2", cfg.Region)
	require.Equal(t, "s3lfs", cfg.Prefix, "default prefix survives when not set in YAML")
	require.Equal(t, 8, cfg.PoolSize, "default pool size survives")
	require.Equal(t, 5, cfg.Retry.MaxAttempts, "env override reaches nested struct field")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
