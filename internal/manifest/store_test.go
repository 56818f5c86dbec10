package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".s3_manifest.yaml"))
	m, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, m.Files)
	require.Empty(t, m.Bucket)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".s3_manifest.yaml")
	s := New(path)

	want := Manifest{
		Bucket: "my-bucket",
		Prefix: "s3lfs",
		Files: map[string]string{
			"a.txt":      "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			"data/b.txt": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)

	// No stray temp file left behind on a clean save.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestWithLockCommitsAndReleases(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".s3_manifest.yaml"))

	err := s.WithLock(context.Background(), func(_ context.Context, m *Manifest) error {
		m.Bucket = "bucket-1"
		m.Files["x.bin"] = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
		return nil
	})
	require.NoError(t, err)

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "bucket-1", got.Bucket)
	require.Contains(t, got.Files, "x.bin")

	// Lock must be released: a fresh WithLock call must not block/deadlock.
	err = s.WithLock(context.Background(), func(_ context.Context, m *Manifest) error { return nil })
	require.NoError(t, err)
}

func TestWithLockSkipsSaveOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".s3_manifest.yaml")
	s := New(path)
	require.NoError(t, s.Save(Manifest{Files: map[string]string{}, Bucket: "original"}))

	sentinel := os.ErrInvalid
	err := s.WithLock(context.Background(), func(_ context.Context, m *Manifest) error {
		m.Bucket = "should-not-be-saved"
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "original", got.Bucket)
}

func TestWithLockReentrant(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".s3_manifest.yaml"))

	// Re-entering with the context the outer call handed back (the same
	// call chain continuing) must not deadlock on the outer hold.
	err := s.WithLock(context.Background(), func(outerCtx context.Context, outer *Manifest) error {
		return s.WithLock(outerCtx, func(_ context.Context, inner *Manifest) error {
			inner.Bucket = "reentered"
			return nil
		})
	})
	require.NoError(t, err, "re-entering WithLock with the outer call's own context must not deadlock")

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "reentered", got.Bucket)
}

func TestWithLockConcurrentCallersSerialise(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".s3_manifest.yaml"))
	require.NoError(t, s.Save(Manifest{Files: map[string]string{}}))

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			// Each goroutine uses its own context.Background(), never one
			// derived from another goroutine's lockScope return value —
			// they must not mistake each other's hold for their own.
			err := s.WithLock(context.Background(), func(_ context.Context, m *Manifest) error {
				m.Files[fmt.Sprintf("f%d.bin", i)] = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got.Files, n, "every concurrent WithLock call must commit its own write with no lost update")
}

func TestViewDoesNotSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".s3_manifest.yaml")
	s := New(path)
	require.NoError(t, s.Save(Manifest{Files: map[string]string{"a.txt": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"}, Bucket: "b"}))

	var seen string
	err := s.View(context.Background(), func(_ context.Context, m Manifest) error {
		seen = m.Files["a.txt"]
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", seen)

	// View composes with a subsequent WithLock without deadlocking.
	err = s.WithLock(context.Background(), func(_ context.Context, m *Manifest) error { return nil })
	require.NoError(t, err)
}

func TestValidateRejectsBadEntries(t *testing.T) {
	cases := []Manifest{
		{Files: map[string]string{"/abs.txt": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"}},
		{Files: map[string]string{"../escape.txt": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"}},
		{Files: map[string]string{"ok.txt": "short"}},
	}
	for _, m := range cases {
		require.Error(t, m.Validate())
	}
}

func TestMigrateLegacyToPreferred(t *testing.T) {
	dir := t.TempDir()
	preferred := filepath.Join(dir, ".s3_manifest.yaml")
	legacy := filepath.Join(dir, ".s3_manifest.json")

	require.NoError(t, os.WriteFile(legacy, []byte(`{"bucket":"legacy-bucket","files":{"a.txt":"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"}}`), 0o644))

	s := New(preferred)
	require.NoError(t, s.Migrate())

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "legacy-bucket", got.Bucket)

	// Legacy file is untouched (one-way copy, not a move).
	_, err = os.Stat(legacy)
	require.NoError(t, err)
}

func TestMigrateNoLegacyIsNoop(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".s3_manifest.yaml"))
	require.NoError(t, s.Migrate())
	got, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, got.Files)
}
