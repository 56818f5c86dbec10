package transfer

import (
	"context"
	"os"

	"github.com/s3lfs/s3lfs/internal/digestutil"
	"github.com/s3lfs/s3lfs/internal/gzipcodec"
	"github.com/s3lfs/s3lfs/internal/manifest"
)

// Track runs the track pipeline for one pattern (spec §4.5): resolve on
// disk, probe credentials once, then hash/compress/dedupe/upload each
// resolved path on the bounded pool, committing a merged manifest update
// at the end unless opts.DryRun is set.
func (e *Engine) Track(ctx context.Context, pattern string, opts TrackOptions, obs Observer) (Result, error) {
	obs = observerOrNoop(obs)

	paths, err := resolveTrackInput(e.Root, pattern)
	if err != nil {
		return Result{}, err
	}
	paths = dedupe(paths)
	if len(paths) == 0 {
		return Result{}, nil
	}

	if err := e.checkBucket(ctx); err != nil {
		return Result{}, err
	}
	if err := e.Objects.Probe(ctx, e.Prefix); err != nil {
		return Result{}, err
	}

	result, poolErr := e.runPool(ctx, paths, opts.FailFast, func(ctx context.Context, path string) FileResult {
		return e.trackOne(ctx, path, opts, obs)
	})
	if poolErr != nil {
		return result, poolErr
	}

	if opts.DryRun {
		return result, nil
	}

	commitErr := e.Store.WithLock(ctx, func(_ context.Context, m *manifest.Manifest) error {
		if m.Bucket == "" {
			m.Bucket = e.Bucket
		}
		if m.Prefix == "" {
			m.Prefix = e.Prefix
		}
		for _, f := range result.Files {
			if f.Err == nil && f.Status == StatusTransferred {
				m.Files[f.Path] = f.Digest
			}
		}
		return nil
	})
	return result, commitErr
}

// TrackModified sweeps track over every currently-tracked path; a path
// whose backing file is missing on disk is skipped, not an error.
func (e *Engine) TrackModified(ctx context.Context, opts TrackOptions, obs Observer) (Result, error) {
	var m manifest.Manifest
	if err := e.Store.View(ctx, func(_ context.Context, snap manifest.Manifest) error {
		m = snap
		return nil
	}); err != nil {
		return Result{}, err
	}

	obs = observerOrNoop(obs)
	paths := m.SortedPaths()

	if err := e.checkBucket(ctx); err != nil {
		return Result{}, err
	}
	if len(paths) > 0 {
		if err := e.Objects.Probe(ctx, e.Prefix); err != nil {
			return Result{}, err
		}
	}

	result, poolErr := e.runPool(ctx, paths, opts.FailFast, func(ctx context.Context, path string) FileResult {
		if _, err := os.Stat(e.fullPath(path)); err != nil {
			if os.IsNotExist(err) {
				logFor(ctx).Warnf("trackModified: %s is missing on disk, skipping", path)
				return FileResult{Path: path, Status: StatusSkippedMissing}
			}
			return FileResult{Path: path, Err: err}
		}
		return e.trackOne(ctx, path, opts, obs)
	})
	if poolErr != nil {
		return result, poolErr
	}
	if opts.DryRun {
		return result, nil
	}

	commitErr := e.Store.WithLock(ctx, func(_ context.Context, m *manifest.Manifest) error {
		for _, f := range result.Files {
			if f.Err == nil && f.Status == StatusTransferred {
				m.Files[f.Path] = f.Digest
			}
		}
		return nil
	})
	return result, commitErr
}

func (e *Engine) trackOne(ctx context.Context, path string, opts TrackOptions, obs Observer) FileResult {
	full := e.fullPath(path)
	info, err := os.Stat(full)
	if err != nil {
		return FileResult{Path: path, Err: err}
	}
	obs.OnFileStart(path, info.Size())

	digest, ok := e.Cache.Lookup(path, info)
	if !ok {
		digest, err = digestutil.SHA256File(full)
		if err != nil {
			obs.OnFileDone(path, err)
			return FileResult{Path: path, Err: err}
		}
		e.Cache.Store(path, digest, info)
	}

	var current string
	if err := e.Store.View(ctx, func(_ context.Context, m manifest.Manifest) error {
		current = m.Files[path]
		return nil
	}); err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}
	if current == digest {
		obs.OnFileDone(path, nil)
		return FileResult{Path: path, Digest: digest, Status: StatusUnchanged}
	}

	if opts.DryRun {
		obs.OnFileDone(path, nil)
		return FileResult{Path: path, Digest: digest, Status: StatusTransferred}
	}

	tmp, err := tempFile(e.tempDir(), ".gz")
	if err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}
	defer os.Remove(tmp)

	size, err := gzipcodec.CompressFile(full, tmp)
	if err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}
	obs.OnBytes(path, size)

	key := e.key(digest, path)
	if err := e.uploadBlob(ctx, key, tmp, size); err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}

	obs.OnFileDone(path, nil)
	return FileResult{Path: path, Digest: digest, Status: StatusTransferred}
}

func (e *Engine) tempDir() string {
	return ""
}
