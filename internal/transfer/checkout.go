package transfer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/s3lfs/s3lfs/internal/digestutil"
	"github.com/s3lfs/s3lfs/internal/gzipcodec"
	"github.com/s3lfs/s3lfs/internal/manifest"
	"github.com/s3lfs/s3lfs/internal/s3lfserr"
)

// Checkout runs the checkout pipeline for one pattern (spec §4.5):
// resolve against the manifest, probe credentials once, then for each
// resolved path either confirm the local file already matches or
// fetch+decompress+verify+place it. Checkout never mutates the manifest
// itself (there is nothing to commit; the digests it writes already
// exist there).
func (e *Engine) Checkout(ctx context.Context, pattern string, opts CheckoutOptions, obs Observer) (Result, error) {
	var m manifest.Manifest
	if err := e.Store.View(ctx, func(_ context.Context, snap manifest.Manifest) error {
		m = snap
		return nil
	}); err != nil {
		return Result{}, err
	}

	paths, err := resolveCheckoutInput(m.Files, pattern)
	if err != nil {
		return Result{}, err
	}
	return e.runCheckout(ctx, m, paths, opts, obs)
}

// CheckoutAll sweeps checkout over every currently-tracked path.
func (e *Engine) CheckoutAll(ctx context.Context, opts CheckoutOptions, obs Observer) (Result, error) {
	var m manifest.Manifest
	if err := e.Store.View(ctx, func(_ context.Context, snap manifest.Manifest) error {
		m = snap
		return nil
	}); err != nil {
		return Result{}, err
	}
	return e.runCheckout(ctx, m, m.SortedPaths(), opts, obs)
}

func (e *Engine) runCheckout(ctx context.Context, m manifest.Manifest, paths []string, opts CheckoutOptions, obs Observer) (Result, error) {
	obs = observerOrNoop(obs)
	if len(paths) == 0 {
		return Result{}, nil
	}

	if err := e.checkBucket(ctx); err != nil {
		return Result{}, err
	}
	if err := e.Objects.Probe(ctx, e.Prefix); err != nil {
		return Result{}, err
	}

	return e.runPool(ctx, paths, opts.FailFast, func(ctx context.Context, path string) FileResult {
		return e.checkoutOne(ctx, path, m.Files[path], opts, obs)
	})
}

func (e *Engine) checkoutOne(ctx context.Context, path, expected string, opts CheckoutOptions, obs Observer) FileResult {
	full := e.fullPath(path)
	obs.OnFileStart(path, 0)

	if info, err := os.Stat(full); err == nil {
		digest, hashErr := digestutil.SHA256File(full)
		if hashErr != nil {
			obs.OnFileDone(path, hashErr)
			return FileResult{Path: path, Err: hashErr}
		}
		e.Cache.Store(path, digest, info)
		if digest == expected {
			obs.OnFileDone(path, nil)
			return FileResult{Path: path, Digest: digest, Status: StatusUnchanged}
		}
	}

	if opts.DryRun {
		obs.OnFileDone(path, nil)
		return FileResult{Path: path, Digest: expected, Status: StatusTransferred}
	}

	tmp, err := tempFile(e.tempDir(), ".download")
	if err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}
	defer os.Remove(tmp)

	key := e.key(expected, path)
	if err := e.downloadBlob(ctx, key, tmp); err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}

	decompressed, err := tempFile(e.tempDir(), ".raw")
	if err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}
	defer os.Remove(decompressed)

	if err := gzipcodec.DecompressFile(tmp, decompressed); err != nil {
		wrapped := s3lfserr.DecompressionError{Path: path, Err: err}
		obs.OnFileDone(path, wrapped)
		return FileResult{Path: path, Err: wrapped}
	}

	actual, err := digestutil.SHA256File(decompressed)
	if err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}
	if actual != expected {
		verr := s3lfserr.VerificationError{Path: path, Expected: expected, Actual: actual}
		obs.OnFileDone(path, verr)
		return FileResult{Path: path, Err: verr}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}
	if err := os.Rename(decompressed, full); err != nil {
		obs.OnFileDone(path, err)
		return FileResult{Path: path, Err: err}
	}

	if info, err := os.Stat(full); err == nil {
		e.Cache.Store(path, actual, info)
	}

	obs.OnFileDone(path, nil)
	return FileResult{Path: path, Digest: actual, Status: StatusTransferred}
}
