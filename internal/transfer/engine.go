// Package transfer is the orchestrator: the track and checkout pipelines,
// their convenience sweeps, and the bounded worker pool they run on (spec
// §4.5). It is the only package that drives both the Manifest Store and
// the Object Store Client together.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/s3lfs/s3lfs/internal/digestutil"
	"github.com/s3lfs/s3lfs/internal/hashcache"
	"github.com/s3lfs/s3lfs/internal/manifest"
	"github.com/s3lfs/s3lfs/internal/objectkey"
	"github.com/s3lfs/s3lfs/internal/objectstore"
	"github.com/s3lfs/s3lfs/internal/resolver"
	"github.com/s3lfs/s3lfs/internal/s3lfserr"
	"github.com/s3lfs/s3lfs/internal/s3lfslog"
)

// ObjectStore is the subset of objectstore.Client the engine depends on,
// narrowed so tests can substitute an in-memory fake.
type ObjectStore interface {
	Probe(ctx context.Context, prefix string) error
	Head(ctx context.Context, key string) (objectstore.HeadResult, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string, w io.Writer) (int64, error)
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// Engine runs the track/checkout pipelines over a bounded worker pool.
type Engine struct {
	Root      string
	Bucket    string
	Prefix    string
	PoolSize  int
	ChunkSize int64 // app-level split threshold for a single compressed blob

	Store   *manifest.Store
	Objects ObjectStore
	Cache   *hashcache.Cache

	cancelled atomic.Bool
}

// New returns an Engine ready to run pipelines. PoolSize and ChunkSize
// fall back to spec defaults (8 workers, 5 GiB) when zero.
func New(root, bucket, prefix string, poolSize int, chunkSize int64, store *manifest.Store, objects ObjectStore, cache *hashcache.Cache) *Engine {
	if poolSize <= 0 {
		poolSize = 8
	}
	if chunkSize <= 0 {
		chunkSize = 5 << 30
	}
	if cache == nil {
		cache = hashcache.New()
	}
	return &Engine{
		Root:      root,
		Bucket:    bucket,
		Prefix:    prefix,
		PoolSize:  poolSize,
		ChunkSize: chunkSize,
		Store:     store,
		Objects:   objects,
		Cache:     cache,
	}
}

// Cancel sets the shared cancellation flag; in-flight tasks finish but no
// further task is started, and already-committed results are still saved.
func (e *Engine) Cancel() { e.cancelled.Store(true) }

// IsCancelled reports whether Cancel has been called.
func (e *Engine) IsCancelled() bool { return e.cancelled.Load() }

// checkBucket enforces bucket immutability: a manifest already bound to a
// different bucket refuses further track/checkout calls. The manifest's
// prefix is not compared.
func (e *Engine) checkBucket(ctx context.Context) error {
	var current string
	err := e.Store.View(ctx, func(_ context.Context, m manifest.Manifest) error {
		current = m.Bucket
		return nil
	})
	if err != nil {
		return err
	}
	if current != "" && current != e.Bucket {
		return s3lfserr.ManifestCorruptError{
			Path:   e.Store.Path(),
			Reason: fmt.Sprintf("manifest bucket %q does not match configured bucket %q", current, e.Bucket),
		}
	}
	return nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// runPool fans tasks out over e.PoolSize workers, collecting one
// FileResult per task in input order's membership (not necessarily
// order). FailFast cancels the group's context on the first error;
// otherwise every task's error is captured in its FileResult and the
// group always returns nil so the batch completes.
func (e *Engine) runPool(ctx context.Context, paths []string, failFast bool, task func(ctx context.Context, path string) FileResult) (Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.PoolSize)

	var mu sync.Mutex
	results := make([]FileResult, 0, len(paths))
	cancelledEarly := false

	for _, path := range paths {
		path := path
		g.Go(func() error {
			if e.IsCancelled() {
				mu.Lock()
				cancelledEarly = true
				mu.Unlock()
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			default:
			}

			r := task(gctx, path)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()

			if r.Err != nil && failFast {
				return r.Err
			}
			return nil
		})
	}

	err := g.Wait()
	res := Result{Files: results, Cancelled: cancelledEarly || e.IsCancelled()}
	if err != nil {
		return res, err
	}
	if !failFast {
		err = res.FirstError()
	}
	return res, err
}

func (e *Engine) fullPath(relpath string) string {
	return filepath.Join(e.Root, filepath.FromSlash(relpath))
}

func (e *Engine) key(digest, relpath string) string {
	return objectkey.Blob(e.Prefix, digest, relpath)
}

func tempFile(dir, suffix string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "s3lfs-"+uuid.NewString()+suffix), nil
}

// --- chunked upload/download helpers ---

func (e *Engine) uploadBlob(ctx context.Context, key, blobPath string, size int64) error {
	if size < e.ChunkSize {
		return e.putWithDedup(ctx, key, blobPath, size)
	}

	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("transfer: open compressed blob: %w", err)
	}
	defer f.Close()

	for i := 0; ; i++ {
		chunk := make([]byte, e.ChunkSize)
		n, rerr := io.ReadFull(f, chunk)
		if n > 0 {
			chunkKey := objectkey.Chunk(key, i)
			if err := e.putBytesWithDedup(ctx, chunkKey, chunk[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("transfer: reading chunk %d of %s: %w", i, blobPath, rerr)
		}
	}
	return nil
}

// putWithDedup probes head(key) and skips the PUT when the remote ETag
// already equals the local MD5 (spec §4.4's advisory dedup probe).
func (e *Engine) putWithDedup(ctx context.Context, key, blobPath string, size int64) error {
	localMD5, err := digestutil.MD5File(blobPath)
	if err != nil {
		return err
	}
	head, err := e.Objects.Head(ctx, key)
	if err != nil {
		return err
	}
	if head.Exists && head.ETag == localMD5 {
		return nil
	}
	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("transfer: open compressed blob: %w", err)
	}
	defer f.Close()
	return e.Objects.Put(ctx, key, f, size)
}

func (e *Engine) putBytesWithDedup(ctx context.Context, key string, data []byte) error {
	localMD5 := digestutil.MD5Bytes(data)
	head, err := e.Objects.Head(ctx, key)
	if err != nil {
		return err
	}
	if head.Exists && head.ETag == localMD5 {
		return nil
	}
	return e.Objects.Put(ctx, key, strings.NewReader(string(data)), int64(len(data)))
}

// downloadBlob reconstitutes key's content into dstPath, checking for
// chunk keys first (spec §4.4: the downloader probes for chunks before
// falling back to the single-blob key).
func (e *Engine) downloadBlob(ctx context.Context, key, dstPath string) error {
	chunkKeys, err := e.Objects.ListByPrefix(ctx, key+".chunk")
	if err != nil {
		return err
	}
	if len(chunkKeys) == 0 {
		return e.downloadSingle(ctx, key, dstPath)
	}
	return e.downloadChunked(ctx, key, chunkKeys, dstPath)
}

func (e *Engine) downloadSingle(ctx context.Context, key, dstPath string) error {
	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("transfer: create %q: %w", dstPath, err)
	}
	defer out.Close()
	_, err = e.Objects.Get(ctx, key, out)
	return err
}

func (e *Engine) downloadChunked(ctx context.Context, key string, chunkKeys []string, dstPath string) error {
	indexed := make(map[int]string, len(chunkKeys))
	maxIdx := -1
	for _, ck := range chunkKeys {
		i, err := chunkIndex(key, ck)
		if err != nil {
			continue
		}
		indexed[i] = ck
		if i > maxIdx {
			maxIdx = i
		}
	}

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("transfer: create %q: %w", dstPath, err)
	}
	defer out.Close()

	for i := 0; i <= maxIdx; i++ {
		ck, ok := indexed[i]
		if !ok {
			return fmt.Errorf("transfer: missing chunk %d for %s", i, key)
		}
		if _, err := e.Objects.Get(ctx, ck, out); err != nil {
			return err
		}
	}
	return nil
}

func chunkIndex(key, chunkKey string) (int, error) {
	suffix := strings.TrimPrefix(chunkKey, key+".chunk")
	if suffix == chunkKey {
		return 0, fmt.Errorf("not a chunk of %s", key)
	}
	return strconv.Atoi(suffix)
}

func resolveTrackInput(root, pattern string) ([]string, error) {
	return resolver.ResolveFilesystem(root, pattern)
}

func resolveCheckoutInput(files map[string]string, pattern string) ([]string, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return resolver.ResolveManifest(paths, pattern)
}

func logFor(ctx context.Context) s3lfslog.Logger { return s3lfslog.GetLogger(ctx) }
