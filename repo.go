package s3lfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/s3lfs/s3lfs/internal/cleanup"
	"github.com/s3lfs/s3lfs/internal/config"
	"github.com/s3lfs/s3lfs/internal/hashcache"
	"github.com/s3lfs/s3lfs/internal/manifest"
	"github.com/s3lfs/s3lfs/internal/objectstore"
	"github.com/s3lfs/s3lfs/internal/resolver"
	"github.com/s3lfs/s3lfs/internal/s3lfserr"
	"github.com/s3lfs/s3lfs/internal/transfer"
)

// Repo is the core's single entry point: one manifest store, one object
// store client, one transfer engine and cleanup manager, all bound to one
// working-tree root.
type Repo struct {
	root string
	cfg  config.Config

	store   *manifest.Store
	objects *objectstore.Client
	engine  *transfer.Engine
	cleaner *cleanup.Manager
}

// Open wires a Repo for root under cfg. It does not require a manifest to
// already exist; Init creates one, and every other operation tolerates an
// absent manifest by treating it as empty (spec §4.1).
func Open(root string, cfg config.Config) (*Repo, error) {
	manifestPath := filepath.Join(root, cfg.ManifestPath)
	store := manifest.New(manifestPath)

	objects, err := objectstore.New(objectstore.Params{
		Bucket:             cfg.Bucket,
		Region:             cfg.Region,
		Endpoint:           cfg.Endpoint,
		ForcePathStyle:     cfg.ForcePathStyle,
		Signed:             cfg.Signed,
		Encrypt:            cfg.Encrypt,
		MultipartChunkSize: cfg.MultipartChunkSize,
		Retry: objectstore.Retry{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseBackoff: cfg.Retry.BaseBackoff,
		},
	})
	if err != nil {
		return nil, err
	}

	cache := hashcache.New()
	engine := transfer.New(root, cfg.Bucket, cfg.Prefix, cfg.PoolSize, cfg.ChunkSize, store, objects, cache)
	cleaner := cleanup.New(store, objects, cfg.Prefix)

	return &Repo{
		root:    root,
		cfg:     cfg,
		store:   store,
		objects: objects,
		engine:  engine,
		cleaner: cleaner,
	}, nil
}

// ManifestPath returns the absolute path to this Repo's manifest file.
func (r *Repo) ManifestPath() string { return r.store.Path() }

// Init creates a manifest at root with the configured bucket and prefix.
// It refuses if one already exists (spec §6.3).
func (r *Repo) Init(ctx context.Context) error {
	if _, err := os.Stat(r.store.Path()); err == nil {
		return s3lfserr.AlreadyInitialisedError{Path: r.store.Path()}
	}
	return r.store.Save(manifest.Manifest{
		Bucket: r.cfg.Bucket,
		Prefix: r.cfg.Prefix,
		Files:  map[string]string{},
	})
}

// Track runs the track pipeline for pattern.
func (r *Repo) Track(ctx context.Context, pattern string, opts transfer.TrackOptions, obs transfer.Observer) (transfer.Result, error) {
	return r.engine.Track(ctx, pattern, opts, obs)
}

// TrackModified sweeps track over every currently-tracked path.
func (r *Repo) TrackModified(ctx context.Context, opts transfer.TrackOptions, obs transfer.Observer) (transfer.Result, error) {
	return r.engine.TrackModified(ctx, opts, obs)
}

// Checkout runs the checkout pipeline for pattern.
func (r *Repo) Checkout(ctx context.Context, pattern string, opts transfer.CheckoutOptions, obs transfer.Observer) (transfer.Result, error) {
	return r.engine.Checkout(ctx, pattern, opts, obs)
}

// CheckoutAll sweeps checkout over every currently-tracked path.
func (r *Repo) CheckoutAll(ctx context.Context, opts transfer.CheckoutOptions, obs transfer.Observer) (transfer.Result, error) {
	return r.engine.CheckoutAll(ctx, opts, obs)
}

// List enumerates manifest entries matching pattern as a map from path to
// digest; the map carries no ordering. An empty pattern returns every
// tracked entry (spec's supplemented no-pattern dump).
func (r *Repo) List(ctx context.Context, pattern string) (map[string]string, error) {
	var m manifest.Manifest
	if err := r.store.View(ctx, func(_ context.Context, snap manifest.Manifest) error {
		m = snap
		return nil
	}); err != nil {
		return nil, err
	}

	if pattern == "" {
		return m.Files, nil
	}

	matches, err := resolver.ResolveManifest(m.SortedPaths(), pattern)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(matches))
	for _, p := range matches {
		out[p] = m.Files[p]
	}
	return out, nil
}

// Remove deletes one manifest entry (spec §4.6).
func (r *Repo) Remove(ctx context.Context, path string, keepInStore bool) error {
	return r.cleaner.Remove(ctx, path, keepInStore)
}

// RemoveSubtree resolves pattern against the manifest and removes every
// matching entry.
func (r *Repo) RemoveSubtree(ctx context.Context, pattern string, keepInStore bool) ([]string, error) {
	return r.cleaner.RemoveSubtree(ctx, pattern, keepInStore)
}

// Cleanup sweeps `{prefix}/assets/` for objects no longer referenced by
// the manifest. When force is false, the returned Result previews what
// would be deleted without deleting it.
func (r *Repo) Cleanup(ctx context.Context, force bool) (cleanup.Result, error) {
	return r.cleaner.Cleanup(ctx, force)
}

// Migrate rewrites a legacy-encoding manifest into the preferred
// encoding, leaving the legacy file in place.
func (r *Repo) Migrate(ctx context.Context) error {
	return r.store.Migrate()
}

// Cancel requests cooperative cancellation of any in-flight track or
// checkout call on this Repo.
func (r *Repo) Cancel() { r.engine.Cancel() }
