// Package cleanup implements the mark-and-sweep and manifest-entry
// removal operations (spec §4.6): remove, removeSubtree, and cleanup's
// orphaned-object sweep against `{prefix}/assets/`.
package cleanup

import (
	"context"
	"fmt"

	"github.com/s3lfs/s3lfs/internal/manifest"
	"github.com/s3lfs/s3lfs/internal/objectkey"
	"github.com/s3lfs/s3lfs/internal/resolver"
	"github.com/s3lfs/s3lfs/internal/s3lfslog"
)

// ObjectStore is the subset of objectstore.Client cleanup depends on.
type ObjectStore interface {
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// Manager runs remove/removeSubtree/cleanup against a manifest and an
// object store sharing the same prefix.
type Manager struct {
	Store   *manifest.Store
	Objects ObjectStore
	Prefix  string
}

// New returns a Manager.
func New(store *manifest.Store, objects ObjectStore, prefix string) *Manager {
	return &Manager{Store: store, Objects: objects, Prefix: prefix}
}

// Remove deletes path's manifest entry under the manifest lock. When
// keepInStore is false it also best-effort deletes the derived object
// key (single blob and any chunks); a failure there is a warning, not a
// propagated error, since the manifest entry is already gone.
func (m *Manager) Remove(ctx context.Context, path string, keepInStore bool) error {
	var digest string
	err := m.Store.WithLock(ctx, func(_ context.Context, man *manifest.Manifest) error {
		d, ok := man.Files[path]
		if !ok {
			return nil
		}
		digest = d
		delete(man.Files, path)
		return nil
	})
	if err != nil {
		return err
	}
	if !keepInStore && digest != "" {
		m.purgeBestEffort(ctx, digest, path)
	}
	return nil
}

// RemoveSubtree resolves pattern against the manifest and removes every
// matching entry, saving the manifest once at the end.
func (m *Manager) RemoveSubtree(ctx context.Context, pattern string, keepInStore bool) ([]string, error) {
	var removed []string
	var digests map[string]string

	err := m.Store.WithLock(ctx, func(_ context.Context, man *manifest.Manifest) error {
		paths := man.SortedPaths()
		matches, err := resolver.ResolveManifest(paths, pattern)
		if err != nil {
			return err
		}
		digests = make(map[string]string, len(matches))
		for _, p := range matches {
			digests[p] = man.Files[p]
			delete(man.Files, p)
			removed = append(removed, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !keepInStore {
		for path, digest := range digests {
			m.purgeBestEffort(ctx, digest, path)
		}
	}
	return removed, nil
}

func (m *Manager) purgeBestEffort(ctx context.Context, digest, path string) {
	log := s3lfslog.GetLogger(ctx)
	key := objectkey.Blob(m.Prefix, digest, path)

	chunkKeys, err := m.Objects.ListByPrefix(ctx, key+".chunk")
	if err != nil {
		log.Warnf("cleanup: listing chunks for %s: %v", path, err)
		return
	}

	toDelete := append([]string{key}, chunkKeys...)
	if err := m.Objects.Delete(ctx, toDelete...); err != nil {
		log.Warnf("cleanup: failed to delete object(s) for %s: %v", path, err)
	}
}

// Result is the outcome of a Cleanup sweep.
type Result struct {
	Scanned int
	Deleted []string
}

// Cleanup enumerates every object under `{prefix}/assets/`, extracts each
// key's `{digest}` segment, and deletes any object whose digest is not
// referenced by the current manifest. When force is false it still
// computes the plan but does not delete anything — the caller (the CLI
// collaborator) is responsible for confirming before calling again with
// force=true.
func (m *Manager) Cleanup(ctx context.Context, force bool) (Result, error) {
	var referenced map[string]struct{}
	if err := m.Store.View(ctx, func(_ context.Context, man manifest.Manifest) error {
		referenced = make(map[string]struct{}, len(man.Files))
		for _, digest := range man.Files {
			referenced[digest] = struct{}{}
		}
		return nil
	}); err != nil {
		return Result{}, err
	}

	keys, err := m.Objects.ListByPrefix(ctx, objectkey.AssetsPrefix(m.Prefix))
	if err != nil {
		return Result{}, fmt.Errorf("cleanup: enumerating assets: %w", err)
	}

	var orphaned []string
	for _, key := range keys {
		digest, ok := objectkey.DigestFromKey(m.Prefix, key)
		if !ok {
			continue
		}
		if _, ok := referenced[digest]; !ok {
			orphaned = append(orphaned, key)
		}
	}

	result := Result{Scanned: len(keys)}
	if !force {
		result.Deleted = orphaned
		return result, nil
	}

	if len(orphaned) > 0 {
		if err := m.Objects.Delete(ctx, orphaned...); err != nil {
			return result, fmt.Errorf("cleanup: deleting orphaned objects: %w", err)
		}
	}
	result.Deleted = orphaned
	return result, nil
}
