// Package s3lfs is the core of a Git-adjacent large-file versioning tool.
// It maintains a side-car manifest mapping working-tree paths to SHA-256
// digests, stores the actual bytes content-addressed in an S3-compatible
// object store, and drives the track/checkout pipelines that move bytes
// between the two.
//
// Repo
//
// Repo is the single entry point: it owns the manifest store, the object
// store client, and the transfer engine, and exposes the operations an
// external CLI collaborator drives (init, track, checkout, list, remove,
// cleanup, migrate). Repo never discovers a repository root on its own;
// the root is a configured value, same as the bucket and prefix.
//
// Concurrency
//
// Track and checkout each run their own bounded worker pool. The manifest
// lock serialises every read-modify-write both across processes and
// across goroutines of one process, so concurrent track calls on the same
// Repo each commit their own entries without overwriting the other's.
package s3lfs
