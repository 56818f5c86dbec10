package transfer

import (
	"github.com/spf13/pflag"

	"github.com/s3lfs/s3lfs/internal/s3lfserr"
)

// Status classifies the outcome the engine recorded for one resolved path.
type Status int

const (
	// StatusUnchanged means the local and manifest digests already agreed;
	// no upload/download happened.
	StatusUnchanged Status = iota
	// StatusTransferred means an object was uploaded (track) or downloaded
	// (checkout); for track, the manifest entry was (or, under DryRun,
	// would have been) updated. Checkout never updates the manifest.
	StatusTransferred
	// StatusSkippedMissing means trackModified skipped a path whose
	// backing file is absent on disk; not an error.
	StatusSkippedMissing
)

// FileResult is what the engine recorded for a single resolved path.
type FileResult struct {
	Path   string
	Digest string
	Status Status
	Err    error
}

// Result is the pipeline's overall outcome.
type Result struct {
	Files     []FileResult
	Cancelled bool
}

// FirstError returns every per-file error recorded, as s3lfserr.TaskErrors
// (whose Error() reports the first of them), or nil if every file
// succeeded.
func (r Result) FirstError() error {
	var errs s3lfserr.TaskErrors
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, s3lfserr.TaskError{Path: f.Path, Cause: f.Err})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// TrackOptions configures one track(pattern, opts) call.
type TrackOptions struct {
	// FailFast aborts remaining tasks at the first per-file error instead
	// of completing the batch and reporting every failure.
	FailFast bool
	// DryRun runs resolve + hash/compare but skips upload and manifest
	// commit, returning the same result shape a real run would commit.
	DryRun bool
}

// CheckoutOptions configures one checkout(pattern, opts) call.
type CheckoutOptions struct {
	FailFast bool
	DryRun   bool
}

// RegisterFlags binds TrackOptions onto fs so a CLI collaborator can offer
// --fail-fast and --dry-run without this package knowing anything about
// argument parsing.
func (o *TrackOptions) RegisterFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.FailFast, "fail-fast", o.FailFast, "abort at the first per-file error instead of reporting all failures")
	fs.BoolVar(&o.DryRun, "dry-run", o.DryRun, "resolve and hash only; skip upload and manifest commit")
}

// RegisterFlags binds CheckoutOptions onto fs, same surface as
// TrackOptions.RegisterFlags.
func (o *CheckoutOptions) RegisterFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.FailFast, "fail-fast", o.FailFast, "abort at the first per-file error instead of reporting all failures")
	fs.BoolVar(&o.DryRun, "dry-run", o.DryRun, "resolve and hash only; skip download and manifest commit")
}
