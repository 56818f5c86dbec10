package manifest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/s3lfs/s3lfs/internal/s3lfserr"
	"github.com/s3lfs/s3lfs/internal/s3lfslog"
)

// lockRetryInterval is how often TryLockContext polls for the
// cross-process lock while it blocks waiting for another process to
// release it.
const lockRetryInterval = 25 * time.Millisecond

// Store owns the manifest document on disk and the lock guarding it.
// Exactly one Store should exist per manifest path within a process; all
// mutation goes through WithLock so concurrent engine runs within the same
// process, and concurrent processes, serialise on the same lock scope.
type Store struct {
	path string
	lock *flock.Flock

	// mu is the process-wide half of the lock: the outermost lockScope
	// holds it for the whole hold, so two unrelated goroutines calling
	// WithLock/View with their own, token-less contexts serialise on it
	// (flock.Flock alone does not, since a second TryLock on the same
	// instance succeeds at once). depth is the nesting counter for the
	// single call chain holding mu, identified by lockTokenKey on ctx.
	mu    sync.Mutex
	depth int
}

// lockTokenKey is the context key carrying proof that the calling stack
// already holds this Store's lock. Only a context derived from the one
// lockScope returned to the outermost caller carries it, so two
// independent callers — even ones that happen to call WithLock/View with
// contexts derived from a shared parent, such as two errgroup tasks
// sharing one group context — never mistake each other's hold for their
// own: context.WithValue returns a new value, it does not mutate the
// context either caller already has in hand.
type lockTokenKey struct{}

// New returns a Store for the manifest at path. The lock file is a
// sibling named path+".lock" (spec §6.2): its sole purpose is carrying an
// advisory exclusive lock, never manifest content.
func New(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the manifest file path this Store guards.
func (s *Store) Path() string { return s.path }

// Load returns the current manifest document without acquiring the lock.
// If the file is absent, it returns Empty() per spec §4.1. Callers that
// need a consistent read-then-act should go through WithLock instead.
func (s *Store) Load() (Manifest, error) {
	return s.loadLocked()
}

func (s *Store) loadLocked() (Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return Manifest{}, s3lfserr.ManifestCorruptError{Path: s.path, Reason: err.Error()}
	}
	return decode(s.path, data)
}

// Save atomically persists m as the preferred (YAML) encoding. Prefer
// WithLock for anything that read before writing; Save alone does not
// acquire the cross-process lock.
func (s *Store) Save(m Manifest) error {
	if err := m.Validate(); err != nil {
		return s3lfserr.ManifestCorruptError{Path: s.path, Reason: err.Error()}
	}
	data, err := encode(m)
	if err != nil {
		return s3lfserr.ManifestPersistError{Path: s.path, Err: err}
	}
	return atomicWrite(s.path, data)
}

// WithLock acquires the exclusive process-wide and cross-process lock,
// loads the current manifest, calls fn with a mutable copy, and on a nil
// return atomically saves the result. On error, the save is skipped; the
// lock is always released (spec §4.1). fn receives a context carrying
// proof of the hold, so a call that re-enters WithLock/View using that
// same context (the same call chain re-entering, not a second goroutine)
// does not deadlock on its own cross-process lock.
func (s *Store) WithLock(ctx context.Context, fn func(ctx context.Context, m *Manifest) error) error {
	lockCtx, release, err := s.lockScope(ctx)
	if err != nil {
		return err
	}
	defer release()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}

	if err := fn(lockCtx, &m); err != nil {
		return err
	}

	return s.Save(m)
}

// View acquires the same lock scope as WithLock but never saves: it is
// for a read that must observe the most recently committed state without
// participating in a read-modify-write cycle (e.g. the track pipeline's
// per-task "is this path already at this digest" check).
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, m Manifest) error) error {
	lockCtx, release, err := s.lockScope(ctx)
	if err != nil {
		return err
	}
	defer release()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	return fn(lockCtx, m)
}

// lockScope acquires the cross-process lock unless ctx already carries
// this Store's token (meaning the calling stack already holds it), and
// returns a context enriched with that token for the caller to thread
// into any nested WithLock/View call it makes itself. Only a context
// derived from the one returned here carries the token forward; a
// sibling goroutine holding the original, unenriched ctx still contends
// for the real lock, which is the fix for two independent callers
// racing a shared boolean instead of actually serialising.
func (s *Store) lockScope(ctx context.Context) (context.Context, func(), error) {
	if held, ok := ctx.Value(lockTokenKey{}).(*Store); ok && held == s {
		// The calling chain already holds mu, so depth is its alone.
		s.depth++
		return ctx, func() {
			s.depth--
		}, nil
	}

	s.mu.Lock()
	if err := s.acquireCrossProcess(ctx); err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	s.depth = 1

	lockCtx := context.WithValue(ctx, lockTokenKey{}, s)
	return lockCtx, func() {
		s.depth--
		if s.depth == 0 {
			if err := s.lock.Unlock(); err != nil {
				s3lfslog.GetLogger(ctx).Warnf("manifest: failed to release lock: %v", err)
			}
			s.mu.Unlock()
		}
	}, nil
}

func (s *Store) acquireCrossProcess(ctx context.Context) error {
	locked, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return s3lfserr.ManifestPersistError{Path: s.path, Err: fmt.Errorf("acquire lock: %w", err)}
	}
	if !locked {
		return s3lfserr.ManifestPersistError{Path: s.path, Err: fmt.Errorf("timed out acquiring manifest lock")}
	}
	return nil
}

// Migrate copies a legacy-encoding manifest (JSON) into the preferred
// encoding (YAML) without deleting the legacy file, per spec §6.2's
// one-way migration requirement. It is a no-op if legacyPath(path)
// doesn't exist.
func (s *Store) Migrate() error {
	legacy := legacyPath(s.path)

	data, err := os.ReadFile(legacy)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return s3lfserr.ManifestCorruptError{Path: legacy, Reason: err.Error()}
	}

	m, err := decode(legacy, data)
	if err != nil {
		return err
	}

	return s.Save(m)
}
