// Package manifest owns the on-disk manifest document: load, atomic
// persist, and the cross-process exclusive lock around every
// read-modify-write cycle (spec §4.1). No other package is allowed to
// write the manifest file directly.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/s3lfs/s3lfs/internal/digestutil"
	"github.com/s3lfs/s3lfs/internal/s3lfserr"
)

// Manifest is the single source of truth for what is tracked (spec §3).
// Absence of a path from Files means untracked, regardless of what sits
// in the remote store.
type Manifest struct {
	Bucket string            `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix string            `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Files  map[string]string `yaml:"files" json:"files"`
}

// Empty returns the manifest load() yields when no file exists yet: no
// remote configuration bound, an empty tracked set.
func Empty() Manifest {
	return Manifest{Files: map[string]string{}}
}

// Validate checks the invariants spec §3 requires of every entry: a
// forward-slash, non-absolute, non-parent-escaping path, and a 64-character
// lowercase hex digest.
func (m Manifest) Validate() error {
	for path, digest := range m.Files {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("path %q: %w", path, err)
		}
		if !digestutil.IsValidDigest(digest) {
			return fmt.Errorf("path %q: digest %q is not 64 lowercase hex characters", path, digest)
		}
	}
	return nil
}

func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("must use forward slashes")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("must not be absolute")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("must not contain . or .. components")
		}
	}
	return nil
}

// SortedPaths returns m's tracked paths in sorted order, the order the
// preferred YAML encoding is written in so diffs stay meaningful.
func (m Manifest) SortedPaths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy, so a caller holding the lock can hand out a
// manifest snapshot without another goroutine's later mutation reaching
// through it.
func (m Manifest) Clone() Manifest {
	files := make(map[string]string, len(m.Files))
	for k, v := range m.Files {
		files[k] = v
	}
	return Manifest{Bucket: m.Bucket, Prefix: m.Prefix, Files: files}
}

// legacyPath returns the sibling legacy-encoding (JSON) path for a
// preferred-encoding (YAML) manifest path, and vice versa.
func legacyPath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	switch ext {
	case ".json":
		return base + ".yaml"
	default:
		return base + ".json"
	}
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func decode(path string, data []byte) (Manifest, error) {
	var m Manifest
	var err error
	if isJSONPath(path) {
		err = jsonUnmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return Manifest{}, s3lfserr.ManifestCorruptError{Path: path, Reason: err.Error()}
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, s3lfserr.ManifestCorruptError{Path: path, Reason: err.Error()}
	}
	return m, nil
}

// encode always uses the preferred (YAML) encoding, pretty-printed with
// stable key ordering, regardless of which encoding was read.
func encode(m Manifest) ([]byte, error) {
	// yaml.v2 marshals map keys in sorted order, which is what gives Files
	// its stable ordering here; the map is passed through as-is.
	ordered := struct {
		Bucket string            `yaml:"bucket,omitempty"`
		Prefix string            `yaml:"prefix,omitempty"`
		Files  map[string]string `yaml:"files"`
	}{Bucket: m.Bucket, Prefix: m.Prefix, Files: m.Files}

	out, err := yaml.Marshal(ordered)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// atomicWrite writes data to a sibling temp file in dir(path), then
// renames it over path. A failed write deletes the temp file rather than
// leaving it behind (spec §4.1/§6.2: a stray ".tmp" after an unclean exit
// is tolerated, but this path doesn't leave one on a clean failure).
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s3lfserr.ManifestPersistError{Path: path, Err: err}
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return s3lfserr.ManifestPersistError{Path: path, Err: err}
	}

	writeErr := func() error {
		if _, err := f.Write(data); err != nil {
			return err
		}
		return f.Sync()
	}()
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmp)
		return s3lfserr.ManifestPersistError{Path: path, Err: writeErr}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return s3lfserr.ManifestPersistError{Path: path, Err: err}
	}
	return nil
}
