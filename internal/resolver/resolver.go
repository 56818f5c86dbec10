// Package resolver implements the shared glob semantics that both the
// filesystem-side (track) and manifest-side (checkout) lookups use, so the
// two sides agree on what a user pattern means regardless of which set of
// paths it is matched against.
package resolver

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// HasMeta reports whether pattern contains shell-glob meta-characters.
// "**" is covered: it still contains "*".
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

func normalize(p string) string {
	return strings.Trim(filepath.ToSlash(p), "/")
}

// Match reports whether candidate matches pattern under the rules:
// a meta-free pattern matches exactly or as a directory prefix
// (pattern+"/" followed by more segments); a pattern with meta-characters
// matches segment-wise, with "*" confined to one segment and "**"
// spanning zero or more.
func Match(pattern, candidate string) (bool, error) {
	pattern = normalize(pattern)
	candidate = normalize(candidate)
	if pattern == "" || candidate == "" {
		return false, nil
	}

	if !HasMeta(pattern) {
		if pattern == candidate {
			return true, nil
		}
		return strings.HasPrefix(candidate, pattern+"/"), nil
	}

	ok, err := doublestar.Match(pattern, candidate)
	if err != nil {
		return false, fmt.Errorf("resolver: bad pattern %q: %w", pattern, err)
	}
	return ok, nil
}

// ResolveManifest resolves pattern against an already-known set of tracked
// paths (spec §4.2, manifest side). Results are sorted for determinism.
func ResolveManifest(paths []string, pattern string) ([]string, error) {
	var out []string
	for _, p := range paths {
		ok, err := Match(pattern, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ResolveFilesystem resolves pattern against the working tree rooted at
// root (spec §4.2, filesystem side). An existing regular file resolves to
// just itself; an existing directory resolves to every regular file
// beneath it; anything else is matched via the shared glob semantics
// against every regular file under root. Symlinks follow the host's
// default WalkDir behaviour; directories themselves are never returned.
func ResolveFilesystem(root, pattern string) ([]string, error) {
	pattern = normalize(pattern)
	if pattern == "" {
		return nil, nil
	}

	full := filepath.Join(root, filepath.FromSlash(pattern))
	if info, err := os.Stat(full); err == nil {
		if info.Mode().IsRegular() {
			return []string{pattern}, nil
		}
		if info.IsDir() {
			return walkRegularFiles(root, full)
		}
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root || !d.Type().IsRegular() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		ok, merr := Match(pattern, rel)
		if merr != nil {
			return merr
		}
		if ok {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func walkRegularFiles(root, dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
