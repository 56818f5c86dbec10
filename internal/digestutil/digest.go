// Package digestutil computes the content digests the rest of s3lfs keys
// everything by: SHA-256 over whole file content (never path or metadata),
// and MD5 over an in-memory buffer for the Object Store Client's ETag
// dedup probe (spec §4.3/§4.4).
package digestutil

import (
	"crypto/md5" //nolint:gosec // used only to match S3's single-part ETag, not for security
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// EmptySHA256Hex is the well-known SHA-256 of the empty byte string,
// spelled out so tests can assert against it without recomputing.
const EmptySHA256Hex = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// SHA256File computes the lowercase hex SHA-256 digest of the file at path.
// The digest covers raw bytes only; an empty file yields EmptySHA256Hex.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digestutil: open %q: %w", path, err)
	}
	defer f.Close()

	return SHA256Reader(f)
}

// SHA256Reader computes the lowercase hex SHA-256 digest of everything read
// from r.
func SHA256Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("digestutil: hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MD5Bytes computes the lowercase hex MD5 digest of p, matching the format
// S3 returns (unquoted) as a single-part object's ETag.
func MD5Bytes(p []byte) string {
	sum := md5.Sum(p) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// MD5File computes the lowercase hex MD5 digest of the file at path, for
// the dedup probe's local-vs-ETag comparison (spec §4.4).
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digestutil: open %q: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digestutil: hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsValidDigest reports whether s is exactly 64 lowercase hex characters,
// the manifest invariant from spec §3.
func IsValidDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
