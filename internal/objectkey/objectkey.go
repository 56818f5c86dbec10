// Package objectkey derives the remote key for a tracked path's content,
// the one bit-exact layout every other package must agree on (spec §6.1).
package objectkey

import (
	"fmt"
	"strings"
)

// AssetsSegment is the fixed path segment every derived key lives under,
// so cleanup's mark-and-sweep can enumerate exactly this subtree.
const AssetsSegment = "assets"

// Blob returns the single-blob key for relpath's content at digest.
// relpath must already be forward-slash, repo-relative, and
// case-preserved; it is never percent-encoded.
func Blob(prefix, digest, relpath string) string {
	return fmt.Sprintf("%s/%s/%s/%s.gz", prefix, AssetsSegment, digest, relpath)
}

// Chunk returns the i-th chunk key derived from a single-blob key, ASCII
// decimal with no padding. The unsuffixed key must not exist once any
// chunk key does.
func Chunk(blobKey string, i int) string {
	return fmt.Sprintf("%s.chunk%d", blobKey, i)
}

// AssetsPrefix returns the prefix cleanup enumerates to find every
// object belonging to this repository, `{prefix}/assets/`.
func AssetsPrefix(prefix string) string {
	return fmt.Sprintf("%s/%s/", prefix, AssetsSegment)
}

// DigestFromKey extracts the `{digest}` path segment from a key under
// AssetsPrefix(prefix), so cleanup can compare it against the manifest's
// referenced digests regardless of whether the key is a single blob or a
// numbered chunk.
func DigestFromKey(prefix, key string) (string, bool) {
	rest := strings.TrimPrefix(key, AssetsPrefix(prefix))
	if rest == key {
		return "", false
	}
	idx := strings.Index(rest, "/")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}
