// Package gzipcodec provides the deterministic gzip encoding spec §4.3
// requires: identical input bytes must produce identical compressed bytes
// across runs and platforms. That means no embedded filename, a zeroed
// modification time, and a fixed compression level.
//
// github.com/klauspost/compress/gzip is a drop-in for the standard
// library's compress/gzip with the same Writer knobs this determinism
// requires, and is already part of the example pack's dependency graph.
package gzipcodec

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Level is the fixed, mid-range compression level spec §4.3 calls for.
// A constant level, rather than a caller-supplied one, is what makes
// compression reproducible: level alone changes the encoded byte stream
// even for identical input and identical gzip header fields.
const Level = 5

// CompressFile reads srcPath and writes a deterministic gzip stream to
// dstPath, creating dstPath if needed and truncating it otherwise. It
// returns the number of compressed bytes written.
func CompressFile(srcPath, dstPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("gzipcodec: open source %q: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("gzipcodec: create destination %q: %w", dstPath, err)
	}

	n, err := Compress(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dstPath)
		return 0, err
	}
	return n, nil
}

// Compress writes a deterministic gzip stream of r to w, returning the
// number of compressed bytes actually written to w. Safe for a zero-byte
// r. The count comes from a counting wrapper around w itself, not from
// io.Copy's return value, which reports bytes read from r (the
// uncompressed input) rather than gzip's buffered, possibly still-larger
// output until the writer is closed.
func Compress(w io.Writer, r io.Reader) (int64, error) {
	cw := &countingWriter{w: w}
	gw, err := gzip.NewWriterLevel(cw, Level)
	if err != nil {
		return 0, fmt.Errorf("gzipcodec: new writer: %w", err)
	}
	// Name and Comment are left empty, ModTime left at its zero value: the
	// three header fields that would otherwise make identical content
	// compress to different bytes on different machines or at different
	// times.

	if _, err := io.Copy(gw, r); err != nil {
		gw.Close()
		return cw.n, fmt.Errorf("gzipcodec: compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return cw.n, fmt.Errorf("gzipcodec: close writer: %w", err)
	}
	return cw.n, nil
}

// countingWriter tallies bytes as they're written through it, used to
// measure gzip's actual compressed output rather than its input.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// DecompressFile writes the decompressed contents of srcPath (a gzip
// stream) to dstPath.
func DecompressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("gzipcodec: open source %q: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("gzipcodec: create destination %q: %w", dstPath, err)
	}

	err = Decompress(dst, bufio.NewReader(src))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dstPath)
		return err
	}
	return nil
}

// Decompress writes the decompressed contents of the gzip stream r to w.
// A truncated or malformed stream surfaces a wrapped error; callers in
// this module translate that into s3lfserr.DecompressionError.
func Decompress(w io.Writer, r io.Reader) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzipcodec: new reader: %w", err)
	}
	defer gr.Close()

	if _, err := io.Copy(w, gr); err != nil {
		return fmt.Errorf("gzipcodec: decompress: %w", err)
	}
	return nil
}
