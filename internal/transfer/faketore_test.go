package transfer

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/s3lfs/s3lfs/internal/digestutil"
	"github.com/s3lfs/s3lfs/internal/objectstore"
)

// fakeStore is an in-memory ObjectStore fake, modeled on the shape of the
// registry's own in-memory storage driver: a map keyed by object key,
// safe for concurrent use by the engine's worker pool.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	probeErr error
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Probe(ctx context.Context, prefix string) error {
	return f.probeErr
}

func (f *fakeStore) Head(ctx context.Context, key string) (objectstore.HeadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return objectstore.HeadResult{}, nil
	}
	return objectstore.HeadResult{Exists: true, ETag: digestutil.MD5Bytes(data), Size: int64(len(data))}, nil
}

func (f *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[key] = data
	f.puts++
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string, w io.Writer) (int64, error) {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return 0, nil
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	return n, err
}

func (f *fakeStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStore) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.objects, k)
	}
	return nil
}
