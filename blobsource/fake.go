package blobsource

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// FakeContainer is an in-memory Container for tests: the bottom of the
// blobsource, cachedinput and snapdir test stacks.
type FakeContainer struct {
	mu    sync.Mutex
	parts map[string][]byte

	requests int64 // number of OpenRange calls, for assertions
}

// NewFakeContainer builds an empty FakeContainer.
func NewFakeContainer() *FakeContainer {
	return &FakeContainer{parts: make(map[string][]byte)}
}

// PutPart registers the full content of a named part.
func (f *FakeContainer) PutPart(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[name] = data
}

// Requests returns how many OpenRange calls have been made so far.
func (f *FakeContainer) Requests() int64 {
	return atomic.LoadInt64(&f.requests)
}

func (f *FakeContainer) OpenRange(_ context.Context, partName string, offset, length int64) (io.ReadCloser, error) {
	atomic.AddInt64(&f.requests, 1)

	f.mu.Lock()
	data, ok := f.parts[partName]
	f.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("blobsource: fake container has no part %q", partName)
	}
	if offset < 0 || offset+length > int64(len(data)) {
		return nil, errors.Wrapf(ErrUnexpectedEOF, "part %q has %d bytes, requested [%d,%d)", partName, len(data), offset, offset+length)
	}
	return io.NopCloser(bytes.NewReader(data[offset : offset+length])), nil
}

var _ Container = (*FakeContainer)(nil)
