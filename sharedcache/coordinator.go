// Package sharedcache defines the SharedCacheCoordinator contract
// CachedInput consumes, and provides a reference in-process
// implementation. The real admission/eviction policy (an LFU region
// manager) stays out of scope; File exists so the core is exercised
// end-to-end by tests without mocking every collaborator.
package sharedcache

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/0xfr3/blobcache/cacheexec"
	"github.com/0xfr3/blobcache/rangemath"
)

// ReaderFunc copies bytes out of channel at channelPos (equivalently
// relativePos within the writer's declared range) into the caller's
// destination, returning the number of bytes consumed.
type ReaderFunc func(channel ReadWriter, channelPos, relativePos, length int64) (int, error)

// WriterFunc writes length bytes at channelPos into channel, calling
// progress(bytesSoFar) after each increment of its own choosing so that
// progress becomes visible to concurrent readers.
type WriterFunc func(channel ReadWriter, channelPos, relativePos, length int64, progress func(bytesSoFar int64)) error

// Coordinator is the shared-cache contract CachedInput reads and writes through.
type Coordinator interface {
	// ReadIfAvailableOrPending returns a Future and true if r is
	// entirely resident or currently being filled by another writer;
	// otherwise it returns (Future{}, false).
	ReadIfAvailableOrPending(ctx context.Context, h *Handle, r rangemath.Range, reader ReaderFunc) (Future, bool)

	// PopulateAndRead declares intent to fill writeRange (which must
	// contain readRange), scheduling a writer for writeRange's unpopulated
	// gaps on exec. A call whose writeRange is identical to one already in
	// flight waits for that fill instead of scheduling a second writer;
	// overlapping but different writeRanges each schedule their own
	// writer. Once readRange is available,
	// reader runs exactly once; its return value is the future's value.
	PopulateAndRead(ctx context.Context, h *Handle, writeRange, readRange rangemath.Range, reader ReaderFunc, writer WriterFunc, exec *cacheexec.Pool) Future
}

// File is the shared cache file: a process-wide pool of per-logical-file
// regions (Handle), each with its own populated-region tracking and
// in-flight writer deduplication, generalized from chunk-aligned
// regions to arbitrary aligned ranges.
type File struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewFile builds an empty shared cache file.
func NewFile() *File {
	return &File{handles: make(map[string]*Handle)}
}

// Handle resolves name to its region handle, creating one of the given
// length if none exists yet. This fixes a latent check-then-replace
// race a naive implementation of this lookup is prone to: under one mutex,
// the stored reference is replaced iff it is nil or evicted; otherwise
// the live reference is returned unchanged. A reference must never be
// handed out, found evicted by a racing caller, and silently replaced
// out from under an in-flight operation that still holds it.
func (f *File) Handle(name string, length int64) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.handles[name]; ok && !h.IsEvicted() {
		return h
	}
	h := newHandle(name, length)
	f.handles[name] = h
	return h
}

// Evict transitions name's region to Evicted, if it exists. The next
// Handle(name, ...) call will replace it with a fresh, Live region.
func (f *File) Evict(name string) {
	f.mu.Lock()
	h, ok := f.handles[name]
	f.mu.Unlock()
	if ok {
		h.Evict()
	}
}

func (f *File) ReadIfAvailableOrPending(ctx context.Context, h *Handle, r rangemath.Range, reader ReaderFunc) (Future, bool) {
	if h.IsEvicted() {
		return Future{}, false
	}

	h.mu.Lock()
	if h.populated.contains(r) {
		h.mu.Unlock()
		n, err := reader(h, r.From, r.From, r.Len())
		return resolved(n, err), true
	}
	for wr, fl := range h.inflight {
		if wr.Contains(r) {
			h.mu.Unlock()
			return fromDone(fl.done, func() (int, error) {
				if fl.err != nil {
					return 0, fl.err
				}
				return reader(h, r.From, r.From, r.Len())
			}), true
		}
	}
	h.mu.Unlock()
	return Future{}, false
}

func (f *File) PopulateAndRead(ctx context.Context, h *Handle, writeRange, readRange rangemath.Range, reader ReaderFunc, writer WriterFunc, exec *cacheexec.Pool) Future {
	if !writeRange.Contains(readRange) {
		return resolved(0, errors.Errorf("sharedcache: writeRange %+v does not contain readRange %+v", writeRange, readRange))
	}
	if h.IsEvicted() {
		return resolved(0, ErrEvicted)
	}

	h.mu.Lock()
	if h.populated.contains(writeRange) {
		h.mu.Unlock()
		n, err := reader(h, readRange.From, readRange.From, readRange.Len())
		return resolved(n, err)
	}
	if fl, ok := h.inflight[writeRange]; ok {
		h.mu.Unlock()
		return fromDone(fl.done, func() (int, error) {
			if fl.err != nil {
				return 0, fl.err
			}
			return reader(h, readRange.From, readRange.From, readRange.Len())
		})
	}

	gaps := h.populated.complement(writeRange)
	fl := &fill{writeRange: writeRange, done: make(chan struct{})}
	h.inflight[writeRange] = fl
	h.mu.Unlock()

	resultCh := exec.Go(ctx, func(cacheexec.Token) error {
		var err error
		for _, gap := range gaps {
			if h.IsEvicted() {
				err = ErrEvicted
				break
			}
			relative := gap.From - writeRange.From
			progress := func(bytesSoFar int64) {
				h.mu.Lock()
				h.populated.add(rangemath.Range{From: gap.From, To: gap.From + bytesSoFar})
				h.mu.Unlock()
			}
			if werr := writer(h, gap.From, relative, gap.Len(), progress); werr != nil {
				err = werr
				break
			}
			h.mu.Lock()
			h.populated.add(gap)
			h.mu.Unlock()
		}
		if err == nil && h.IsEvicted() {
			err = ErrEvicted
		}
		return err
	})

	go func() {
		err := <-resultCh
		h.mu.Lock()
		fl.err = err
		delete(h.inflight, writeRange)
		h.mu.Unlock()
		close(fl.done)
	}()

	return fromDone(fl.done, func() (int, error) {
		if fl.err != nil {
			return 0, fl.err
		}
		return reader(h, readRange.From, readRange.From, readRange.Len())
	})
}

var _ Coordinator = (*File)(nil)
