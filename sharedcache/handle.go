package sharedcache

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/0xfr3/blobcache/rangemath"
)

// ErrEvicted is the terminal error every in-flight operation against an
// evicted region observes.
var ErrEvicted = errors.New("sharedcache: region evicted")

const (
	stateLive int32 = iota
	stateEvicted
)

// ReadWriter is the "cache channel" reader/writer callbacks operate
// against: positional reads and writes into the shared cache region's
// backing storage.
type ReadWriter interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Handle is an opaque handle to a region within the shared cache file,
// scoped to one logical file's cached bytes. It keeps no reference
// count; its bytes live as long as the Handle is reachable. It
// transitions Live -> Evicted at most once; readers observe eviction as
// ErrEvicted on any in-flight operation.
type Handle struct {
	name   string
	length int64
	state  int32 // atomic: stateLive | stateEvicted

	data []byte
	dmu  sync.RWMutex

	mu       sync.Mutex
	populated regionSet
	inflight  map[rangemath.Range]*fill
}

func newHandle(name string, length int64) *Handle {
	return &Handle{
		name:     name,
		length:   length,
		data:     make([]byte, length),
		inflight: make(map[rangemath.Range]*fill),
	}
}

// IsEvicted reports whether the region has transitioned to Evicted.
func (h *Handle) IsEvicted() bool {
	return atomic.LoadInt32(&h.state) == stateEvicted
}

// Evict transitions the region to Evicted. One-way; idempotent.
func (h *Handle) Evict() {
	atomic.StoreInt32(&h.state, stateEvicted)
}

func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	h.dmu.RLock()
	defer h.dmu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(h.data)) {
		return 0, errors.Errorf("sharedcache: read [%d,%d) out of bounds for %d-byte region", off, off+int64(len(p)), len(h.data))
	}
	copy(p, h.data[off:off+int64(len(p))])
	return len(p), nil
}

func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	h.dmu.Lock()
	defer h.dmu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(h.data)) {
		return 0, errors.Errorf("sharedcache: write [%d,%d) out of bounds for %d-byte region", off, off+int64(len(p)), len(h.data))
	}
	copy(h.data[off:off+int64(len(p))], p)
	return len(p), nil
}

var _ ReadWriter = (*Handle)(nil)

// fill tracks one in-flight populateAndRead write.
type fill struct {
	writeRange rangemath.Range
	done       chan struct{}
	err        error
}
