// Package stats defines the accounting contract CachedInput reports
// against, and a lock-free default implementation.
package stats

import (
	"sync/atomic"
	"time"
)

// FillToken is returned by BeginIndexCacheFill and closed exactly once,
// successful or not, to report header-cache fill duration.
type FillToken interface {
	Close()
}

// Sink is the stats contract consumed by cachedinput.Input. Implementations
// must be safe for concurrent additive updates.
type Sink interface {
	// IncrementOpenCount is called once per top-level CachedInput
	// construction, never on Slice/Clone.
	IncrementOpenCount()

	// CachedBytesRead accounts bytes served from the resident disk fast
	// path.
	CachedBytesRead(n int64)

	// CachedBytesWritten accounts bytes written into the shared cache
	// region by a populateAndRead writer callback, with elapsed time.
	CachedBytesWritten(n int64, nanos int64)

	// IndexCacheBytesRead accounts bytes served from the header cache
	// hit path.
	IndexCacheBytesRead(n int64)

	// BeginIndexCacheFill opens a token closed when the asynchronous
	// header-cache Put completion runs.
	BeginIndexCacheFill() FillToken

	// BlobStoreBytesRequested accounts bytes requested from the remote
	// blob store, across writer callbacks and direct-read fallbacks.
	BlobStoreBytesRequested(n int64)

	// DirectBytesRead accounts bytes read directly from the blob store
	// during the eviction fallback.
	DirectBytesRead(n int64, nanos int64)

	// BytesRead is a gauge distinguishing contiguous from
	// non-contiguous reads.
	BytesRead(lastPos, newPos, n int64)

	// Seeks is a gauge of seek pattern.
	Seeks(lastSeekPos, newSeekPos int64)
}

// Atomic is a lock-free Sink built on sync/atomic counters.
type Atomic struct {
	openCount               int64
	cachedBytesRead         int64
	cachedBytesWritten      int64
	cachedWriteNanos        int64
	indexCacheBytesRead     int64
	indexCacheFillNanos     int64
	indexCacheFillCount     int64
	blobStoreBytesRequested int64
	directBytesRead         int64
	directReadNanos         int64
	contiguousReads         int64
	nonContiguousReads      int64
	seekCount               int64
}

var _ Sink = (*Atomic)(nil)

func (a *Atomic) IncrementOpenCount() { atomic.AddInt64(&a.openCount, 1) }

func (a *Atomic) CachedBytesRead(n int64) { atomic.AddInt64(&a.cachedBytesRead, n) }

func (a *Atomic) CachedBytesWritten(n int64, nanos int64) {
	atomic.AddInt64(&a.cachedBytesWritten, n)
	atomic.AddInt64(&a.cachedWriteNanos, nanos)
}

func (a *Atomic) IndexCacheBytesRead(n int64) { atomic.AddInt64(&a.indexCacheBytesRead, n) }

type atomicFillToken struct {
	a     *Atomic
	start int64
	done  int32
}

func (t *atomicFillToken) Close() {
	if !atomic.CompareAndSwapInt32(&t.done, 0, 1) {
		return
	}
	atomic.AddInt64(&t.a.indexCacheFillCount, 1)
	atomic.AddInt64(&t.a.indexCacheFillNanos, time.Now().UnixNano()-t.start)
}

func (a *Atomic) BeginIndexCacheFill() FillToken {
	return &atomicFillToken{a: a, start: time.Now().UnixNano()}
}

func (a *Atomic) BlobStoreBytesRequested(n int64) {
	atomic.AddInt64(&a.blobStoreBytesRequested, n)
}

func (a *Atomic) DirectBytesRead(n int64, nanos int64) {
	atomic.AddInt64(&a.directBytesRead, n)
	atomic.AddInt64(&a.directReadNanos, nanos)
}

func (a *Atomic) BytesRead(lastPos, newPos, n int64) {
	if lastPos == newPos {
		atomic.AddInt64(&a.contiguousReads, 1)
	} else {
		atomic.AddInt64(&a.nonContiguousReads, 1)
	}
}

func (a *Atomic) Seeks(lastSeekPos, newSeekPos int64) {
	atomic.AddInt64(&a.seekCount, 1)
}

// Snapshot is a point-in-time copy of all counters, useful for assertions
// in tests.
type Snapshot struct {
	OpenCount               int64
	CachedBytesRead         int64
	CachedBytesWritten      int64
	IndexCacheBytesRead     int64
	IndexCacheFillCount     int64
	BlobStoreBytesRequested int64
	DirectBytesRead         int64
	ContiguousReads         int64
	NonContiguousReads      int64
	SeekCount               int64
}

// Snapshot reads each counter atomically; the counters are loaded one by
// one, not as a single consistent set (Sink only promises per-counter
// atomicity).
func (a *Atomic) Snapshot() Snapshot {
	return Snapshot{
		OpenCount:               atomic.LoadInt64(&a.openCount),
		CachedBytesRead:         atomic.LoadInt64(&a.cachedBytesRead),
		CachedBytesWritten:      atomic.LoadInt64(&a.cachedBytesWritten),
		IndexCacheBytesRead:     atomic.LoadInt64(&a.indexCacheBytesRead),
		IndexCacheFillCount:     atomic.LoadInt64(&a.indexCacheFillCount),
		BlobStoreBytesRequested: atomic.LoadInt64(&a.blobStoreBytesRequested),
		DirectBytesRead:         atomic.LoadInt64(&a.directBytesRead),
		ContiguousReads:         atomic.LoadInt64(&a.contiguousReads),
		NonContiguousReads:      atomic.LoadInt64(&a.nonContiguousReads),
		SeekCount:               atomic.LoadInt64(&a.seekCount),
	}
}
