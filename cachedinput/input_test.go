package cachedinput

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xfr3/blobcache/blobsource"
	"github.com/0xfr3/blobcache/cacheexec"
	"github.com/0xfr3/blobcache/headercache"
	"github.com/0xfr3/blobcache/partition"
	"github.com/0xfr3/blobcache/sharedcache"
	"github.com/0xfr3/blobcache/stats"
)

type fakeDir struct{ recovered bool }

func (f fakeDir) RecoveryComplete() bool { return f.recovered }

type harness struct {
	in        *Input
	container *blobsource.FakeContainer
	headers   *headercache.LRU
	sink      *stats.Atomic
	data      []byte
	fi        *partition.FileInfo
}

func newHarness(t *testing.T, length, partSize int64, checksum string, hcBlobSize int64) *harness {
	t.Helper()

	fi := partition.New("foo.bin", length, partSize, checksum, nil, nil)
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i)
	}

	container := blobsource.NewFakeContainer()
	for i := int64(0); i < fi.NumberOfParts; i++ {
		lo := i * partSize
		container.PutPart(fi.PartName(i), data[lo:lo+fi.PartBytes(i)])
	}

	sink := &stats.Atomic{}
	bsrc := blobsource.New(container, sink)
	headers := headercache.NewLRU(16)
	t.Cleanup(headers.Close)
	file := sharedcache.NewFile()
	cache := file.Handle(fi.Name, fi.Length)
	exec := cacheexec.NewPool(4)
	cfg := NewConfig(WithHeaderCacheBlobSize(hcBlobSize))

	in := New(fakeDir{recovered: true}, fi, file, cache, bsrc, headers, exec, sink, cfg)
	return &harness{in: in, container: container, headers: headers, sink: sink, data: data, fi: fi}
}

func (h *harness) readAt(t *testing.T, pos, length int64) []byte {
	t.Helper()
	if err := h.in.SeekInternal(pos); err != nil {
		t.Fatalf("SeekInternal(%d): %v", pos, err)
	}
	buf := make([]byte, length)
	if err := h.in.ReadInternal(context.Background(), buf); err != nil {
		t.Fatalf("ReadInternal at %d len %d: %v", pos, length, err)
	}
	return buf
}

func assertBytes(t *testing.T, got, want []byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length = %d; want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d; want %d", i, got[i], want[i])
		}
	}
}

func TestFooterShortcutAvoidsBackend(t *testing.T) {
	h := newHarness(t, 1000, 256, "1a2b3c4d", 4096)
	buf := h.readAt(t, h.fi.Length-FooterLength, FooterLength)
	footer, ok := synthesizeFooter("1a2b3c4d")
	if !ok {
		t.Fatal("synthesizeFooter returned ok=false for a well-formed checksum")
	}
	assertBytes(t, buf, footer)
	if h.container.Requests() != 0 {
		t.Errorf("container requests = %d; want 0, footer shortcut must not touch the backend", h.container.Requests())
	}
}

func TestFooterShortcutSkippedOnClone(t *testing.T) {
	h := newHarness(t, 1000, 256, "1a2b3c4d", 4096)
	clone := h.in.Clone()
	if err := clone.SeekInternal(h.fi.Length - FooterLength); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, FooterLength)
	if err := clone.ReadInternal(context.Background(), buf); err != nil {
		t.Fatalf("ReadInternal: %v", err)
	}
	assertBytes(t, buf, h.data[h.fi.Length-FooterLength:])
	if h.container.Requests() == 0 {
		t.Error("a clone reading the trailing bytes must go through the normal path, not the footer shortcut")
	}
}

func TestColdMissInteriorRange(t *testing.T) {
	h := newHarness(t, 2048, 512, "", 64)
	got := h.readAt(t, 600, 300)
	assertBytes(t, got, h.data[600:900])
	if h.container.Requests() == 0 {
		t.Error("expected at least one backend request for a cold miss")
	}
	snap := h.sink.Snapshot()
	if snap.BlobStoreBytesRequested == 0 {
		t.Error("expected BlobStoreBytesRequested > 0")
	}
}

func TestColdMissStraddlesParts(t *testing.T) {
	h := newHarness(t, 2048, 512, "", 64)
	// [400, 700) straddles part 0 ([0,512)) and part 1 ([512,1024)).
	got := h.readAt(t, 400, 300)
	assertBytes(t, got, h.data[400:700])
}

func TestDiskFastPathAfterPrefetch(t *testing.T) {
	h := newHarness(t, 2048, 512, "", 64)
	if err := h.in.Prefetch(context.Background(), 0, h.fi.Length); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	requestsAfterPrefetch := h.container.Requests()
	if requestsAfterPrefetch == 0 {
		t.Fatal("expected Prefetch to touch the backend")
	}

	got := h.readAt(t, 100, 200)
	assertBytes(t, got, h.data[100:300])
	if h.container.Requests() != requestsAfterPrefetch {
		t.Errorf("container requests grew from %d to %d; the disk fast path must not re-touch the backend", requestsAfterPrefetch, h.container.Requests())
	}
	snap := h.sink.Snapshot()
	if snap.CachedBytesRead == 0 {
		t.Error("expected CachedBytesRead > 0 for a disk-fast-path read")
	}
}

// trackingContainer wraps a FakeContainer's data with a bounded delay on
// every OpenRange call, tracking the high-water mark of concurrently
// in-flight calls so tests can prove Prefetch actually fans out.
type trackingContainer struct {
	inner *blobsource.FakeContainer
	hold  time.Duration

	active int64
	max    int64
}

func (c *trackingContainer) OpenRange(ctx context.Context, partName string, offset, length int64) (io.ReadCloser, error) {
	n := atomic.AddInt64(&c.active, 1)
	for {
		cur := atomic.LoadInt64(&c.max)
		if n <= cur || atomic.CompareAndSwapInt64(&c.max, cur, n) {
			break
		}
	}
	time.Sleep(c.hold)
	atomic.AddInt64(&c.active, -1)
	return c.inner.OpenRange(ctx, partName, offset, length)
}

func TestPrefetchFansOutWithinConcurrencyLimit(t *testing.T) {
	const rangeSize = 512
	const regions = 6
	const concurrency = 3
	length := int64(regions * rangeSize)

	fi := partition.New("foo.bin", length, length, "", nil, nil)
	data := make([]byte, length)
	fake := blobsource.NewFakeContainer()
	fake.PutPart(fi.PartName(0), data)
	tracking := &trackingContainer{inner: fake, hold: 20 * time.Millisecond}

	sink := &stats.Atomic{}
	bsrc := blobsource.New(tracking, sink)
	headers := headercache.NewLRU(16)
	t.Cleanup(headers.Close)
	file := sharedcache.NewFile()
	cache := file.Handle(fi.Name, fi.Length)
	exec := cacheexec.NewPool(8)
	cfg := NewConfig(WithDefaultRangeSize(rangeSize), WithPrefetchConcurrency(concurrency))
	in := New(fakeDir{recovered: true}, fi, file, cache, bsrc, headers, exec, sink, cfg)

	if err := in.Prefetch(context.Background(), 0, length); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}

	max := atomic.LoadInt64(&tracking.max)
	if max > concurrency {
		t.Errorf("observed %d concurrent fetches; want <= PrefetchConcurrency (%d)", max, concurrency)
	}
	if max < 2 {
		t.Errorf("observed %d concurrent fetches; want > 1, Prefetch should fan out across regions instead of fetching serially", max)
	}
}

func TestHeaderCacheHitAvoidsBackend(t *testing.T) {
	// Mirrors the documented shape: a 4096-byte read served from a
	// 16384-byte cached blob. IndexCacheBytesRead must count the full
	// cached blob, not the smaller requested read length.
	const cachedBlobSize = 16384
	const readLength = 4096
	h := newHarness(t, cachedBlobSize, 1000, "", cachedBlobSize) // canBeFullyCached: length <= 2*hcBlobSize
	done := make(chan struct{})
	h.headers.Put(h.fi.Name, 0, h.data, headercache.CompletionFunc(func() { close(done) }))
	<-done

	got := h.readAt(t, 10, readLength)
	assertBytes(t, got, h.data[10:10+readLength])
	if h.container.Requests() != 0 {
		t.Errorf("container requests = %d; want 0, a header-cache hit must not touch the backend", h.container.Requests())
	}
	snap := h.sink.Snapshot()
	if snap.IndexCacheBytesRead != cachedBlobSize {
		t.Errorf("IndexCacheBytesRead = %d; want %d (the full cached blob, not the %d-byte read)", snap.IndexCacheBytesRead, cachedBlobSize, readLength)
	}
}

func TestEvictionFallsBackToDirectRead(t *testing.T) {
	h := newHarness(t, 2048, 512, "", 64)
	h.in.cache.Evict()

	got := h.readAt(t, 700, 300)
	assertBytes(t, got, h.data[700:1000])
	snap := h.sink.Snapshot()
	if snap.DirectBytesRead == 0 {
		t.Error("expected DirectBytesRead > 0 on the eviction fallback path")
	}
}

func TestSliceAndCloneAreIndependentAndDoNotReopen(t *testing.T) {
	h := newHarness(t, 2048, 512, "", 64)
	before := h.sink.Snapshot().OpenCount

	slice, err := h.in.Slice("middle third", 600, 600)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	clone := h.in.Clone()

	if err := slice.SeekInternal(10); err != nil {
		t.Fatal(err)
	}
	if h.in.FilePointer() != 0 || clone.FilePointer() != 0 {
		t.Error("slicing/cloning must not move the parent's or sibling's file pointer")
	}

	buf := make([]byte, 50)
	if err := slice.ReadInternal(context.Background(), buf); err != nil {
		t.Fatalf("ReadInternal on slice: %v", err)
	}
	assertBytes(t, buf, h.data[610:660])

	if after := h.sink.Snapshot().OpenCount; after != before {
		t.Errorf("OpenCount changed from %d to %d; Slice/Clone must never increment it", before, after)
	}
}

func TestSliceOutOfBounds(t *testing.T) {
	h := newHarness(t, 1000, 256, "", 64)
	if _, err := h.in.Slice("oops", 900, 200); err == nil {
		t.Fatal("expected an error for an out-of-bounds slice")
	}
}

func TestSeekInternalErrors(t *testing.T) {
	h := newHarness(t, 1000, 256, "", 64)
	if err := h.in.SeekInternal(-1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SeekInternal(-1): got %v, want ErrInvalidArgument", err)
	}
	if err := h.in.SeekInternal(h.fi.Length + 1); !errors.Is(err, ErrEof) {
		t.Errorf("SeekInternal(length+1): got %v, want ErrEof", err)
	}
}

func TestWarmPartUnsupported(t *testing.T) {
	h := newHarness(t, 1000, 256, "", 64)
	if err := h.in.WarmPart(context.Background(), 0); err == nil {
		t.Fatal("expected WarmPart to report unsupported")
	}
}

func TestReadPastEndIsEof(t *testing.T) {
	h := newHarness(t, 1000, 256, "", 64)
	if err := h.in.SeekInternal(h.fi.Length - 10); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 20)
	if err := h.in.ReadInternal(context.Background(), buf); !errors.Is(err, ErrEof) {
		t.Errorf("got %v, want ErrEof", err)
	}
}

func TestZeroLengthReadNeverTouchesBackend(t *testing.T) {
	h := newHarness(t, 1000, 256, "", 64)
	if err := h.in.ReadInternal(context.Background(), nil); err != nil {
		t.Fatalf("zero-length ReadInternal: %v", err)
	}
	if h.container.Requests() != 0 {
		t.Errorf("container requests = %d; want 0", h.container.Requests())
	}
}
