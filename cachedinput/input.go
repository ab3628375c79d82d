// Package cachedinput implements CachedInput, the read-through byte-range
// reader this module centers on: a logical file view that serves reads from
// (in order of preference) a synthesized footer, a resident disk fast
// path, a small header cache, and finally the remote blob store, folding
// any freshly-fetched bytes back into the shared cache for the next
// reader, generalized from fixed-size chunks to arbitrary aligned
// ranges.
package cachedinput

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/0xfr3/blobcache/blobsource"
	"github.com/0xfr3/blobcache/cacheexec"
	"github.com/0xfr3/blobcache/headercache"
	"github.com/0xfr3/blobcache/iocontext"
	"github.com/0xfr3/blobcache/partition"
	"github.com/0xfr3/blobcache/rangemath"
	"github.com/0xfr3/blobcache/sharedcache"
	"github.com/0xfr3/blobcache/stats"
)

// Directory is the owning collaborator CachedInput consults for recovery
// state. The real directory facade (package snapdir) also owns
// construction and openCount bookkeeping; this interface is the minimal
// slice CachedInput itself needs.
type Directory interface {
	// RecoveryComplete reports whether the snapshot directory has
	// finished recovering, gating which range size Step 4 aligns to.
	RecoveryComplete() bool
}

// Input is the read-through cached view over one logical file. It is not
// required to be safe for concurrent use by multiple goroutines against
// the same instance; Slice and Clone each hand back an
// independent instance safe to hand to a different goroutine.
type Input struct {
	dir         Directory
	fileInfo    *partition.FileInfo
	stats       stats.Sink
	coordinator sharedcache.Coordinator
	cache       *sharedcache.Handle
	blobSource  *blobsource.Source
	headerCache headercache.Adapter
	exec        *cacheexec.Pool
	cfg         Config
	log         *logrus.Entry

	offset  int64 // this view's start, relative to fileInfo's full extent
	length  int64 // this view's length
	isClone bool  // true for every Slice/Clone descendant; gates the footer shortcut

	filePointer      int64
	lastReadPosition int64
	lastSeekPosition int64
}

// New constructs a top-level CachedInput over the whole of fi, incrementing
// sink's open count exactly once. Callers are expected to be the owning
// directory facade (package snapdir), not application code directly.
func New(dir Directory, fi *partition.FileInfo, coordinator sharedcache.Coordinator, cache *sharedcache.Handle, blobSource *blobsource.Source, headerCache headercache.Adapter, exec *cacheexec.Pool, sink stats.Sink, cfg Config) *Input {
	sink.IncrementOpenCount()
	return &Input{
		dir:         dir,
		fileInfo:    fi,
		stats:       sink,
		coordinator: coordinator,
		cache:       cache,
		blobSource:  blobSource,
		headerCache: headerCache,
		exec:        exec,
		cfg:         cfg,
		log:         logrus.WithField("file", fi.Name),
		offset:      0,
		length:      fi.Length,
	}
}

// Length returns the number of bytes this view spans.
func (in *Input) Length() int64 { return in.length }

// FilePointer returns the current read position, relative to this view.
func (in *Input) FilePointer() int64 { return in.filePointer }

// Close releases no resources of its own; the underlying cache handle and
// blob source outlive any one Input. Idempotent.
func (in *Input) Close() error { return nil }

// SeekInternal repositions the view's file pointer to p, relative to this
// view's start.
func (in *Input) SeekInternal(p int64) error {
	if p < 0 {
		return invalidArgument("cachedinput: seek to negative position %d", p)
	}
	if p > in.length {
		return errors.Wrapf(ErrEof, "seek to %d past length %d", p, in.length)
	}
	in.stats.Seeks(in.lastSeekPosition, p+in.offset)
	in.filePointer = p
	in.lastSeekPosition = p + in.offset
	return nil
}

// Slice returns a new, independent view over [o, o+l) of this view's
// extent. desc is informational only (surfaced in logs). The returned
// Input always has isClone set, so it never takes the footer shortcut.
func (in *Input) Slice(desc string, o, l int64) (*Input, error) {
	if o < 0 || l < 0 || o+l > in.length {
		return nil, invalidArgument("cachedinput: slice [%d,%d) out of bounds for length %d", o, o+l, in.length)
	}
	child := *in
	child.offset = in.offset + o
	child.length = l
	child.isClone = true
	child.filePointer = 0
	child.lastReadPosition = 0
	child.lastSeekPosition = 0
	child.log = in.log.WithField("slice", desc)
	return &child, nil
}

// Clone returns a shallow, independent copy of this view, preserving the
// current file pointer. The clone always has isClone set.
func (in *Input) Clone() *Input {
	child := *in
	child.isClone = true
	return &child
}

// WarmPart is the background, part-granularity cache-fill entry point.
// This reference build does not implement it; a production directory
// facade would schedule it from a separate warming worker pool rather
// than from the read path.
func (in *Input) WarmPart(ctx context.Context, partIndex int64) error {
	return errors.Wrapf(ErrWarmingUnsupported, "part %d", partIndex)
}

// Prefetch populates the shared cache over [from, to) without returning
// any bytes to the caller, aligned to the same range size a normal read
// would use, fanning the aligned span out into one PopulateAndRead call
// per region and running up to PrefetchConcurrency of them at once.
func (in *Input) Prefetch(ctx context.Context, from, to int64) error {
	if from < 0 || to > in.length || from > to {
		return invalidArgument("cachedinput: prefetch [%d,%d) out of bounds for length %d", from, to, in.length)
	}
	if from == to {
		return nil
	}
	absFrom, absTo := from+in.offset, to+in.offset
	rangeSize := in.rangeSizeFor(iocontext.Normal)

	var regions []rangemath.Range
	for start := (absFrom / rangeSize) * rangeSize; start < absTo; start += rangeSize {
		regions = append(regions, rangemath.Aligned(start, rangeSize, in.fileInfo.Length))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(in.cfg.PrefetchConcurrency))
	for _, region := range regions {
		region := region
		g.Go(func() error {
			writer := func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64, progress func(int64)) error {
				return in.fillFromBlob(gctx, channel, channelPos, l, progress, rangemath.Range{}, nil, new(int64))
			}
			reader := func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64) (int, error) {
				return int(l), nil
			}
			future := in.coordinator.PopulateAndRead(gctx, in.cache, region, region, reader, writer, in.exec)
			_, err := future.Wait(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return cacheReadFailed(err)
	}
	return nil
}

// ReadInternal fills buf completely from this view starting at the
// current file pointer, or returns an error; it never performs a short
// read. On success the file pointer advances by exactly len(buf) bytes.
func (in *Input) ReadInternal(ctx context.Context, buf []byte) error {
	length := int64(len(buf))
	if length == 0 {
		return nil
	}
	pos := in.filePointer + in.offset
	if pos+length > in.offset+in.length {
		return errors.Wrapf(ErrEof, "read [%d,%d) past view end %d", pos, pos+length, in.offset+in.length)
	}

	// Step 1: footer shortcut. Only a top-level (non-sliced, non-cloned)
	// view reading exactly the trailing FooterLength bytes of the whole
	// file qualifies; a missing or malformed checksum falls through.
	if !in.isClone && length == FooterLength && pos == in.fileInfo.Length-FooterLength {
		if footer, ok := synthesizeFooter(in.fileInfo.Checksum); ok {
			copy(buf, footer)
			in.commit(pos, length)
			return nil
		}
	}

	readRange := rangemath.Range{From: pos, To: pos + length}

	// Step 2: disk fast path. Entirely resident or already in flight.
	diskReader := func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64) (int, error) {
		n, err := channel.ReadAt(buf, channelPos)
		if err != nil {
			return n, err
		}
		in.stats.CachedBytesRead(int64(n))
		return n, nil
	}
	if future, ok := in.coordinator.ReadIfAvailableOrPending(ctx, in.cache, readRange, diskReader); ok {
		if _, err := future.Wait(ctx); err != nil {
			if IsEvicted(err) {
				return in.evictionFallback(ctx, buf, pos, 0)
			}
			return cacheReadFailed(err)
		}
		in.commit(pos, length)
		return nil
	}

	// Step 3: header-cache path, only for files small enough to be fully
	// cached or reads that fall entirely within the cacheable file prefix.
	var indexCacheMiss *rangemath.Range
	canBeFullyCached := in.fileInfo.Length <= 2*in.cfg.HeaderCacheBlobSize
	isStartOfFile := pos+length <= in.cfg.HeaderCacheBlobSize
	if canBeFullyCached || isStartOfFile {
		res, err := in.headerCache.Lookup(in.fileInfo.Name, 0, pos+length)
		if err != nil {
			return cacheReadFailed(err)
		}
		if res.Status == headercache.Hit {
			in.stats.IndexCacheBytesRead(res.To - res.From)
			rel := pos - res.From
			copy(buf, res.Bytes[rel:rel+length])
			in.scheduleBackfill(res)
			in.commit(pos, length)
			return nil
		}
		if canBeFullyCached {
			r := rangemath.Range{From: 0, To: in.fileInfo.Length}
			indexCacheMiss = &r
		} else {
			r := rangemath.Range{From: 0, To: in.cfg.HeaderCacheBlobSize}
			indexCacheMiss = &r
		}
	}

	// Step 4: blob-store miss path.
	rangeSize := in.rangeSizeFor(iocontext.Normal)
	startRegion := rangemath.Aligned(pos, rangeSize, in.fileInfo.Length)
	endRegion := rangemath.Aligned(pos+length-1, rangeSize, in.fileInfo.Length)
	rangeToWrite := rangemath.UnionOptional(rangemath.Union(startRegion, endRegion), indexCacheMiss)

	var writtenToBuf int64
	writer := func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64, progress func(int64)) error {
		return in.fillFromBlob(ctx, channel, channelPos, l, progress, readRange, buf, &writtenToBuf)
	}
	reader := func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64) (int, error) {
		n, err := channel.ReadAt(buf, channelPos)
		if err != nil {
			return n, err
		}
		in.stats.CachedBytesRead(int64(n))
		return n, nil
	}
	future := in.coordinator.PopulateAndRead(ctx, in.cache, rangeToWrite, readRange, reader, writer, in.exec)

	if indexCacheMiss != nil {
		in.scheduleIndexFill(*indexCacheMiss)
	}

	if _, err := future.Wait(ctx); err != nil {
		if IsEvicted(err) {
			return in.evictionFallback(ctx, buf, pos, atomic.LoadInt64(&writtenToBuf))
		}
		return cacheReadFailed(err)
	}
	in.commit(pos, length)
	return nil
}

// fillFromBlob is the populateAndRead writer for a single gap: it streams
// channelPos..channelPos+length from the blob store in CopyBufferSize
// chunks, writing each chunk into the shared cache channel and, wherever
// the chunk overlaps rangeToRead, copying the overlapping bytes directly
// into buf too, in the same pass. buf and
// writtenToBuf may be nil/unused when rangeToRead is the empty Range
// (Prefetch has no destination buffer).
func (in *Input) fillFromBlob(ctx context.Context, channel sharedcache.ReadWriter, channelPos, length int64, progress func(int64), rangeToRead rangemath.Range, buf []byte, writtenToBuf *int64) error {
	stream, err := in.blobSource.Open(ctx, in.fileInfo, channelPos, length)
	if err != nil {
		return err
	}
	defer stream.Close()

	chunk := make([]byte, CopyBufferSize)
	var done int64
	for done < length {
		want := int64(len(chunk))
		if want > length-done {
			want = length - done
		}
		start := time.Now()
		n, err := io.ReadFull(stream, chunk[:want])
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return blobsource.ErrUnexpectedEOF
			}
			return err
		}
		if _, werr := channel.WriteAt(chunk[:n], channelPos+done); werr != nil {
			return werr
		}
		in.stats.CachedBytesWritten(int64(n), time.Since(start).Nanoseconds())
		done += int64(n)
		progress(done)

		chunkRange := rangemath.Range{From: channelPos + done - int64(n), To: channelPos + done}
		if rangeToRead.Intersects(chunkRange) {
			overlapFrom := maxInt64(chunkRange.From, rangeToRead.From)
			overlapTo := minInt64(chunkRange.To, rangeToRead.To)
			srcStart := overlapFrom - chunkRange.From
			dstStart := overlapFrom - rangeToRead.From
			copy(buf[dstStart:dstStart+(overlapTo-overlapFrom)], chunk[srcStart:srcStart+(overlapTo-overlapFrom)])
			atomic.AddInt64(writtenToBuf, overlapTo-overlapFrom)
		}
	}
	return nil
}

// scheduleBackfill asynchronously re-serializes a header-cache hit's bytes
// into the shared cache, so the next read of the same range takes the
// disk fast path instead of the header cache. Failures are logged and
// swallowed: the read this call is backing has already succeeded.
func (in *Input) scheduleBackfill(res headercache.Result) {
	writeRange := rangemath.Range{From: res.From, To: res.To}
	go func() {
		writer := func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64, progress func(int64)) error {
			start := time.Now()
			if _, err := channel.WriteAt(res.Bytes[relativePos:relativePos+l], channelPos); err != nil {
				return err
			}
			in.stats.CachedBytesWritten(l, time.Since(start).Nanoseconds())
			progress(l)
			return nil
		}
		reader := func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64) (int, error) {
			return int(l), nil
		}
		future := in.coordinator.PopulateAndRead(context.Background(), in.cache, writeRange, writeRange, reader, writer, in.exec)
		if _, err := future.Wait(context.Background()); err != nil {
			in.log.WithError(err).Warn("header cache backfill into shared cache failed")
		}
	}()
}

// scheduleIndexFill asynchronously populates the header cache from the
// shared cache once miss is fully resident, firing a stats fill token for
// the duration. Grounded on headercache.Adapter.Put's fire-and-forget
// contract.
func (in *Input) scheduleIndexFill(miss rangemath.Range) {
	token := in.stats.BeginIndexCacheFill()
	future, ok := in.coordinator.ReadIfAvailableOrPending(context.Background(), in.cache, miss, func(channel sharedcache.ReadWriter, channelPos, relativePos, l int64) (int, error) {
		data := make([]byte, l)
		n, err := channel.ReadAt(data, channelPos)
		if err != nil {
			return n, err
		}
		in.headerCache.Put(in.fileInfo.Name, 0, data[:n], headercache.CompletionFunc(token.Close))
		return n, nil
	})
	if !ok {
		token.Close()
		return
	}
	go func() {
		if _, err := future.Wait(context.Background()); err != nil {
			token.Close()
		}
	}()
}

// evictionFallback reads the remaining tail of a read directly from the
// blob store, bypassing the shared cache entirely, after the coordinator
// reports the region evicted mid-read. alreadyWritten bytes of buf were
// already filled (by fillFromBlob's dual write) before the eviction
// surfaced.
func (in *Input) evictionFallback(ctx context.Context, buf []byte, pos, alreadyWritten int64) error {
	tailPos := pos + alreadyWritten
	tailLen := int64(len(buf)) - alreadyWritten
	if tailLen == 0 {
		in.commit(pos, int64(len(buf)))
		return nil
	}

	stream, err := in.blobSource.Open(ctx, in.fileInfo, tailPos, tailLen)
	if err != nil {
		return cacheReadFailed(err)
	}
	defer stream.Close()

	dst := buf[alreadyWritten:]
	var done int64
	for done < tailLen {
		want := int64(CopyBufferSize)
		if want > tailLen-done {
			want = tailLen - done
		}
		start := time.Now()
		n, err := io.ReadFull(stream, dst[done:done+want])
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return errors.Wrap(blobsource.ErrUnexpectedEOF, "cachedinput: eviction fallback direct read")
			}
			return cacheReadFailed(err)
		}
		in.stats.DirectBytesRead(int64(n), time.Since(start).Nanoseconds())
		done += int64(n)
	}
	in.commit(pos, int64(len(buf)))
	return nil
}

// commit records a successful read of length bytes starting at the
// absolute position pos and advances the view's file pointer
// (the accounting step of a successful read).
func (in *Input) commit(pos, length int64) {
	in.stats.BytesRead(in.lastReadPosition, pos, length)
	in.lastReadPosition = pos + length
	in.lastSeekPosition = pos + length
	in.filePointer = pos - in.offset + length
}

// rangeSizeFor selects the cache-region alignment granularity for ctx,
// using the directory's recovery state to choose between the default and
// the (smaller) during-recovery size for Normal reads.
func (in *Input) rangeSizeFor(ctx iocontext.Context) int64 {
	if ctx == iocontext.Warming {
		return in.fileInfo.PartSize
	}
	if in.dir.RecoveryComplete() {
		return in.cfg.DefaultRangeSize
	}
	return in.cfg.RecoveryRangeSize
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
