package cachedinput

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/0xfr3/blobcache/sharedcache"
)

// Sentinel error classes, matched with errors.Is. SeekInternal, Slice and
// Prefetch bounds violations wrap ErrInvalidArgument or ErrEof.
// ReadInternal wraps ErrEof for a read past the view's end and
// ErrIoFailure (together with the underlying cause) for other cache or
// blob-store failures, except that an unexpected EOF during the eviction
// fallback's direct read wraps blobsource.ErrUnexpectedEOF. ReadInternal
// never returns an eviction error: eviction triggers the direct read.
var (
	// ErrInvalidArgument covers malformed slice bounds and negative seeks.
	ErrInvalidArgument = errors.New("cachedinput: invalid argument")
	// ErrEof is returned when a seek target or a read extends past the
	// input's length.
	ErrEof = errors.New("cachedinput: eof")
	// ErrIoFailure marks any other failure from the shared cache, the
	// header cache or the blob store.
	ErrIoFailure = errors.New("cachedinput: cache read failed")
	// ErrWarmingUnsupported is returned by WarmPart; this reference build
	// does not implement the background warming entry point.
	ErrWarmingUnsupported = errors.New("cachedinput: warming unsupported")
)

// IsEvicted reports whether err (directly or wrapped) traces back to the
// shared cache region being evicted mid-operation.
func IsEvicted(err error) bool {
	return errors.Is(err, sharedcache.ErrEvicted)
}

// cacheReadFailed wraps a lower-level I/O failure (blob store, shared
// cache, header cache) into the IoFailure error class; errors.Is matches
// both ErrIoFailure and the cause.
func cacheReadFailed(cause error) error {
	return fmt.Errorf("%w: %w", ErrIoFailure, cause)
}

func invalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
