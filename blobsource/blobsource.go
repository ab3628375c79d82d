/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package blobsource opens byte streams against a logical file backed by
// one or more parts in a remote blob container, stitching reads across
// part boundaries as needed.
package blobsource

import (
	"context"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/0xfr3/blobcache/partition"
	"github.com/0xfr3/blobcache/stats"
)

// ErrUnexpectedEOF is raised when a part stream yields fewer bytes than
// requested.
var ErrUnexpectedEOF = errors.New("blobsource: unexpected EOF")

// Container is the remote object store collaborator: a ranged GET
// against a single named blob, implemented by concrete backends in
// azure.go and gcs.go.
type Container interface {
	// OpenRange returns a stream of exactly length bytes starting at
	// offset within the named part, or ErrUnexpectedEOF.
	OpenRange(ctx context.Context, partName string, offset, length int64) (io.ReadCloser, error)
}

// Source opens logical-file byte ranges against a Container, splitting
// the request across FileInfo's parts.
type Source struct {
	container Container
	stats     stats.Sink
}

// New builds a Source reading parts through container, reporting
// requested-byte counts to sink.
func New(container Container, sink stats.Sink) *Source {
	return &Source{container: container, stats: sink}
}

// Open returns a stream yielding exactly length bytes of fi starting at
// the logical offset position, concatenating slices of each covered part
// (only the needed suffix/prefix of edge parts, the full span of
// interior parts).
func (s *Source) Open(ctx context.Context, fi *partition.FileInfo, position, length int64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(errEmptyReader{}), nil
	}
	if position < 0 || position+length > fi.Length {
		return nil, errors.Errorf("blobsource: range [%d, %d) out of bounds for length %d", position, position+length, fi.Length)
	}

	startIdx, err := fi.PartIndex(position)
	if err != nil {
		return nil, err
	}
	endIdx, err := fi.PartIndex(position + length - 1)
	if err != nil {
		return nil, err
	}

	var readers []io.ReadCloser
	remaining := length
	pos := position
	for i := startIdx; i <= endIdx; i++ {
		offsetInPart, err := fi.OffsetInPart(pos)
		if err != nil {
			return nil, err
		}
		partLen := fi.LengthOfPart(i)
		want := partLen - offsetInPart
		if want > remaining {
			want = remaining
		}
		readers = append(readers, &lazyPartReader{
			ctx: ctx, container: s.container, stats: s.stats,
			partName: fi.PartName(i), offset: offsetInPart, length: want,
		})
		remaining -= want
		pos += want
	}
	if remaining != 0 {
		return nil, errors.Errorf("blobsource: internal error, %d bytes unaccounted for", remaining)
	}
	return &multiPartReader{readers: readers}, nil
}

type errEmptyReader struct{}

func (errEmptyReader) Read(p []byte) (int, error) { return 0, io.EOF }

// lazyPartReader defers opening the underlying Container range read
// until the first Read call, so Source.Open never issues a network
// request for a part that the caller never actually reads (e.g. when the
// caller aborts after the first part of a multi-part stream).
type lazyPartReader struct {
	ctx       context.Context
	container Container
	stats     stats.Sink
	partName  string
	offset    int64
	length    int64

	r    io.ReadCloser
	err  error
	read int64
}

func (l *lazyPartReader) ensureOpen() error {
	if l.r != nil || l.err != nil {
		return l.err
	}
	r, err := l.container.OpenRange(l.ctx, l.partName, l.offset, l.length)
	if err != nil {
		l.err = err
		return err
	}
	if l.stats != nil {
		l.stats.BlobStoreBytesRequested(l.length)
	}
	l.r = r
	return nil
}

func (l *lazyPartReader) Read(p []byte) (int, error) {
	if l.read >= l.length {
		return 0, io.EOF
	}
	if err := l.ensureOpen(); err != nil {
		return 0, err
	}
	if int64(len(p)) > l.length-l.read {
		p = p[:l.length-l.read]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if err == io.EOF {
		if l.read < l.length {
			return n, ErrUnexpectedEOF
		}
		return n, io.EOF
	}
	return n, err
}

func (l *lazyPartReader) Close() error {
	if l.r != nil {
		return l.r.Close()
	}
	return nil
}

// multiPartReader concatenates a sequence of per-part readers into a
// single logical stream, failing with ErrUnexpectedEOF if any
// constituent part runs short. Errors while closing constituents on
// Close aggregate with go-multierror since each part's Close is an
// independent network-resource release.
type multiPartReader struct {
	readers []io.ReadCloser
	idx     int
}

func (m *multiPartReader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if m.idx >= len(m.readers) {
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}
		n, err := m.readers[m.idx].Read(p[total:])
		total += n
		if err == io.EOF {
			m.idx++
			continue
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (m *multiPartReader) Close() error {
	var merr *multierror.Error
	for _, r := range m.readers {
		if err := r.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
