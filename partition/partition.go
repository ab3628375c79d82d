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

// Package partition implements the pure arithmetic that maps a logical
// file's offsets onto the physical parts a blob store holds it as.
package partition

import (
	"strconv"

	"github.com/pkg/errors"
)

// ErrInvalidPosition is raised when a position falls outside [0, length).
var ErrInvalidPosition = errors.New("position out of range")

// PartNameFunc resolves the physical blob name backing part i.
type PartNameFunc func(i int64) string

// PartBytesFunc resolves the byte length of part i.
type PartBytesFunc func(i int64) int64

// FileInfo is an immutable descriptor of a logical file split into equal
// sized parts in the remote blob store, the last part possibly shorter.
type FileInfo struct {
	Name          string
	Length        int64
	PartSize      int64
	NumberOfParts int64
	Checksum      string // optional, hex-encoded; empty if absent

	partName  PartNameFunc
	partBytes PartBytesFunc
}

// New builds a FileInfo. partName/partBytes default to the uniform,
// single-container naming scheme "<name>.part<i>" and partSize-bounded
// lengths when nil.
func New(name string, length, partSize int64, checksum string, partName PartNameFunc, partBytes PartBytesFunc) *FileInfo {
	numberOfParts := int64(1)
	if partSize > 0 {
		numberOfParts = (length + partSize - 1) / partSize
		if numberOfParts == 0 {
			numberOfParts = 1
		}
	}
	fi := &FileInfo{
		Name:          name,
		Length:        length,
		PartSize:      partSize,
		NumberOfParts: numberOfParts,
		Checksum:      checksum,
		partName:      partName,
		partBytes:     partBytes,
	}
	if fi.partName == nil {
		fi.partName = fi.defaultPartName
	}
	if fi.partBytes == nil {
		fi.partBytes = fi.defaultPartBytes
	}
	return fi
}

func (fi *FileInfo) defaultPartName(i int64) string {
	if fi.NumberOfParts <= 1 {
		return fi.Name
	}
	return fi.Name + ".part" + strconv.FormatInt(i, 10)
}

func (fi *FileInfo) defaultPartBytes(i int64) int64 {
	if fi.PartSize <= 0 {
		return fi.Length
	}
	if i == fi.NumberOfParts-1 {
		last := fi.Length - i*fi.PartSize
		if last <= 0 {
			last = fi.PartSize
		}
		return last
	}
	return fi.PartSize
}

// PartName returns the physical blob name of part i.
func (fi *FileInfo) PartName(i int64) string { return fi.partName(i) }

// PartBytes returns the byte length of part i. Invariant: summing
// PartBytes(i) over [0, NumberOfParts) equals Length.
func (fi *FileInfo) PartBytes(i int64) int64 { return fi.partBytes(i) }

// PartIndex maps a logical offset to its containing part index.
func (fi *FileInfo) PartIndex(pos int64) (int64, error) {
	if err := fi.checkPosition(pos); err != nil {
		return 0, err
	}
	if fi.PartSize <= 0 || fi.NumberOfParts <= 1 {
		return 0, nil
	}
	return pos / fi.PartSize, nil
}

// OffsetInPart maps a logical offset to its offset within the containing
// part.
func (fi *FileInfo) OffsetInPart(pos int64) (int64, error) {
	if err := fi.checkPosition(pos); err != nil {
		return 0, err
	}
	if fi.PartSize <= 0 || fi.NumberOfParts <= 1 {
		return pos, nil
	}
	return pos % fi.PartSize, nil
}

// LengthOfPart returns the byte length of part i.
func (fi *FileInfo) LengthOfPart(i int64) int64 {
	return fi.PartBytes(i)
}

func (fi *FileInfo) checkPosition(pos int64) error {
	if pos < 0 || pos >= fi.Length {
		return errors.Wrapf(ErrInvalidPosition, "pos=%d length=%d", pos, fi.Length)
	}
	return nil
}
