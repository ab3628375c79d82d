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

package sharedcache

import (
	"sort"

	"github.com/0xfr3/blobcache/rangemath"
)

// regionSet tracks which disjoint byte spans of a region's backing
// storage are already populated, generalized from fixed-size fetched
// chunks to arbitrary ranges and merged on insert.
type regionSet struct {
	ranges []rangemath.Range // sorted, disjoint, non-adjacent
}

// add merges r into the set, coalescing with any overlapping or
// adjacent existing ranges.
func (s *regionSet) add(r rangemath.Range) {
	if r.Empty() {
		return
	}
	merged := make([]rangemath.Range, 0, len(s.ranges)+1)
	inserted := false
	for _, existing := range s.ranges {
		if existing.Intersects(r) || existing.IsAdjacent(r) {
			r = rangemath.Union(existing, r)
			continue
		}
		if !inserted && r.To < existing.From {
			merged = append(merged, r)
			inserted = true
		}
		merged = append(merged, existing)
	}
	if !inserted {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].From < merged[j].From })
	s.ranges = merged
}

// contains reports whether r is fully covered by the set.
func (s *regionSet) contains(r rangemath.Range) bool {
	for _, existing := range s.ranges {
		if existing.Contains(r) {
			return true
		}
	}
	return false
}

// complement returns the contiguous sub-ranges of within not covered by
// the set, in ascending order.
func (s *regionSet) complement(within rangemath.Range) []rangemath.Range {
	var gaps []rangemath.Range
	cursor := within.From
	for _, existing := range s.ranges {
		if existing.To <= within.From || existing.From >= within.To {
			continue
		}
		from := existing.From
		if from < cursor {
			from = cursor
		}
		if from > cursor {
			gaps = append(gaps, rangemath.Range{From: cursor, To: from})
		}
		if existing.To > cursor {
			cursor = existing.To
		}
	}
	if cursor < within.To {
		gaps = append(gaps, rangemath.Range{From: cursor, To: within.To})
	}
	return gaps
}

// totalSize returns the sum of all populated span lengths.
func (s *regionSet) totalSize() int64 {
	var total int64
	for _, r := range s.ranges {
		total += r.Len()
	}
	return total
}
