// Copyright © 2024 The Kelpie Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package selector implements Kelpie's final selector: one more pass over
// every read (primer-containing ones included, though they always pass)
// against the completed region filter, retaining a read when at least two
// of its three equal thirds each contain a filter hit. Pair linkage
// (R1/R2) is reconstructed once selection finishes.
package selector

import "github.com/kelpie-bio/kelpie/kmer"

// thirds splits [0, n) into three roughly equal half-open ranges. The last
// range absorbs any remainder so the three ranges always cover n exactly.
func thirds(n int) [3][2]int {
	third := n / 3
	return [3][2]int{
		{0, third},
		{third, 2 * third},
		{2 * third, n},
	}
}

// hasFilterHit reports whether a filter (any uint64-keyed k-mer set, e.g.
// the union of both regionfilter.State directions) contains at least one
// k-mer tiled from seq[lo:hi).
func hasFilterHit(seq []byte, lo, hi, k int, filter map[uint64]struct{}) bool {
	for offset := lo; offset+k <= hi; offset++ {
		w, ok := kmer.Pack(seq, offset, k)
		if !ok {
			continue
		}
		if _, present := filter[w]; present {
			return true
		}
	}
	return false
}

// Accept reports whether seq passes the two-of-three-thirds rule against
// filter, a k-mer set built from the union of both region-filter
// directions (a read may run either way, so either orientation's filter
// may contain its k-mers once EnsureRCClosure has run).
func Accept(seq []byte, k int, filter map[uint64]struct{}) bool {
	if len(seq) < k {
		return false
	}
	ranges := thirds(len(seq))
	hits := 0
	for _, r := range ranges {
		lo, hi := r[0], r[1]
		if hi-lo < k {
			continue
		}
		if hasFilterHit(seq, lo, hi, k, filter) {
			hits++
		}
	}
	return hits >= 2
}

// Read is one candidate read presented to the selector.
type Read struct {
	FileIndex int // which input file (0 or 1 for a paired run)
	Partition int
	RecordNo  int // recordNo within (FileIndex, Partition)
	Header    []byte
	Seq       []byte
}

// Selected is one accepted read, tagged with the global selected index
// assigned at acceptance time.
type Selected struct {
	Read
	GlobalIndex int
}

// Select runs the final pass over a batch of candidate reads (typically
// one partition), returning those accepted by the two-of-three-thirds
// rule. nextIndex is the first global selected index to assign; the
// returned lastIndex is the next unassigned index, which callers processing
// partitions sequentially pass back as the next call's nextIndex.
func Select(reads []Read, k int, filter map[uint64]struct{}, nextIndex int) (accepted []Selected, lastIndex int) {
	idx := nextIndex
	for _, r := range reads {
		if !Accept(r.Seq, k, filter) {
			continue
		}
		accepted = append(accepted, Selected{Read: r, GlobalIndex: idx})
		idx++
	}
	return accepted, idx
}
