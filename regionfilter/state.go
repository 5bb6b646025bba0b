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

// Package regionfilter implements Kelpie's iterative filter builder: it
// grows a directional k-mer cloud, plus a family of kmer->context tables,
// outward from primer-containing reads until the two directions' clouds
// meet at the opposite primer or an exhaustion criterion trips.
//
// This component has no direct teacher analogue in shenwei356/unikmer
// (which never grows a filter iteratively); its data structures are built
// on kmer's packed/context primitives, and its partition-parallel shape is
// grounded on grailbio-bio/fusion/gene_db.go's worker-pool-plus-mutex-merge
// pattern.
package regionfilter

import (
	"sync"

	"github.com/kelpie-bio/kelpie/kmer"
)

// Direction is one of the two strand directions a region filter grows in.
type Direction int

const (
	// Fwd is the direction seeded by forward-primer (FP, reoriented FP')
	// reads.
	Fwd Direction = iota
	// Rvs is the direction seeded by reverse-primer (RP, reoriented RP')
	// reads.
	Rvs
)

func (d Direction) other() Direction {
	if d == Fwd {
		return Rvs
	}
	return Fwd
}

// State holds the region filter, ending filter, and context-exists/context
// tables for both directions.
type State struct {
	K              int
	ContextLengths []int

	mu sync.Mutex

	RegionFilter  [2]map[uint64]struct{}
	EndingFilter  [2]map[uint64]struct{}
	ContextExists [2][]map[uint64]struct{}
	Contexts      [2][]map[uint64]struct{}
}

// NewState allocates an empty State for k-mer size k and the given family
// of context lengths (use kmer.ContextLengths to build this slice — every
// length is a multiple of the context stride starting at kmer.MinContextLength).
func NewState(k int, contextLengths []int) *State {
	s := &State{K: k, ContextLengths: append([]int(nil), contextLengths...)}
	for d := 0; d < 2; d++ {
		s.RegionFilter[d] = map[uint64]struct{}{}
		s.EndingFilter[d] = map[uint64]struct{}{}
		s.ContextExists[d] = make([]map[uint64]struct{}, len(contextLengths))
		s.Contexts[d] = make([]map[uint64]struct{}, len(contextLengths))
		for i := range contextLengths {
			s.ContextExists[d][i] = map[uint64]struct{}{}
			s.Contexts[d][i] = map[uint64]struct{}{}
		}
	}
	return s
}

func (s *State) contextIndex(L int) int {
	for i, l := range s.ContextLengths {
		if l == L {
			return i
		}
	}
	return -1
}

// recordContext adds the (kmer, context) pair at the matching length
// index, removing the kmer from every shorter context-length index first:
// once a longer context confirms a k-mer, the shorter, weaker-evidence
// contexts for it become redundant. Caller must hold s.mu.
func (s *State) recordContext(d Direction, seq []byte, offset int, w uint64) {
	L, hash, ok := kmer.LongestInReadContext(seq, offset, s.K, s.ContextLengths)
	if !ok {
		return
	}
	idx := s.contextIndex(L)
	if idx < 0 {
		return
	}
	for i := 0; i < idx; i++ {
		delete(s.ContextExists[d][i], w)
	}
	s.ContextExists[d][idx][w] = struct{}{}
	s.Contexts[d][idx][hash] = struct{}{}
}

// TileRead adds every k-mer of seq to the direction-d region filter, and
// records a context for every k-mer starting at least kmer.MinContextLength
// bases from the read's end. Safe for concurrent use; callers running many
// reads in parallel should still prefer batching where possible.
func (s *State) TileRead(d Direction, seq []byte) {
	n := len(seq)
	s.mu.Lock()
	defer s.mu.Unlock()
	for offset := 0; offset+s.K <= n; offset++ {
		w, ok := kmer.Pack(seq, offset, s.K)
		if !ok {
			continue
		}
		s.RegionFilter[d][w] = struct{}{}
		if n-offset >= kmer.MinContextLength {
			s.recordContext(d, seq, offset, w)
		}
	}
}

// BuildEndingFilter seeds direction d's ending filter from reads oriented
// in the *opposite* direction — the complementary ending filter built from
// the opposite-direction primer reads.
func (s *State) BuildEndingFilter(d Direction, oppositeReads [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range oppositeReads {
		for offset := 0; ; offset++ {
			h, ok := kmer.EndingPair(seq, offset, s.K)
			if !ok {
				break
			}
			s.EndingFilter[d][h] = struct{}{}
		}
	}
}

// endingFraction is the threshold fraction of tail XOR-pairs that must hit
// the ending filter for a read to be classified as "ending".
const endingFraction = 0.75

// IsEnding reports whether more than endingFraction of seq's tail
// XOR-pairs are present in direction d's ending filter.
func (s *State) IsEnding(d Direction, seq []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, hits := 0, 0
	for offset := 0; ; offset++ {
		h, ok := kmer.EndingPair(seq, offset, s.K)
		if !ok {
			break
		}
		total++
		if _, present := s.EndingFilter[d][h]; present {
			hits++
		}
	}
	if total == 0 {
		return false
	}
	return float64(hits)/float64(total) > endingFraction
}

// HasRegionKmer reports whether w is present in direction d's region
// filter.
func (s *State) HasRegionKmer(d Direction, w uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.RegionFilter[d][w]
	return ok
}

// VerifyByContext walks the context-length table from longest to shortest
// for direction d, returning true on the first length at which w is a
// known context-exists kmer AND the read's actual context hash at that
// length is present in the context set.
func (s *State) VerifyByContext(d Direction, seq []byte, offset int, w uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.ContextLengths) - 1; i >= 0; i-- {
		if _, ok := s.ContextExists[d][i][w]; !ok {
			continue
		}
		L := s.ContextLengths[i]
		hash, ok := kmer.Context(seq, offset, s.K, L)
		if !ok {
			continue
		}
		if _, ok := s.Contexts[d][i][hash]; ok {
			return true
		}
	}
	return false
}

// Size returns the region filter size for direction d.
func (s *State) Size(d Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.RegionFilter[d])
}

// EnsureRCClosure adds, for every k-mer in each direction's region filter,
// its reverse complement — the final step of strict-pairing reconciliation,
// ensuring every kept k-mer has its RC present too.
func (s *State) EnsureRCClosure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d := 0; d < 2; d++ {
		additions := make([]uint64, 0)
		for w := range s.RegionFilter[d] {
			rc := kmer.RevComp(w, s.K)
			if _, ok := s.RegionFilter[d][rc]; !ok {
				additions = append(additions, rc)
			}
		}
		for _, w := range additions {
			s.RegionFilter[d][w] = struct{}{}
		}
	}
}

// IntersectWith keeps only region-filter k-mers (in either canonical
// orientation) present in both s and other — the strict-pairing rule: keep
// only k-mers present, in either orientation, in both files' filters.
func (s *State) IntersectWith(other *State) {
	s.mu.Lock()
	other.mu.Lock()
	defer s.mu.Unlock()
	defer other.mu.Unlock()
	for d := 0; d < 2; d++ {
		kept := map[uint64]struct{}{}
		for w := range s.RegionFilter[d] {
			_, direct := other.RegionFilter[d][w]
			_, rc := other.RegionFilter[d][kmer.RevComp(w, s.K)]
			if direct || rc {
				kept[w] = struct{}{}
			}
		}
		s.RegionFilter[d] = kept
	}
}
