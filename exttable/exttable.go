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

// Package exttable builds the extension-phase k-mer and context tables
// from the selected reads: a canonical-k-mer depth table, and a family of
// per-length context tables built in both read orientations, truncated
// once a length's coverage drops too far below the largest table's.
package exttable

import (
	"runtime"
	"sync"

	"github.com/twotwotwo/sorts/sortutil"

	"github.com/kelpie-bio/kelpie/kmer"
)

func workers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

func chunk(n, parts int) [][2]int {
	if parts > n {
		parts = n
	}
	if parts < 1 {
		parts = 1
	}
	out := make([][2]int, 0, parts)
	base := n / parts
	rem := n % parts
	start := 0
	for i := 0; i < parts; i++ {
		size := base
		if i < rem {
			size++
		}
		out = append(out, [2]int{start, start + size})
		start += size
	}
	return out
}

// KmerTable is the canonical k-mer depth table: for every tiled k-mer
// across all selected reads, the number of times its canonical form was
// seen.
type KmerTable struct {
	K      int
	Counts map[uint64]int
}

// BuildKmerTable tiles every selected read's canonical k-mers, building
// one partition-local table per worker and merging them under a lock —
// the same multithreaded-partition-then-merge shape as
// grailbio-bio/fusion/gene_db.go's gene index build.
func BuildKmerTable(reads [][]byte, k int) *KmerTable {
	nw := workers()
	ranges := chunk(len(reads), nw)

	merged := map[uint64]int{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, r := range ranges {
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			local := map[uint64]int{}
			for i := lo; i < hi; i++ {
				seq := reads[i]
				for offset := 0; offset+k <= len(seq); offset++ {
					w, ok := kmer.Pack(seq, offset, k)
					if !ok {
						continue
					}
					local[kmer.Canonical(w, k)]++
				}
			}
			mu.Lock()
			for w, c := range local {
				merged[w] += c
			}
			mu.Unlock()
		}(r[0], r[1])
	}
	wg.Wait()
	return &KmerTable{K: k, Counts: merged}
}

// SortedCanonicalKmers returns every k-mer with Count > 0 sorted ascending
// (sortutil.Uint64s, unikmer's bulk uint64 sort, in place of sort.Sort
// over a custom Less).
func (t *KmerTable) SortedCanonicalKmers() []uint64 {
	out := make([]uint64, 0, len(t.Counts))
	for w := range t.Counts {
		out = append(out, w)
	}
	sortutil.Uint64s(out)
	return out
}

// ContextTable is one length-L context table: every hashed context seen,
// with a depth count (forward and reverse-complement orientations tiled
// into the same table).
type ContextTable struct {
	Length int
	Counts map[uint64]int
}

// buildOneContextTable tiles reads (forward and RC) for a single context
// length.
func buildOneContextTable(reads [][]byte, k, L int) *ContextTable {
	counts := map[uint64]int{}
	for _, seq := range reads {
		for offset := 0; offset+L <= len(seq); offset++ {
			if h, ok := kmer.Context(seq, offset, k, L); ok {
				counts[h]++
			}
		}
		rc := reverseComplementSeq(seq)
		for offset := 0; offset+L <= len(rc); offset++ {
			if h, ok := kmer.Context(rc, offset, k, L); ok {
				counts[h]++
			}
		}
	}
	return &ContextTable{Length: L, Counts: counts}
}

func reverseComplementSeq(seq []byte) []byte {
	comp := map[byte]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'a': 't', 'c': 'g', 'g': 'c', 't': 'a'}
	n := len(seq)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = comp[seq[n-1-i]]
	}
	return out
}

// BuildContextTables builds one ContextTable per length in lengths, each
// on its own goroutine (one length is independent of every other), then
// truncates: starting from the longest length and scanning downward, keep
// lengths whose total depth exceeds 1/4 of the largest table's, dropping
// the rest once the threshold is first missed.
func BuildContextTables(reads [][]byte, k int, lengths []int) []*ContextTable {
	tables := make([]*ContextTable, len(lengths))
	var wg sync.WaitGroup
	for i, L := range lengths {
		wg.Add(1)
		go func(i, L int) {
			defer wg.Done()
			tables[i] = buildOneContextTable(reads, k, L)
		}(i, L)
	}
	wg.Wait()

	return truncateByCoverage(tables)
}

func tableDepth(t *ContextTable) int {
	sum := 0
	for _, c := range t.Counts {
		sum += c
	}
	return sum
}

// truncateByCoverage finds the largest table's total depth, then scans
// from the longest length downward, keeping each table whose depth
// exceeds 1/4 of the largest, and drops every shorter length once one
// fails that test.
func truncateByCoverage(tables []*ContextTable) []*ContextTable {
	if len(tables) == 0 {
		return tables
	}
	largest := 0
	for _, t := range tables {
		if d := tableDepth(t); d > largest {
			largest = d
		}
	}
	if largest == 0 {
		return nil
	}
	threshold := largest / 4

	// tables is ordered by ascending length; scan from the longest down
	// and keep the first (longest) length whose depth clears the
	// threshold, plus every shorter length (shorter contexts only gain
	// coverage, never lose it).
	for i := len(tables) - 1; i >= 0; i-- {
		if tableDepth(tables[i]) > threshold {
			return tables[:i+1]
		}
	}
	return nil
}
