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

package regionfilter

import (
	"runtime"
	"sync"

	"github.com/kelpie-bio/kelpie/kmer"
)

// Read is one not-yet-processed candidate for a region-filter iteration.
type Read struct {
	RecordNo int
	Header   []byte
	Seq      []byte
}

// Outcome is one read's fate after a single iteration pass.
type Outcome struct {
	Read     Read
	Retained bool
	Ending   bool
}

// workers returns the work-stealing pool size: max(1, cores/2).
func workers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// matchRead tests a single read's first and last k-mer against direction
// d's region filter, verifying via context, and RCs the read if it only
// matched at the 3' end.
func matchRead(s *State, d Direction, seq []byte) (matched []byte, ok bool) {
	k := s.K
	if len(seq) < k {
		return nil, false
	}
	firstW, validFirst := kmer.Pack(seq, 0, k)
	lastOffset := len(seq) - k
	lastW, validLast := kmer.Pack(seq, lastOffset, k)

	if validFirst && s.HasRegionKmer(d, firstW) && s.VerifyByContext(d, seq, 0, firstW) {
		return seq, true
	}
	if validLast && s.HasRegionKmer(d, lastW) && s.VerifyByContext(d, seq, lastOffset, lastW) {
		// matched only at the 3' end: RC the read so growth keeps its
		// consistent 5'->3' orientation relative to direction d.
		rc := make([]byte, len(seq))
		copy(rc, seq)
		return reverseComplementSeq(rc), true
	}
	return nil, false
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

// RunIteration runs one growth pass over reads for direction d, in
// parallel across a fixed worker pool: the caller-sized `reads` batch is
// split evenly across workers. It returns one Outcome per input read, with
// Retained set on the matched (possibly RC'd), non-low-complexity ones, the
// count of reads whose tiling actually added a new k-mer to the filter,
// and the count classified as "ending".
func RunIteration(s *State, d Direction, reads []Read, noLCF bool) (retained []Outcome, readsAdding int, endingCount int) {
	nw := workers()
	if nw > len(reads) {
		nw = len(reads)
	}
	if nw < 1 {
		return nil, 0, 0
	}

	chunks := make([][]Read, nw)
	for i, r := range reads {
		chunks[i%nw] = append(chunks[i%nw], r)
	}

	results := make([][]Outcome, nw)
	adding := make([]int, nw)
	ending := make([]int, nw)

	var wg sync.WaitGroup
	for i := 0; i < nw; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var local []Outcome
			for _, r := range chunks[i] {
				seq, matched := matchRead(s, d, r.Seq)
				if !matched {
					local = append(local, Outcome{Read: r, Retained: false})
					continue
				}
				if !noLCF && isLowComplexityRead(seq, s.K) {
					local = append(local, Outcome{Read: r, Retained: false})
					continue
				}
				before := s.Size(d)
				s.TileRead(d, seq)
				if s.Size(d) > before {
					adding[i]++
				}
				isEnding := s.IsEnding(d, seq)
				if isEnding {
					ending[i]++
				}
				local = append(local, Outcome{
					Read:     Read{RecordNo: r.RecordNo, Header: r.Header, Seq: seq},
					Retained: true,
					Ending:   isEnding,
				})
			}
			results[i] = local
		}(i)
	}
	wg.Wait()

	for i := 0; i < nw; i++ {
		retained = append(retained, results[i]...)
		readsAdding += adding[i]
		endingCount += ending[i]
	}
	return retained, readsAdding, endingCount
}

// isLowComplexityRead reports whether the read's leading k-mer is
// low-complexity, used as the cheap per-read proxy for dropping
// low-complexity reads during growth.
func isLowComplexityRead(seq []byte, k int) bool {
	w, ok := kmer.Pack(seq, 0, k)
	if !ok {
		return false
	}
	return kmer.LowComplexity(w, k)
}

// TerminationState accumulates the counters the termination rule needs
// across iterations.
type TerminationState struct {
	ReadsExpected          int
	MaxIterations          int
	Iteration              int
	ConsecutiveLowAdding   int
	TotalEndingSoFar       int
	PrevEndingCount        int
	TotalMatched           int
	PrevBatchMatched       int
	InitialReadsExpected   int
	revisedReadsExpectedUp bool
}

// NewTerminationState seeds ReadsExpected from min(fwd,rvs) prepped-read
// counts.
func NewTerminationState(fwdPrepped, rvsPrepped, maxIterations int) *TerminationState {
	expected := fwdPrepped
	if rvsPrepped < expected {
		expected = rvsPrepped
	}
	return &TerminationState{ReadsExpected: expected, InitialReadsExpected: expected, MaxIterations: maxIterations}
}

// Reason names which termination condition, if any, fired.
type Reason int

const (
	// NotDone: keep iterating.
	NotDone Reason = iota
	// LowAdding: (a) readsAddingToFilter near zero for two consecutive
	// iterations.
	LowAdding
	// EndingShrinking: (b) ending-reads count shrinks below 1% of
	// total-ending-so-far.
	EndingShrinking
	// EndingExceeded: (c) total ending reads exceeds readsExpected and the
	// last batch of matches dropped by >=50%.
	EndingExceeded
	// RunawayGrowth: (d) matched reads exceed 2x readsExpected.
	RunawayGrowth
	// MaxIterationsReached: (e) iteration exceeds max-iterations.
	MaxIterationsReached
)

// lowAddingThreshold is the "near zero" bound for condition (a), expressed
// as a fraction of ReadsExpected to scale with run size.
const lowAddingThreshold = 0.002

// Step records one iteration's results and reports whether any
// termination condition has fired. revisedUpward tells the caller
// readsExpected was revised (ready for a fresh estimate to be substituted
// in future threshold checks).
func (t *TerminationState) Step(readsAdding, batchMatched, endingCount int) (reason Reason, revisedUpward bool) {
	t.Iteration++
	t.TotalMatched += batchMatched
	t.TotalEndingSoFar += endingCount

	if t.TotalMatched > 5*t.InitialReadsExpected && !t.revisedReadsExpectedUp {
		t.ReadsExpected = t.TotalMatched
		t.revisedReadsExpectedUp = true
		revisedUpward = true
	}

	if float64(readsAdding) <= lowAddingThreshold*float64(t.ReadsExpected) {
		t.ConsecutiveLowAdding++
	} else {
		t.ConsecutiveLowAdding = 0
	}
	if t.ConsecutiveLowAdding >= 2 {
		return LowAdding, revisedUpward
	}

	if t.TotalEndingSoFar > 0 && float64(endingCount) < 0.01*float64(t.TotalEndingSoFar) && t.Iteration > 1 {
		return EndingShrinking, revisedUpward
	}

	if t.TotalEndingSoFar > t.ReadsExpected && t.PrevBatchMatched > 0 &&
		float64(batchMatched) <= 0.5*float64(t.PrevBatchMatched) {
		return EndingExceeded, revisedUpward
	}

	if t.TotalMatched > 2*t.ReadsExpected {
		return RunawayGrowth, revisedUpward
	}

	if t.MaxIterations > 0 && t.Iteration >= t.MaxIterations {
		return MaxIterationsReached, revisedUpward
	}

	t.PrevBatchMatched = batchMatched
	t.PrevEndingCount = endingCount
	return NotDone, revisedUpward
}

// MaxIterationsForAmpliconLength derives the iteration cap from a
// user-provided amplicon length. A generous constant factor keeps growth
// bounded without clipping legitimate long amplicons; read length is the
// per-iteration growth unit.
func MaxIterationsForAmpliconLength(ampliconLength, readLength int) int {
	if readLength <= 0 {
		readLength = 150
	}
	n := (ampliconLength / readLength) * 4
	if n < 20 {
		n = 20
	}
	return n
}
