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

// Package denoise walks every selected read's k-mer depth profile against
// the extension k-mer table, flagging sequencing-error k-mers for removal
// while voting on which k-mers are trustworthy enough to keep. It zeroes
// the culled k-mers' counts in the table and reports per-read depth
// statistics the recursive extender later uses to set its own per-read
// acceptance thresholds.
package denoise

import (
	"math"
	"runtime"
	"sync"

	"github.com/kelpie-bio/kelpie/exttable"
	"github.com/kelpie-bio/kelpie/kmer"
)

// DefaultErrorRate is the assumed per-base sequencing error rate used
// throughout the noise-floor and redemption thresholds.
const DefaultErrorRate = 0.01

// Options controls denoising behaviour.
type Options struct {
	K                     int
	ShortestContextLength int
	ErrorRate             float64
	MinDepth              int
}

func (o Options) errorRate() float64 {
	if o.ErrorRate <= 0 {
		return DefaultErrorRate
	}
	return o.ErrorRate
}

// ReadStats is the per-read depth summary the recursive extender uses to
// set its own per-read acceptance thresholds.
type ReadStats struct {
	AvgDepth          float64
	HarmonicMeanDepth float64
	MinDepth          int
	InitialGoodDepth  int
}

// Result is one full denoising pass's output.
type Result struct {
	Table    *exttable.KmerTable // same table, mutated: culled k-mers zeroed
	ToCull   map[uint64]int
	DeemedOK map[uint64]int
	Stats    []ReadStats
}

func workers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

func depthsFor(table *exttable.KmerTable, seq []byte, k int) []int {
	n := len(seq) - k + 1
	if n <= 0 {
		return nil
	}
	depths := make([]int, n)
	for i := 0; i < n; i++ {
		w, ok := kmer.Pack(seq, i, k)
		if !ok {
			depths[i] = 0
			continue
		}
		depths[i] = table.Counts[kmer.Canonical(w, k)]
	}
	return depths
}

func avgExcludingZero(depths []int) float64 {
	sum, n := 0, 0
	for _, d := range depths {
		if d > 0 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func harmonicMean(depths []int) float64 {
	sum, n := 0.0, 0
	for _, d := range depths {
		if d > 0 {
			sum += 1.0 / float64(d)
			n++
		}
	}
	if n == 0 || sum == 0 {
		return 0
	}
	return float64(n) / sum
}

// medianKmerIndex returns the index of the non-zero-depth k-mer whose log
// distance to avg is smallest — the read's "median" (representative,
// noise-free) k-mer.
func medianKmerIndex(depths []int, avg float64) (int, bool) {
	if avg <= 0 {
		return 0, false
	}
	best, bestDist := -1, math.Inf(1)
	target := math.Log(avg)
	for i, d := range depths {
		if d <= 0 {
			continue
		}
		dist := math.Abs(math.Log(float64(d)) - target)
		if dist < bestDist {
			bestDist, best = dist, i
		}
	}
	return best, best >= 0
}

// lastBaseVariants returns the (up to three) packed k-mers obtainable from
// word by substituting only its final (3') base to something other than
// word's own last base.
func lastBaseVariants(word uint64, k int) []uint64 {
	all := kmer.NextVariants(word, k)
	out := make([]uint64, 0, 3)
	for _, v := range all {
		if v != word {
			out = append(out, v)
		}
	}
	return out
}

// singleSubVariants returns every packed k-mer obtainable from word by
// substituting exactly one base, at any position, excluding word itself.
func singleSubVariants(word uint64, k int) []uint64 {
	all := kmer.AllSingleSubs(word, k)
	out := make([]uint64, 0, len(all))
	for _, v := range all {
		if v != word {
			out = append(out, v)
		}
	}
	return out
}

func depthOf(table *exttable.KmerTable, word uint64, k int) int {
	return table.Counts[kmer.Canonical(word, k)]
}

// noiseFloor derives a per-read noise floor from the median k-mer's
// last-base variant depths, falling back to ceil(avg/errorRate) when no
// variant carries any depth.
func noiseFloor(table *exttable.KmerTable, medianWord uint64, k int, avg, errorRate float64) int {
	variants := lastBaseVariants(medianWord, k)
	min := -1
	for _, v := range variants {
		d := depthOf(table, v, k)
		if min == -1 || d < min {
			min = d
		}
	}
	if min > 0 {
		return min
	}
	return int(math.Ceil(avg / errorRate))
}

// craterDetected reports whether the k-mer window starting at i dips to
// roughly the noise floor and the following window of the same width
// recovers to roughly the previous-good depth — the signature of a single
// misread base surrounded by otherwise-healthy sequence.
func craterDetected(depths []int, i, k int, floor, prevGood float64) bool {
	n := len(depths)
	if i+2*k > n {
		return false
	}
	window := depths[i : i+k]
	next := depths[i+k : i+2*k]
	hm := harmonicMean(window)
	if hm == 0 || hm > floor*1.5 {
		return false
	}
	sum := 0
	for _, d := range next {
		sum += d
	}
	mean := float64(sum) / float64(len(next))
	return mean >= prevGood*0.8
}

// firstKmerDubious implements the first-k-mer rule: when the lead k-mer
// looks too shallow (or the read is too short to have earned trust any
// other way), probe its single-sub variants; a markedly deeper variant
// means the lead base itself was likely miscalled.
func firstKmerDubious(table *exttable.KmerTable, word uint64, k int, runningMean float64, readLen, shortestContextLength int, errorRate float64) (dubious bool, seedDepth int) {
	d := float64(depthOf(table, word, k))
	maxDepth := runningMean // the read's own running mean stands in for a global maxDepth ceiling
	trigger := d < runningMean/2 || readLen < shortestContextLength || d < maxDepth/errorRate
	if !trigger {
		return false, int(d)
	}
	best := -1
	for _, v := range singleSubVariants(word, k) {
		vd := depthOf(table, v, k)
		if vd > best {
			best = vd
		}
	}
	const dubiousFactor = 2.0
	if float64(best) > d*dubiousFactor {
		return true, best
	}
	return false, int(d)
}

// followerSupport approximates "follower-match count": the depth of the
// (k+1)-th base actually observed in the read immediately after this
// k-mer, read off the table for the k-mer that results from sliding the
// window forward by one real base. This is a read-grounded proxy for a
// full k+1-mer follower graph, which the table family here does not
// maintain.
func followerSupport(table *exttable.KmerTable, seq []byte, i, k int) int {
	if i+k >= len(seq) {
		return 0
	}
	w, ok := kmer.Pack(seq, i+1, k)
	if !ok {
		return 0
	}
	return depthOf(table, w, k)
}

func deepestAlternative(table *exttable.KmerTable, word uint64, k int) (uint64, int) {
	best := uint64(0)
	bestDepth := -1
	for _, v := range singleSubVariants(word, k) {
		d := depthOf(table, v, k)
		if d > bestDepth {
			bestDepth, best = d, v
		}
	}
	return best, bestDepth
}

func ceilDivFloat(a float64, rate float64) int {
	if rate <= 0 {
		return int(math.Ceil(a))
	}
	return int(math.Ceil(a / rate))
}

// sweepRead runs the single-read denoise sweep, returning the local
// toCull/deemedOK votes and this read's stats.
func sweepRead(table *exttable.KmerTable, seq []byte, opt Options) (toCull, deemedOK map[uint64]int, stats ReadStats) {
	k := opt.K
	errorRate := opt.errorRate()
	depths := depthsFor(table, seq, k)
	toCull = map[uint64]int{}
	deemedOK = map[uint64]int{}
	if len(depths) == 0 {
		return toCull, deemedOK, stats
	}

	avg := avgExcludingZero(depths)
	stats.AvgDepth = avg
	stats.HarmonicMeanDepth = harmonicMean(depths)
	minD := depths[0]
	for _, d := range depths {
		if d < minD {
			minD = d
		}
	}
	stats.MinDepth = minD
	stats.InitialGoodDepth = depths[0]

	medIdx, ok := medianKmerIndex(depths, avg)
	if !ok {
		return toCull, deemedOK, stats
	}
	medianWord, _ := kmer.Pack(seq, medIdx, k)
	floor := noiseFloor(table, medianWord, k, avg, errorRate)

	culled := make([]bool, len(depths))
	firstWord, _ := kmer.Pack(seq, 0, k)
	dubious, seed := firstKmerDubious(table, firstWord, k, avg, len(seq), opt.ShortestContextLength, errorRate)

	prevGood := float64(depths[0])
	if dubious {
		prevGood = float64(seed)
	}
	craterUntil := -1
	maxCulledDepth := 0

	for i := 0; i < len(depths); i++ {
		d := depths[i]
		word, wok := kmer.Pack(seq, i, k)
		if !wok {
			culled[i] = true
			continue
		}
		totalVariantDepths := 0
		for _, v := range lastBaseVariants(word, k) {
			totalVariantDepths += depthOf(table, v, k)
		}

		cull := false
		switch {
		case i <= craterUntil:
			cull = true
		case float64(d) <= float64(floor):
			cull = true
		case d <= ceilDivFloat(float64(totalVariantDepths), errorRate):
			cull = true
		case float64(d) < prevGood*errorRate:
			cull = true
		case craterDetected(depths, i, k, float64(floor), prevGood):
			cull = true
		case i == 0 && dubious:
			cull = true
		}

		if cull {
			_, altDepth := deepestAlternative(table, word, k)
			curFollower := followerSupport(table, seq, i, k)
			altFollower := altDepth // proxy: an alternative's own depth stands in for its follower support, since the read itself cannot exercise a base it doesn't contain
			if curFollower > altFollower {
				cull = false
			}
		}

		if cull {
			culled[i] = true
			canon := kmer.Canonical(word, k)
			toCull[canon]++
			if d > maxCulledDepth {
				maxCulledDepth = d
			}
			if craterUntil < i {
				for j := i; j < len(depths) && float64(depths[j]) < float64(floor); j++ {
					craterUntil = j
				}
			}
			continue
		}

		prevGood = float64(d)
	}

	// deemedOK: accepted k-mers not within k/4 bases of any culled
	// position, and only from reads at least shortestContextLength long.
	if len(seq) >= opt.ShortestContextLength {
		margin := k / 4
		for i, c := range culled {
			if c {
				continue
			}
			nearCulled := false
			for j := i - margin; j <= i+margin; j++ {
				if j >= 0 && j < len(culled) && culled[j] {
					nearCulled = true
					break
				}
			}
			if nearCulled {
				continue
			}
			word, wok := kmer.Pack(seq, i, k)
			if !wok {
				continue
			}
			deemedOK[kmer.Canonical(word, k)]++
		}
	}

	// Retroactive cull: if the first contiguous accepted block's depths
	// never exceed this read's own max culled depth, it was likely a
	// shallow artefact that only looked clean because nothing deeper
	// flagged it.
	if maxCulledDepth > 0 {
		blockEnd := 0
		for blockEnd < len(culled) && !culled[blockEnd] {
			blockEnd++
		}
		allShallow := blockEnd > 0
		for i := 0; i < blockEnd; i++ {
			if depths[i] > maxCulledDepth {
				allShallow = false
				break
			}
		}
		if allShallow {
			for i := 0; i < blockEnd; i++ {
				word, wok := kmer.Pack(seq, i, k)
				if !wok {
					continue
				}
				canon := kmer.Canonical(word, k)
				delete(deemedOK, canon)
				toCull[canon]++
			}
		}
	}

	return toCull, deemedOK, stats
}

// Denoise runs the full per-read sweep over reads in parallel, merges the
// toCull/deemedOK vote maps, applies final reconciliation, and zeroes the
// culled k-mers' counts in table.
func Denoise(table *exttable.KmerTable, reads [][]byte, opt Options) *Result {
	nw := workers()
	if nw > len(reads) {
		nw = len(reads)
	}
	if nw < 1 {
		return &Result{Table: table, ToCull: map[uint64]int{}, DeemedOK: map[uint64]int{}}
	}

	chunks := make([][]int, nw)
	for i := range reads {
		chunks[i%nw] = append(chunks[i%nw], i)
	}

	toCullParts := make([]map[uint64]int, nw)
	deemedOKParts := make([]map[uint64]int, nw)
	statsParts := make([][]ReadStats, len(reads))

	var wg sync.WaitGroup
	for w := 0; w < nw; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			localCull := map[uint64]int{}
			localOK := map[uint64]int{}
			for _, idx := range chunks[w] {
				cull, ok, stats := sweepRead(table, reads[idx], opt)
				for k, v := range cull {
					localCull[k] += v
				}
				for k, v := range ok {
					localOK[k] += v
				}
				statsParts[idx] = []ReadStats{stats}
			}
			toCullParts[w] = localCull
			deemedOKParts[w] = localOK
		}(w)
	}
	wg.Wait()

	toCull := map[uint64]int{}
	deemedOK := map[uint64]int{}
	for w := 0; w < nw; w++ {
		for k, v := range toCullParts[w] {
			toCull[k] += v
		}
		for k, v := range deemedOKParts[w] {
			deemedOK[k] += v
		}
	}
	stats := make([]ReadStats, len(reads))
	for i, s := range statsParts {
		if len(s) == 1 {
			stats[i] = s[0]
		}
	}

	minDepth := opt.MinDepth
	errorRate := opt.errorRate()
	for w, c := range toCull {
		ok := deemedOK[w]
		if c > 5*ok && float64(ok) <= math.Max(float64(minDepth), float64(ok)/errorRate) {
			table.Counts[w] = 0
		}
	}

	return &Result{Table: table, ToCull: toCull, DeemedOK: deemedOK, Stats: stats}
}
