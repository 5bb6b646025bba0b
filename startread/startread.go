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

// Package startread turns a primer-trimmed read into a trustworthy seed for
// recursive extension: it walks the read replacing weakly-supported bases,
// retries from the other strand or trims back when cleaning can't settle,
// extends short reads forward until they clear the minimum context length,
// and rescues reads that look like an already-oriented starting read's
// prefix. It also records the set of hashed prefixes that later extension
// steps consult to keep extension anchored on real starting material.
package startread

import (
	"github.com/cespare/xxhash/v2"

	"github.com/kelpie-bio/kelpie/exttable"
	"github.com/kelpie-bio/kelpie/kmer"
)

// MaxCleanChanges is the most single-base substitutions Clean will apply
// before declaring a read unclean.
const MaxCleanChanges = 2

// weakDepthFactor and muchDeeperFactor are the thresholds that decide
// whether a k-mer is weak enough to replace, and whether a candidate
// replacement is convincingly deeper than the base it would replace.
const (
	weakDepthFactor  = 0.5
	muchDeeperFactor = 3.0
)

// Options controls starting-read preparation.
type Options struct {
	K                     int
	ShortestContextLength int
}

// Tables bundles the mutable k-mer and context tables that Clean keeps
// consistent as it substitutes bases.
type Tables struct {
	Kmer     *exttable.KmerTable
	Contexts []*exttable.ContextTable
}

func depthAt(t *exttable.KmerTable, word uint64, k int) int {
	return t.Counts[kmer.Canonical(word, k)]
}

func avgDepth(t *exttable.KmerTable, seq []byte, k int) float64 {
	sum, n := 0, 0
	for offset := 0; offset+k <= len(seq); offset++ {
		w, ok := kmer.Pack(seq, offset, k)
		if !ok {
			continue
		}
		sum += depthAt(t, w, k)
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func weak(depth int, avg float64) bool {
	return avg > 0 && float64(depth) < avg*weakDepthFactor
}

func muchDeeper(alt, cur int) bool {
	return float64(alt) > float64(cur)*muchDeeperFactor
}

// followerSupport is the depth of the k-mer one real base further into
// seq than the window starting at offset — the actual downstream context
// that a candidate base must be consistent with.
func followerSupport(t *exttable.KmerTable, seq []byte, offset, k int) int {
	if offset+1+k > len(seq) {
		return 0
	}
	w, ok := kmer.Pack(seq, offset+1, k)
	if !ok {
		return 0
	}
	return depthAt(t, w, k)
}

// applySubstitution mutates seq[pos] and keeps every k-mer and context
// window touching pos consistent in the tables: decrement the old form,
// increment the new one, for each length the tables track.
func applySubstitution(seq []byte, pos int, newBase byte, tables Tables, k int) {
	oldBase := seq[pos]
	if oldBase == newBase {
		return
	}

	lo := pos - k + 1
	if lo < 0 {
		lo = 0
	}
	hi := pos
	if hi > len(seq)-k {
		hi = len(seq) - k
	}
	for offset := lo; offset <= hi; offset++ {
		if w, ok := kmer.Pack(seq, offset, k); ok {
			tables.Kmer.Counts[kmer.Canonical(w, k)]--
		}
	}

	for _, ct := range tables.Contexts {
		L := ct.Length
		clo := pos - L + 1
		if clo < 0 {
			clo = 0
		}
		chi := pos
		if chi > len(seq)-L {
			chi = len(seq) - L
		}
		for offset := clo; offset <= chi; offset++ {
			if h, ok := kmer.Context(seq, offset, k, L); ok {
				ct.Counts[h]--
			}
		}
	}

	seq[pos] = newBase

	for offset := lo; offset <= hi; offset++ {
		if w, ok := kmer.Pack(seq, offset, k); ok {
			tables.Kmer.Counts[kmer.Canonical(w, k)]++
		}
	}
	for _, ct := range tables.Contexts {
		L := ct.Length
		clo := pos - L + 1
		if clo < 0 {
			clo = 0
		}
		chi := pos
		if chi > len(seq)-L {
			chi = len(seq) - L
		}
		for offset := clo; offset <= chi; offset++ {
			if h, ok := kmer.Context(seq, offset, k, L); ok {
				ct.Counts[h]++
			}
		}
	}
}

// Clean walks seq left to right, replacing the last base of each weak
// k-mer with the single-sub variant best supported by downstream context
// or raw depth, up to MaxCleanChanges substitutions. It mutates seq in
// place and reports whether the read stayed within the change budget.
func Clean(seq []byte, tables Tables, opt Options) (ok bool, changes int) {
	k := opt.K
	avg := avgDepth(tables.Kmer, seq, k)

	for offset := 0; offset+k <= len(seq); offset++ {
		word, wok := kmer.Pack(seq, offset, k)
		if !wok {
			continue
		}
		depth := depthAt(tables.Kmer, word, k)
		if !weak(depth, avg) {
			continue
		}

		variants := kmer.NextVariants(word, k)
		bestVariant := word
		bestDepth := depth
		bestFollower := followerSupport(tables.Kmer, seq, offset, k)
		curFollower := bestFollower

		for _, v := range variants {
			if v == word {
				continue
			}
			vd := depthAt(tables.Kmer, v, k)
			vFollower := vd // a variant has no real "next base" of its own to look up; its own depth stands in for downstream support
			if vFollower > bestFollower || muchDeeper(vd, depth) {
				if vd > bestDepth {
					bestVariant, bestDepth, bestFollower = v, vd, vFollower
				}
			}
		}

		if bestVariant == word {
			continue
		}
		if curFollower >= bestFollower && !muchDeeper(bestDepth, depth) {
			continue
		}

		newBase := kmer.Expand(bestVariant, k)[k-1]
		applySubstitution(seq, offset+k-1, newBase, tables, k)
		changes++
		if changes > MaxCleanChanges {
			return false, changes
		}
	}
	return true, changes
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

// trimToLastGood trims seq back to the longest prefix whose last k-mer is
// not itself weak, used when Clean fails from both orientations.
func trimToLastGood(seq []byte, tables Tables, opt Options) []byte {
	k := opt.K
	avg := avgDepth(tables.Kmer, seq, k)
	for end := len(seq); end >= k; end-- {
		w, ok := kmer.Pack(seq, end-k, k)
		if !ok {
			continue
		}
		if !weak(depthAt(tables.Kmer, w, k), avg) {
			return append([]byte(nil), seq[:end]...)
		}
	}
	return nil
}

// Prepare implements the starting-read preparation sequence: clean
// forward; on failure retry from the reverse complement; on failure from
// both orientations, trim back to the last good base. Returns the
// prepared sequence (possibly shorter, possibly RC'd) and whether it
// should be used at all (nil, false if nothing usable survived).
func Prepare(seq []byte, tables Tables, opt Options) ([]byte, bool) {
	forward := append([]byte(nil), seq...)
	if ok, _ := Clean(forward, tables, opt); ok {
		return forward, true
	}

	rc := reverseComplementSeq(seq)
	if ok, _ := Clean(rc, tables, opt); ok {
		return rc, true
	}

	trimmed := trimToLastGood(forward, tables, opt)
	if trimmed == nil || len(trimmed) < opt.K {
		return nil, false
	}
	return trimmed, true
}

// Extend iteratively appends the most plausible next base — the single
// next-variant whose k-mer table depth is both non-zero and not tied with
// another variant — until seq reaches ShortestContextLength, the next
// base is ambiguous (more than one variant viable), or none is viable.
func Extend(seq []byte, tables Tables, opt Options) []byte {
	k := opt.K
	out := append([]byte(nil), seq...)
	for len(out) < opt.ShortestContextLength {
		if len(out) < k {
			break
		}
		word, ok := kmer.Pack(out, len(out)-k, k)
		if !ok {
			break
		}

		bestDepth, secondDepth := -1, -1
		var bestBase byte
		for b := uint64(0); b < 4; b++ {
			v, vok := kmer.Incremental(word, "ACGT"[b], k)
			if !vok {
				continue
			}
			d := depthAt(tables.Kmer, v, k)
			if d <= 0 {
				continue
			}
			if d > bestDepth {
				secondDepth = bestDepth
				bestDepth, bestBase = d, "ACGT"[b]
			} else if d > secondDepth {
				secondDepth = d
			}
		}

		if bestDepth <= 0 || (secondDepth > 0 && secondDepth == bestDepth) {
			break
		}
		out = append(out, bestBase)
	}
	return out
}

// PrefixHashes builds startingContexts[L]: the set of xxhash-hashed
// length-L prefixes of every cleaned starting read, for every tracked
// context length.
func PrefixHashes(startingReads [][]byte, lengths []int) map[int]map[uint64]struct{} {
	out := make(map[int]map[uint64]struct{}, len(lengths))
	for _, L := range lengths {
		set := map[uint64]struct{}{}
		for _, seq := range startingReads {
			if len(seq) < L {
				continue
			}
			set[xxhash.Sum64(seq[:L])] = struct{}{}
		}
		out[L] = set
	}
	return out
}

// TrimmedPrefix is a recorded (orientation-normalized) primer prefix that
// was trimmed off a starting read, kept so the rescue pass can recognise
// non-starting reads that actually begin where a starting read does.
type TrimmedPrefix struct {
	Prefix []byte
	Length int
}

// RecordTrimmedPrefix captures the first ShortestContextLength bases of a
// starting read, to be matched against candidate reads during rescue.
func RecordTrimmedPrefix(startingRead []byte, opt Options) (TrimmedPrefix, bool) {
	L := opt.ShortestContextLength
	if len(startingRead) < L {
		return TrimmedPrefix{}, false
	}
	return TrimmedPrefix{Prefix: append([]byte(nil), startingRead[:L]...), Length: L}, true
}

// Rescue checks whether candidate's leading or trailing ShortestContextLength
// window matches a recorded starting-read prefix; if its trailing window
// matches, candidate is reverse-complemented so the match becomes leading.
// On a match it pushes the (possibly reoriented) read through Prepare.
func Rescue(candidate []byte, prefixes []TrimmedPrefix, tables Tables, opt Options) ([]byte, bool) {
	L := opt.ShortestContextLength
	if len(candidate) < L {
		return nil, false
	}

	matches := func(window []byte) bool {
		for _, p := range prefixes {
			if p.Length == len(window) && string(p.Prefix) == string(window) {
				return true
			}
		}
		return false
	}

	if matches(candidate[:L]) {
		return Prepare(candidate, tables, opt)
	}

	rc := reverseComplementSeq(candidate)
	if matches(rc[:L]) {
		return Prepare(rc, tables, opt)
	}

	tail := candidate[len(candidate)-L:]
	rcTail := reverseComplementSeq(tail)
	if matches(rcTail) {
		return Prepare(reverseComplementSeq(candidate), tables, opt)
	}

	return nil, false
}
