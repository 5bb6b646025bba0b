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

// Package kmer implements the packed k-mer primitive shared by every stage
// of the Kelpie pipeline: 2-bit packing of k<=32 bases into a left-aligned
// uint64, reverse-complement/canonicalisation, substitution-variant
// enumeration, and the hashed long-k-mer "context" used to disambiguate
// filter matches.
//
// Every k-mer in this package is left-aligned: for a k-mer of length k, only
// the top 2*k bits are significant and the low 64-2*k bits are always zero.
// This differs from the right-aligned convention used by some k-mer
// libraries; it is required so that two k-mers of different lengths that
// share a common prefix also share a common bit-prefix, which `Context`
// relies on when XOR-ing k-mers tiled at a stride.
package kmer

import "errors"

// ErrIllegalBase describes a byte outside the four bases at a position where
// only a concrete call (not a degenerate one) is accepted. The functions in
// this package report such a byte through valid=false rather than returning
// this error.
var ErrIllegalBase = errors.New("kmer: illegal base (want A/C/G/T)")

// ErrKOverflow is the panic value used when k is outside [1, 32].
var ErrKOverflow = errors.New("kmer: k must be in [1, 32]")

// MaxK is the largest k-mer length a single uint64 word can hold.
const MaxK = 32

var base2bits = [256]int8{}

func init() {
	for i := range base2bits {
		base2bits[i] = -1
	}
	base2bits['A'], base2bits['a'] = 0, 0
	base2bits['C'], base2bits['c'] = 1, 1
	base2bits['G'], base2bits['g'] = 2, 2
	base2bits['T'], base2bits['t'] = 3, 3
}

var bits2base = [4]byte{'A', 'C', 'G', 'T'}

// shiftFor returns the number of bits the left-aligned word must be shifted
// right to line up base i (0-based from the left) in the lowest two bits.
func shiftFor(k, i int) uint {
	return uint(64 - (i+1)*2)
}

// topShift is the shift that leaves only the significant 2*k bits.
func topShift(k int) uint {
	return uint(64 - k*2)
}

// Pack encodes seq[offset:offset+k] into a left-aligned packed k-mer. It
// fails (valid=false) if any byte in the window is not a concrete A/C/G/T
// base, or if k is out of range.
func Pack(seq []byte, offset, k int) (word uint64, valid bool) {
	if k <= 0 || k > MaxK || offset < 0 || offset+k > len(seq) {
		return 0, false
	}
	var w uint64
	for i := 0; i < k; i++ {
		b := base2bits[seq[offset+i]]
		if b < 0 {
			return 0, false
		}
		w = (w << 2) | uint64(b)
	}
	return w << topShift(k), true
}

// Incremental slides the packed k-mer window one base to the right: given
// the previous left-aligned k-mer and the next raw base, it produces the
// new left-aligned k-mer without re-packing the whole window.
func Incremental(prev uint64, nextBase byte, k int) (word uint64, valid bool) {
	if k <= 0 || k > MaxK {
		return 0, false
	}
	b := base2bits[nextBase]
	if b < 0 {
		return 0, false
	}
	ts := topShift(k)
	// Drop the leftmost base, shift everything left by 2, append the new
	// base as the new rightmost base of the k window, then re-align left.
	body := (prev >> ts) << 2 // drop top base, make room at the bottom
	body |= uint64(b)
	body &= (uint64(1) << uint(k*2)) - 1
	return body << ts, true
}

// Expand decodes a left-aligned packed k-mer of length k back to its string
// form.
func Expand(word uint64, k int) string {
	if k <= 0 || k > MaxK {
		panic(ErrKOverflow)
	}
	buf := make([]byte, k)
	w := word >> topShift(k)
	for i := k - 1; i >= 0; i-- {
		buf[i] = bits2base[w&3]
		w >>= 2
	}
	return string(buf)
}

// RevComp returns the reverse complement of a left-aligned packed k-mer,
// re-aligned left. Implemented as the classic 4-way interleaved bitswap
// (byte-pair reversal of the 2-bit codes) followed by a 1's-complement,
// rather than a per-base loop, favoring branch-free bit tricks over table
// lookups in the hot path.
func RevComp(word uint64, k int) uint64 {
	if k <= 0 || k > MaxK {
		panic(ErrKOverflow)
	}
	// Work on the full 64-bit word: reverse the order of all 32 2-bit
	// codes, then shift the result so the k codes that used to be the
	// significant (leftmost) ones end up left-aligned again.
	x := word
	// swap adjacent 2-bit groups within each nibble-ish boundary using a
	// standard log-step bit-reversal generalized to 2-bit lanes.
	x = (x&0x3333333333333333)<<2 | (x&0xCCCCCCCCCCCCCCCC)>>2
	x = (x&0x0F0F0F0F0F0F0F0F)<<4 | (x&0xF0F0F0F0F0F0F0F0)>>4
	x = (x&0x00FF00FF00FF00FF)<<8 | (x&0xFF00FF00FF00FF00)>>8
	x = (x&0x0000FFFF0000FFFF)<<16 | (x&0xFFFF0000FFFF0000)>>16
	x = (x << 32) | (x >> 32)
	// x now holds all 32 2-bit codes in reverse order. The k codes we care
	// about (originally the leftmost k of `word`) now sit at the bottom,
	// already in the correct left-to-right order for the reversed
	// sequence; shift them back up to be left-aligned, then complement.
	mask := uint64(1)<<uint(k*2) - 1
	revBits := x & mask
	revLeftAligned := revBits << topShift(k)
	return (^revLeftAligned) & (mask << topShift(k))
}

// Complement returns the (non-reversed) base-complement of a packed k-mer.
func Complement(word uint64, k int) uint64 {
	if k <= 0 || k > MaxK {
		panic(ErrKOverflow)
	}
	mask := uint64(1)<<uint(k*2) - 1
	return (^word) & (mask << topShift(k))
}

// Canonical returns min(kmer, revcomp(kmer)) under unsigned ordering. It
// short-circuits on the first base/last base pair before falling back to a
// full reverse-complement and comparison, since most k-mers differ in their
// outermost bases.
func Canonical(word uint64, k int) uint64 {
	if k <= 0 || k > MaxK {
		panic(ErrKOverflow)
	}
	firstBase := word >> 62
	lastBase := (word >> topShift(k)) & 3
	complLast := lastBase ^ 3
	if firstBase < complLast {
		return word
	}
	rc := RevComp(word, k)
	if firstBase > complLast {
		return rc
	}
	if word <= rc {
		return word
	}
	return rc
}

// AllSingleSubs returns every k-mer reachable from word by substituting a
// single base at a single position: all 4 bases at each of the k positions.
// One of the 4 variants at every position keeps the unmodified base, so the
// original word appears k times in the result. Length is exactly 4*k.
func AllSingleSubs(word uint64, k int) []uint64 {
	if k <= 0 || k > MaxK {
		panic(ErrKOverflow)
	}
	out := make([]uint64, 0, 4*k)
	for i := 0; i < k; i++ {
		sh := shiftFor(k, i)
		mask := uint64(3) << sh
		base := word &^ mask
		for b := uint64(0); b < 4; b++ {
			out = append(out, base|(b<<sh))
		}
	}
	return out
}

// AllDoubleSubs returns every k-mer reachable from word by substituting two
// bases (at two distinct or the same position across the two passes),
// obtained by expanding AllSingleSubs a second time. Duplicates are not
// removed; callers that need a set should dedupe.
func AllDoubleSubs(word uint64, k int) []uint64 {
	firstPass := AllSingleSubs(word, k)
	out := make([]uint64, 0, len(firstPass)*4*k)
	for _, v := range firstPass {
		out = append(out, AllSingleSubs(v, k)...)
	}
	return out
}

// NextVariants returns the 4 k-mers differing from word only in the last
// (rightmost) base — the candidates for one-base extension.
func NextVariants(word uint64, k int) [4]uint64 {
	sh := topShift(k)
	base := word &^ (uint64(3) << sh)
	var out [4]uint64
	for b := uint64(0); b < 4; b++ {
		out[b] = base | (b << sh)
	}
	return out
}

// LowComplexity reports whether the packed k-mer's run of identical
// adjacent base-pairs covers more than 6 bases (e.g. "AAAAAAA..." or
// "ATATATAT..." style homopolymer/dinucleotide runs), the heuristic used to
// drop degenerate-looking reads from the region filter.
func LowComplexity(word uint64, k int) bool {
	if k <= 0 || k > MaxK {
		panic(ErrKOverflow)
	}
	w := word >> topShift(k)
	bases := make([]byte, k)
	for i := k - 1; i >= 0; i-- {
		bases[i] = byte(w & 3)
		w >>= 2
	}
	// longest run of a single repeated base
	longestMono := 1
	run := 1
	for i := 1; i < k; i++ {
		if bases[i] == bases[i-1] {
			run++
			if run > longestMono {
				longestMono = run
			}
		} else {
			run = 1
		}
	}
	if longestMono > 6 {
		return true
	}
	// longest run of a repeated 2-base pair (dinucleotide repeat)
	if k >= 4 {
		longestDi := 2
		run = 2
		for i := 2; i < k; i++ {
			if bases[i] == bases[i-2] {
				run++
				if run > longestDi {
					longestDi = run
				}
			} else {
				run = 2
			}
		}
		if longestDi > 6 {
			return true
		}
	}
	return false
}
