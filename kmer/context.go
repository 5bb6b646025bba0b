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

package kmer

// ContextStride is the spacing, in bases, between the tiled k-mers that
// contribute to a hashed context.
const ContextStride = 4

// MinContextLength is the shortest context length Kelpie ever builds.
const MinContextLength = 40

// ContextLengths returns every valid context length from MinContextLength
// up to and including the largest multiple-of-stride length that fits
// within maxLen (typically the longest selected read).
func ContextLengths(maxLen int) []int {
	if maxLen < MinContextLength {
		return nil
	}
	var out []int
	for l := MinContextLength; l <= maxLen; l += ContextStride {
		out = append(out, l)
	}
	return out
}

// Context computes the hashed context for a window of length L starting at
// seq[offset:], as XOR of the packed k-mers at positions 0, k, 2k, ... within
// the window, XOR'ed with the last k-mer at position L-k. ok is false if the
// window does not fit, or if any tiled k-mer fails to pack.
func Context(seq []byte, offset, k, L int) (hash uint64, ok bool) {
	if L < k || offset < 0 || offset+L > len(seq) {
		return 0, false
	}
	var h uint64
	pos := 0
	for pos+k <= L {
		w, valid := Pack(seq, offset+pos, k)
		if !valid {
			return 0, false
		}
		h ^= w
		pos += k
	}
	last, valid := Pack(seq, offset+L-k, k)
	if !valid {
		return 0, false
	}
	h ^= last
	return h, true
}

// LongestInReadContext returns the longest valid context length (from the
// candidate lengths) that fits between offset and the end of seq, along with
// its hash. ok is false if none of the candidate lengths fit.
func LongestInReadContext(seq []byte, offset, k int, lengths []int) (length int, hash uint64, ok bool) {
	for i := len(lengths) - 1; i >= 0; i-- {
		L := lengths[i]
		if h, valid := Context(seq, offset, k, L); valid {
			return L, h, true
		}
	}
	return 0, 0, false
}

// EndingPair computes the k-mer-pair XOR fingerprint used by the ending
// filter: the packed k-mer at offset XOR'ed with the packed k-mer 16 bases
// downstream.
func EndingPair(seq []byte, offset, k int) (hash uint64, ok bool) {
	const stride = 16
	a, valid := Pack(seq, offset, k)
	if !valid {
		return 0, false
	}
	b, valid := Pack(seq, offset+stride, k)
	if !valid {
		return 0, false
	}
	return a ^ b, true
}
