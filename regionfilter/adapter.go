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

import "github.com/kelpie-bio/kelpie/kmer"

// depthMap counts k-mer occurrences across a set of reads, packed
// left-aligned via kmer.Pack.
func depthMap(reads [][]byte, k int) map[uint64]int {
	depths := map[uint64]int{}
	for _, seq := range reads {
		for offset := 0; offset+k <= len(seq); offset++ {
			w, ok := kmer.Pack(seq, offset, k)
			if !ok {
				continue
			}
			depths[w]++
		}
	}
	return depths
}

// TrimAdapters implements the adapter trap: compute k-mer depths across the
// as-read orientation of primer-containing reads; a k-mer present at this
// offset whose reverse complement never occurs anywhere in the as-read set
// is an HDUB (high-depth unbalanced) k-mer, the signature of adapter
// contamination, and the read is trimmed at the first such boundary.
func TrimAdapters(reads [][]byte, k int) [][]byte {
	asReadDepths := depthMap(reads, k)

	out := make([][]byte, len(reads))
	for i, seq := range reads {
		out[i] = trimOneAdapter(seq, k, asReadDepths)
	}
	return out
}

func trimOneAdapter(seq []byte, k int, asReadDepths map[uint64]int) []byte {
	for offset := 0; offset+k <= len(seq); offset++ {
		w, ok := kmer.Pack(seq, offset, k)
		if !ok {
			continue
		}
		rc := kmer.RevComp(w, k)
		if asReadDepths[rc] == 0 && asReadDepths[w] > 0 {
			return seq[:offset]
		}
	}
	return seq
}
