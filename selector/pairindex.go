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

package selector

import "strings"

// primerTags are the header suffixes the scanner appends; stripped before
// comparing R1/R2 headers for pair agreement.
var primerTags = []string{";FP'", ";RP'", ";FP", ";RP"}

// stripPrimerTag removes a trailing primer tag, if present.
func stripPrimerTag(header []byte) []byte {
	h := string(header)
	for _, tag := range primerTags {
		if strings.HasSuffix(h, tag) {
			return []byte(h[:len(h)-len(tag)])
		}
	}
	return header
}

// PartitionKey names one (fileIndex, partition) bucket in the per-file
// recordNo->globalIndex bookkeeping the selector keeps to preserve pair
// linkage across the selection pass.
type PartitionKey struct {
	FileIndex int
	Partition int
}

// Index tracks, per (fileIndex, partition), which input recordNo mapped to
// which global selected index, and the stripped header for each selected
// read — enough to later build a bidirectional pair index across two
// files' worth of partitions.
type Index struct {
	recordToGlobal map[PartitionKey]map[int]int
	globalHeader   map[int][]byte
}

// NewIndex allocates an empty Index.
func NewIndex() *Index {
	return &Index{
		recordToGlobal: map[PartitionKey]map[int]int{},
		globalHeader:   map[int][]byte{},
	}
}

// Record registers one accepted read's recordNo->globalIndex mapping.
func (idx *Index) Record(s Selected) {
	key := PartitionKey{FileIndex: s.FileIndex, Partition: s.Partition}
	m, ok := idx.recordToGlobal[key]
	if !ok {
		m = map[int]int{}
		idx.recordToGlobal[key] = m
	}
	m[s.RecordNo] = s.GlobalIndex
	idx.globalHeader[s.GlobalIndex] = stripPrimerTag(s.Header)
}

// GlobalIndexFor looks up the global selected index for a given
// (fileIndex, partition, recordNo), if that read was selected.
func (idx *Index) GlobalIndexFor(fileIndex, partition, recordNo int) (int, bool) {
	m, ok := idx.recordToGlobal[PartitionKey{FileIndex: fileIndex, Partition: partition}]
	if !ok {
		return 0, false
	}
	g, ok := m[recordNo]
	return g, ok
}

// PairIndex is the bidirectional R1-global-index <-> R2-global-index map
// built once both files of a pair have been selected.
type PairIndex map[int]int

// BuildPairIndex pairs up R1 and R2 selected reads from the same partition
// and recordNo (the FASTQ/FASTA pairing already guaranteed by reading both
// files of a pair record-for-record), but only links the pair when their
// stripped headers agree — headers disagreeing (e.g. a desync'd pair) are
// left unlinked rather than guessed at.
func BuildPairIndex(r1, r2 *Index, partitions int, recordsPerPartition int) PairIndex {
	pairs := PairIndex{}
	for p := 0; p < partitions; p++ {
		for recordNo := 0; recordNo < recordsPerPartition; recordNo++ {
			g1, ok1 := r1.GlobalIndexFor(0, p, recordNo)
			if !ok1 {
				continue
			}
			g2, ok2 := r2.GlobalIndexFor(1, p, recordNo)
			if !ok2 {
				continue
			}
			if string(r1.globalHeader[g1]) != string(r2.globalHeader[g2]) {
				continue
			}
			pairs[g1] = g2
			pairs[g2] = g1
		}
	}
	return pairs
}
