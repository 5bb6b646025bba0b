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

// Package reads implements Kelpie's read ingester: FASTA or FASTQ parsing
// (gzipped or not), quality trimming, dark-cycle artefact trimming, and the
// two ingestion modes (pre-filtered in-memory arrays, or unfiltered
// partitioned temp files).
//
// Parsing itself is delegated to shenwei356/bio, the same library unikmer
// uses for every FASTA/FASTQ-touching command (unikmer/unikmer/cmd/count.go).
package reads

import (
	"io"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/kelpie-bio/kelpie/kmer"
)

// Options controls ingestion behaviour, populated from the CLI flags.
type Options struct {
	K                 int  // minimum read length; reads shorter are dropped
	MinQual           int  // FASTQ 3' quality-trim threshold (default 30)
	ReadsPerPartition int  // unfiltered-mode partition size (default 5e6)
	NoLowComplexity   bool // when true, low-complexity reads are NOT dropped later (kept here for reference; filtering happens in regionfilter)
}

// DefaultMinQual is the default FASTQ quality-trim threshold.
const DefaultMinQual = 30

// DefaultReadsPerPartition is the default partition size for unfiltered
// mode.
const DefaultReadsPerPartition = 5_000_000

// darkCycleWindow is the terminal-window length checked for the Illumina
// dark-cycle G-run artefact.
const darkCycleWindow = 16

// qualTrimWindow is the sliding-window width used for 3' FASTQ quality
// trimming.
const qualTrimWindow = 5

func isACGT(b byte) bool {
	switch b {
	case 'A', 'C', 'G', 'T', 'a', 'c', 'g', 't':
		return true
	}
	return false
}

// hasOnlyACGT reports whether seq contains only A/C/G/T bases.
func hasOnlyACGT(seq []byte) bool {
	for _, b := range seq {
		if !isACGT(b) {
			return false
		}
	}
	return true
}

// TrimDarkCycleTail strips a trailing run of 'G' bases when the 16-mer
// immediately preceding that run packs to all-zero bits (i.e. is a run of
// A's) — the signature of an Illumina dark-cycle artefact appended after a
// genuine poly-A tail.
func TrimDarkCycleTail(seq []byte) []byte {
	n := len(seq)
	i := n
	for i > 0 && (seq[i-1] == 'G' || seq[i-1] == 'g') {
		i--
	}
	if i == n || i < darkCycleWindow {
		return seq
	}
	w, ok := kmer.Pack(seq, i-darkCycleWindow, darkCycleWindow)
	if ok && w == 0 {
		return seq[:i]
	}
	return seq
}

// qualByteOffset sniffs the FASTQ quality encoding offset (33 or 64) from a
// sample of quality strings: any byte below 59 can only occur under the
// Phred+33 (Sanger/Illumina 1.8+) encoding.
func qualByteOffset(samples [][]byte) int {
	for _, q := range samples {
		for _, b := range q {
			if b < 59 {
				return 33
			}
		}
	}
	return 64
}

// QualTrim3Prime trims the 3' end of seq/qual using a sliding window: it
// walks from the end and removes any suffix whose window-average quality is
// below minQual.
func QualTrim3Prime(seq, qual []byte, offset, minQual int) ([]byte, []byte) {
	n := len(seq)
	if n == 0 || len(qual) != n {
		return seq, qual
	}
	end := n
	for end > 0 {
		start := end - qualTrimWindow
		if start < 0 {
			start = 0
		}
		sum := 0
		for i := start; i < end; i++ {
			sum += int(qual[i]) - offset
		}
		avg := sum / (end - start)
		if avg >= minQual {
			break
		}
		end--
	}
	return seq[:end], qual[:end]
}

// Record is one cleaned, trimmed read ready for downstream processing.
type Record struct {
	Header []byte
	Seq    []byte
}

// Clean applies quality trim (FASTQ only; qual may be nil for FASTA),
// dark-cycle trim, and the minimum-length / ACGT-only filter. It returns
// ok=false when the read should be discarded as unusable.
func Clean(header, seq, qual []byte, offset int, opt Options) (out Record, ok bool) {
	s := seq
	if qual != nil && len(qual) == len(seq) {
		s, _ = QualTrim3Prime(seq, qual, offset, opt.MinQual)
	}
	s = TrimDarkCycleTail(s)
	if len(s) < opt.K || !hasOnlyACGT(s) {
		return Record{}, false
	}
	return Record{Header: header, Seq: s}, true
}

// FileReads holds every cleaned read from one file, kept in two parallel
// arrays, for the pre-filtered in-memory ingestion mode.
type FileReads struct {
	Headers [][]byte
	Seqs    [][]byte
}

// ReadFiltered ingests an entire (already primer/region-filtered, or simply
// small) FASTA/FASTQ file into memory. Used for "-filtered" mode;
// unfiltered partition files are read back with ReadPartitionRecords.
func ReadFiltered(path string, opt Options) (*FileReads, error) {
	reader, err := fastx.NewDefaultReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	out := &FileReads{}
	var quals [][]byte
	var headers [][]byte
	var seqs [][]byte

	for {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		headers = append(headers, append([]byte(nil), record.Name...))
		seqs = append(seqs, append([]byte(nil), record.Seq.Seq...))
		if len(record.Seq.Qual) == len(record.Seq.Seq) {
			quals = append(quals, append([]byte(nil), record.Seq.Qual...))
		} else {
			quals = append(quals, nil)
		}
	}

	offset := 33
	if anyQual(quals) {
		offset = qualByteOffset(quals)
	}

	for i := range seqs {
		rec, ok := Clean(headers[i], seqs[i], quals[i], offset, opt)
		if !ok {
			continue
		}
		out.Headers = append(out.Headers, rec.Header)
		out.Seqs = append(out.Seqs, rec.Seq)
	}
	return out, nil
}

func anyQual(quals [][]byte) bool {
	for _, q := range quals {
		if q != nil {
			return true
		}
	}
	return false
}
