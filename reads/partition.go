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

package reads

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/breader"
	"github.com/shenwei356/xopen"
)

// PartitionFileName returns the temp-file path for partition p, file-in-pair
// fileInPair, under tmp/prefix: "<tmp>/<prefix>_<partition>_<fileInPair>.tmp".
func PartitionFileName(tmp, prefix string, partition, fileInPair int) string {
	return filepath.Join(tmp, fmt.Sprintf("%s_%d_%d.tmp", prefix, partition, fileInPair))
}

// MetadataFileName returns the sidecar path: "<prefix>_kept_metadata.txt".
func MetadataFileName(tmp, prefix string) string {
	return filepath.Join(tmp, prefix+"_kept_metadata.txt")
}

// PartitionInfo is one line of the metadata sidecar: a partition file's
// basename and the number of reads it holds.
type PartitionInfo struct {
	Basename  string
	ReadCount int
}

// Metadata describes a completed unfiltered-mode ingestion: the length of
// the longest read seen, plus the size of every partition file, in write
// order.
type Metadata struct {
	Longest    int
	Partitions []PartitionInfo
}

// WriteMetadata writes the sidecar file: first line "longest<TAB>N", then
// one "<basename><TAB>readCount" line per partition.
func WriteMetadata(tmp, prefix string, m Metadata) error {
	f, err := os.Create(MetadataFileName(tmp, prefix))
	if err != nil {
		return errors.Wrap(err, "creating metadata sidecar")
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "longest\t%d\n", m.Longest)
	for _, p := range m.Partitions {
		fmt.Fprintf(w, "%s\t%d\n", p.Basename, p.ReadCount)
	}
	return w.Flush()
}

// ReadMetadata loads a previously-written sidecar, via breader's buffered
// line reader, the same tool unikmer uses for reading ID/taxdump lists.
func ReadMetadata(tmp, prefix string) (Metadata, error) {
	path := MetadataFileName(tmp, prefix)
	reader, err := breader.NewDefaultBufferedReader(path)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "opening %s", path)
	}
	var m Metadata
	first := true
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			return Metadata{}, chunk.Err
		}
		for _, dataIface := range chunk.Data {
			line := dataIface.(string)
			fields := strings.SplitN(line, "\t", 2)
			if len(fields) != 2 {
				continue
			}
			if first {
				first = false
				n, _ := strconv.Atoi(fields[1])
				m.Longest = n
				continue
			}
			n, _ := strconv.Atoi(fields[1])
			m.Partitions = append(m.Partitions, PartitionInfo{Basename: fields[0], ReadCount: n})
		}
	}
	return m, nil
}

// PartitionWriter rotates single-line-FASTA partition files every
// ReadsPerPartition reads, for one file-in-pair of unfiltered-mode
// ingestion. One PartitionWriter is used per input file, writing its
// partitions sequentially.
type PartitionWriter struct {
	tmp, prefix       string
	fileInPair        int
	readsPerPartition int

	partitionIdx int
	inPartition  int
	w            *bufio.Writer
	f            *os.File

	longest    int
	partitions []PartitionInfo
}

// NewPartitionWriter creates a PartitionWriter; the first partition file is
// opened lazily on the first WriteRead call.
func NewPartitionWriter(tmp, prefix string, fileInPair, readsPerPartition int) *PartitionWriter {
	if readsPerPartition <= 0 {
		readsPerPartition = DefaultReadsPerPartition
	}
	return &PartitionWriter{tmp: tmp, prefix: prefix, fileInPair: fileInPair, readsPerPartition: readsPerPartition}
}

func (pw *PartitionWriter) rotate() error {
	if pw.w != nil {
		if err := pw.w.Flush(); err != nil {
			return err
		}
		if err := pw.f.Close(); err != nil {
			return err
		}
		pw.partitions = append(pw.partitions, PartitionInfo{
			Basename:  filepath.Base(PartitionFileName(pw.tmp, pw.prefix, pw.partitionIdx, pw.fileInPair)),
			ReadCount: pw.inPartition,
		})
		pw.partitionIdx++
	}
	f, err := os.Create(PartitionFileName(pw.tmp, pw.prefix, pw.partitionIdx, pw.fileInPair))
	if err != nil {
		return errors.Wrap(err, "creating partition file")
	}
	pw.f = f
	pw.w = bufio.NewWriterSize(f, os.Getpagesize())
	pw.inPartition = 0
	return nil
}

// WriteRead appends one cleaned read as single-line FASTA, rotating to a
// new partition file if the current one is full.
func (pw *PartitionWriter) WriteRead(header string, seq []byte) error {
	if pw.w == nil || pw.inPartition >= pw.readsPerPartition {
		if err := pw.rotate(); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(pw.w, ">%s\n%s\n", header, seq); err != nil {
		return err
	}
	pw.inPartition++
	if len(seq) > pw.longest {
		pw.longest = len(seq)
	}
	return nil
}

// Close flushes the last partition and returns the accumulated Metadata.
func (pw *PartitionWriter) Close() (Metadata, error) {
	if pw.w != nil {
		if err := pw.w.Flush(); err != nil {
			return Metadata{}, err
		}
		if err := pw.f.Close(); err != nil {
			return Metadata{}, err
		}
		pw.partitions = append(pw.partitions, PartitionInfo{
			Basename:  filepath.Base(PartitionFileName(pw.tmp, pw.prefix, pw.partitionIdx, pw.fileInPair)),
			ReadCount: pw.inPartition,
		})
	}
	return Metadata{Longest: pw.longest, Partitions: pw.partitions}, nil
}

// IngestUnfiltered reads every record of path (sniffing FASTA vs FASTQ,
// gzip or not, via shenwei356/bio/xopen), cleans it, and writes it through
// pw. Returns the number of reads written.
func IngestUnfiltered(path string, opt Options, pw *PartitionWriter) (int, error) {
	reader, err := fastx.NewDefaultReader(path)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", path)
	}

	n := 0
	offset := 33
	offsetKnown := false
	for {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return n, errors.Wrapf(err, "reading %s", path)
		}
		var qual []byte
		if len(record.Seq.Qual) == len(record.Seq.Seq) {
			qual = record.Seq.Qual
			if !offsetKnown {
				offset = qualByteOffset([][]byte{qual})
				offsetKnown = true
			}
		}
		rec, ok := Clean(record.Name, record.Seq.Seq, qual, offset, opt)
		if !ok {
			continue
		}
		if err := pw.WriteRead(string(rec.Header), rec.Seq); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// OpenPartition opens a single-line-FASTA partition file written by
// PartitionWriter for streaming, line-at-a-time, consumption by later
// pipeline stages, via xopen so a "-kept" directory with gzip-compressed
// partitions (produced by an older run) still works.
func OpenPartition(path string) (*xopen.Reader, error) {
	r, err := xopen.Ropen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening partition %s", path)
	}
	return r, nil
}

// ReadPartitionRecords reads every (header, sequence) pair from a
// single-line-FASTA partition file into memory. Partitions are bounded by
// ReadsPerPartition, so this is safe to do per-partition even though doing
// it for a whole unfiltered run would not be.
func ReadPartitionRecords(path string) (headers []string, seqs [][]byte, err error) {
	r, err := OpenPartition(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var curHeader string
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			curHeader = line[1:]
			continue
		}
		headers = append(headers, curHeader)
		seqs = append(seqs, []byte(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrapf(err, "scanning partition %s", path)
	}
	return headers, seqs, nil
}
