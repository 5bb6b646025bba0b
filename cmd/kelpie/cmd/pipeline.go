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

// Package cmd's pipeline.go wires every engine package (kmer, primer, reads,
// scan, regionfilter, selector, exttable, denoise, startread, extend) into
// the end-to-end run described by the command-line surface in root.go.
package cmd

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	humanize "github.com/dustin/go-humanize"

	"github.com/kelpie-bio/kelpie/denoise"
	"github.com/kelpie-bio/kelpie/exttable"
	"github.com/kelpie-bio/kelpie/extend"
	"github.com/kelpie-bio/kelpie/kmer"
	"github.com/kelpie-bio/kelpie/primer"
	"github.com/kelpie-bio/kelpie/reads"
	"github.com/kelpie-bio/kelpie/regionfilter"
	"github.com/kelpie-bio/kelpie/scan"
	"github.com/kelpie-bio/kelpie/selector"
	"github.com/kelpie-bio/kelpie/startread"
)

// DefaultKmerSize is Kelpie's fixed internal k-mer length. Unlike a general
// k-mer toolkit, Kelpie is tuned for one task and does not expose k on the
// command line.
const DefaultKmerSize = 25

func workers(n int) int {
	if n > 0 {
		return n
	}
	w := runtime.NumCPU() / 2
	if w < 1 {
		w = 1
	}
	return w
}

// partitionData is one unit of partition-parallel work: every read from one
// (file, partition) pair, ready for scanning.
type partitionData struct {
	FileIndex int
	Partition int
	Headers   [][]byte
	Seqs      [][]byte
}

// loadPartitions ingests one input file into one or more partitions: the
// whole file in one partition for -filtered mode, or the unfiltered
// partitioned-temp-file pass (reused from -kept if present) otherwise.
func loadPartitions(fileIndex int, path string, filtered bool, opt RunOptions, ingestOpt reads.Options) ([]partitionData, error) {
	if filtered {
		fr, err := reads.ReadFiltered(path, ingestOpt)
		if err != nil {
			return nil, err
		}
		return []partitionData{{FileIndex: fileIndex, Partition: 0, Headers: fr.Headers, Seqs: fr.Seqs}}, nil
	}

	prefix := fmt.Sprintf("%s_%d", filepath.Base(path), fileIndex)
	tmp := opt.TmpDir
	var meta reads.Metadata
	var err error

	if opt.KeptDir != "" {
		tmp = opt.KeptDir
		meta, err = reads.ReadMetadata(tmp, prefix)
		if err != nil {
			return nil, err
		}
	} else {
		pw := reads.NewPartitionWriter(tmp, prefix, fileIndex%2, reads.DefaultReadsPerPartition)
		if _, err := reads.IngestUnfiltered(path, ingestOpt, pw); err != nil {
			return nil, err
		}
		meta, err = pw.Close()
		if err != nil {
			return nil, err
		}
		if err := reads.WriteMetadata(tmp, prefix, meta); err != nil {
			return nil, err
		}
	}

	out := make([]partitionData, 0, len(meta.Partitions))
	for i, p := range meta.Partitions {
		headers, seqs, err := reads.ReadPartitionRecords(filepath.Join(tmp, p.Basename))
		if err != nil {
			return nil, err
		}
		byteHeaders := make([][]byte, len(headers))
		for j, h := range headers {
			byteHeaders[j] = []byte(h)
		}
		out = append(out, partitionData{FileIndex: fileIndex, Partition: i, Headers: byteHeaders, Seqs: seqs})
	}
	return out, nil
}

// scannedPartition is one partition's scan.Result plus the original reads,
// kept together for the selection pass that follows growth.
type scannedPartition struct {
	partitionData
	Result *scan.Result
}

func scanAll(partitions []partitionData, scanner *scan.Scanner) []scannedPartition {
	out := make([]scannedPartition, len(partitions))
	for i, p := range partitions {
		out[i] = scannedPartition{partitionData: p, Result: scanner.Scan(p.Headers, p.Seqs)}
	}
	return out
}

// seqsOf extracts the trimmed Seq field from a list of scan.Hit.
func seqsOf(hits []scan.Hit) [][]byte {
	out := make([][]byte, len(hits))
	for i, h := range hits {
		out[i] = h.Seq
	}
	return out
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

// orientForward reverse-complements every FPc/RPc read so it reads forward
// in its own direction's sense, the same reorientation regionfilter applies
// when seeding a Builder.
func orientForward(asIs, needsRC [][]byte) [][]byte {
	out := make([][]byte, 0, len(asIs)+len(needsRC))
	out = append(out, asIs...)
	for _, seq := range needsRC {
		out = append(out, reverseComplementSeq(seq))
	}
	return out
}

func longestSeq(groups ...[][]byte) int {
	longest := 0
	for _, g := range groups {
		for _, seq := range g {
			if len(seq) > longest {
				longest = len(seq)
			}
		}
	}
	return longest
}

// fileBuild is one input file's growth state: its Builder plus everything
// the selector and extension stages need afterward.
type fileBuild struct {
	Scanned     []scannedPartition
	Builder     *regionfilter.Builder
	EndingCount int
	StartSeqs   [][]byte // oriented, primer-trimmed forward-primer reads
}

// growFile runs Initialize plus the iterate-to-convergence loop for one
// file's worth of scanned partitions.
func growFile(scanned []scannedPartition, k int, opt RunOptions) *fileBuild {
	var fpReads, fpcReads, rpReads, rpcReads [][]byte
	for _, p := range scanned {
		fpReads = append(fpReads, seqsOf(p.Result.FP)...)
		fpcReads = append(fpcReads, seqsOf(p.Result.FPc)...)
		rpReads = append(rpReads, seqsOf(p.Result.RP)...)
		rpcReads = append(rpcReads, seqsOf(p.Result.RPc)...)
	}

	readLen := longestSeq(fpReads, fpcReads, rpReads, rpcReads)
	b := regionfilter.NewBuilder(k, readLen, opt.Strict, opt.NoLCF)
	b.Initialize(fpReads, fpcReads, rpReads, rpcReads, opt.AmpliconLength, readLen)

	for _, p := range scanned {
		var pending []regionfilter.Read
		for i, seq := range p.Seqs {
			if p.Result.Index[i] != scan.NoMatch {
				continue // primer-bearing reads already seeded the filter
			}
			pending = append(pending, regionfilter.Read{RecordNo: i, Header: p.Headers[i], Seq: seq})
		}
		b.Feed(regionfilter.Fwd, pending)
		b.Feed(regionfilter.Rvs, pending)
	}

	endingTotal := 0
	for round := 0; round < b.Term.MaxIterations+2; round++ {
		fwdDone, rvsDone := true, true
		if b.HasPending(regionfilter.Fwd) {
			res := b.Iterate(regionfilter.Fwd)
			endingTotal += res.Ending
			fwdDone = res.Done
		}
		if b.HasPending(regionfilter.Rvs) {
			res := b.Iterate(regionfilter.Rvs)
			endingTotal += res.Ending
			rvsDone = res.Done
		}
		if fwdDone && rvsDone {
			break
		}
	}

	startSeqs := orientForward(fpReads, fpcReads)
	return &fileBuild{Scanned: scanned, Builder: b, EndingCount: endingTotal, StartSeqs: startSeqs}
}

// combinedFilter unions every file's both-direction region filter into one
// membership set for the selector pass.
func combinedFilter(builds []*fileBuild) map[uint64]struct{} {
	out := map[uint64]struct{}{}
	for _, fb := range builds {
		for d := 0; d < 2; d++ {
			for w := range fb.Builder.State.RegionFilter[regionfilter.Direction(d)] {
				out[w] = struct{}{}
			}
		}
	}
	return out
}

// runSelection runs the two-of-three-thirds final pass over every partition
// of every file, returning the accepted reads in selection order plus a
// per-file selector.Index for pair reconciliation.
func runSelection(builds []*fileBuild, k int, filter map[uint64]struct{}) (selected []selector.Selected, indices []*selector.Index) {
	indices = make([]*selector.Index, len(builds))
	next := 0
	for fi, fb := range builds {
		idx := selector.NewIndex()
		for _, p := range fb.Scanned {
			var batch []selector.Read
			for i, seq := range p.Seqs {
				batch = append(batch, selector.Read{
					FileIndex: fi, Partition: p.Partition, RecordNo: i,
					Header: p.Headers[i], Seq: seq,
				})
			}
			var accepted []selector.Selected
			accepted, next = selector.Select(batch, k, filter, next)
			for _, a := range accepted {
				idx.Record(a)
			}
			selected = append(selected, accepted...)
		}
		indices[fi] = idx
	}
	return selected, indices
}

// parallelExtend runs extend.Run over every starting read, spread across a
// worker pool of goroutines reading from a shared index channel.
func parallelExtend(startingReads [][]byte, tables extend.Tables, tp *primer.Variants, pairs *extend.PairScanner, opt extend.Options, cache *extend.Cache, nWorkers int) []extend.Branch {
	branches := make([]extend.Branch, len(startingReads))
	idx := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				branches[i] = extend.Run(startingReads[i], int64(i), tables, tp, pairs, opt, cache)
			}
		}()
	}
	for i := range startingReads {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return branches
}

// runPipeline executes the full Kelpie run: ingest, scan, grow, select,
// build extension tables, denoise, prepare starting reads, extend, and
// write every requested output file.
func runPipeline(opt RunOptions, k int) error {
	set, err := primer.NewSet(opt.Forward, opt.Reverse, opt.MismatchesF, opt.MismatchesR)
	if err != nil {
		return err
	}
	scanner := scan.NewScanner(set)

	ingestOpt := reads.Options{K: k, MinQual: opt.QualTrim, ReadsPerPartition: reads.DefaultReadsPerPartition, NoLowComplexity: opt.NoLCF}

	var builds []*fileBuild
	for fi, path := range opt.InFiles {
		partitions, err := loadPartitions(fi, path, opt.Filtered, opt, ingestOpt)
		if err != nil {
			return err
		}
		scanned := scanAll(partitions, scanner)
		builds = append(builds, growFile(scanned, k, opt))
		log.Infof("%s: %s reads ingested", path, humanize.Comma(int64(countReads(partitions))))
	}

	if opt.Paired {
		for i := 0; i+1 < len(builds); i += 2 {
			builds[i].Builder.SeedMatePartners(identityRecordMap(builds[i+1].Builder.EndingRecordNos()))
			builds[i+1].Builder.SeedMatePartners(identityRecordMap(builds[i].Builder.EndingRecordNos()))
			builds[i].Builder.Finalize(builds[i+1].Builder)
			builds[i+1].Builder.Finalize(builds[i].Builder)
		}
	} else {
		for _, fb := range builds {
			fb.Builder.Finalize(nil)
		}
	}

	totalEnding := 0
	for _, fb := range builds {
		totalEnding += fb.EndingCount
	}
	if totalEnding == 0 {
		log.Warningf("WARNING — no overlap found in primer-derived reads. Results may be unreliable")
	}

	filter := combinedFilter(builds)
	selected, indices := runSelection(builds, k, filter)
	if len(selected) == 0 {
		return fmt.Errorf("no starting primer reads found")
	}

	selectedSeqs := make([][]byte, len(selected))
	selectedHeaders := make([][]byte, len(selected))
	for i, s := range selected {
		selectedSeqs[i] = s.Seq
		selectedHeaders[i] = s.Header
	}

	var pairIdx selector.PairIndex
	if opt.Paired && len(indices) >= 2 {
		pairIdx = selector.BuildPairIndex(indices[0], indices[1], len(builds[0].Scanned), reads.DefaultReadsPerPartition)
	}

	kmerTable := exttable.BuildKmerTable(selectedSeqs, k)
	contextLengths := kmer.ContextLengths(longestSeq(selectedSeqs))
	contextTables := exttable.BuildContextTables(selectedSeqs, k, contextLengths)
	shortestContext := kmer.MinContextLength
	if len(contextLengths) > 0 {
		shortestContext = contextLengths[0]
	}

	denoise.Denoise(kmerTable, selectedSeqs, denoise.Options{
		K: k, ShortestContextLength: shortestContext, MinDepth: opt.MinDepth,
		ErrorRate: opt.ErrorRate,
	})

	var startingCandidates [][]byte
	for _, fb := range builds {
		startingCandidates = append(startingCandidates, fb.StartSeqs...)
	}

	srTables := startread.Tables{Kmer: kmerTable, Contexts: contextTables}
	srOpt := startread.Options{K: k, ShortestContextLength: shortestContext}

	var prepared [][]byte
	var trimmedPrefixes []startread.TrimmedPrefix
	startingSet := make(map[string]struct{}, len(startingCandidates))
	for _, seq := range startingCandidates {
		startingSet[string(seq)] = struct{}{}
		if clean, ok := startread.Prepare(seq, srTables, srOpt); ok {
			if len(clean) < shortestContext {
				clean = startread.Extend(clean, srTables, srOpt)
			}
			if len(clean) >= k {
				prepared = append(prepared, clean)
				if tp, ok := startread.RecordTrimmedPrefix(clean, srOpt); ok {
					trimmedPrefixes = append(trimmedPrefixes, tp)
				}
			}
		}
	}
	if len(prepared) == 0 {
		return fmt.Errorf("no starting primer reads found")
	}

	// Rescue pass: a selected read that never qualified as a starting read
	// on its own may still begin (or, reverse-complemented, end) exactly
	// where a starting read does; salvage those via the recorded prefixes.
	for _, seq := range selectedSeqs {
		if _, isStarting := startingSet[string(seq)]; isStarting {
			continue
		}
		rescued, ok := startread.Rescue(seq, trimmedPrefixes, srTables, srOpt)
		if !ok {
			continue
		}
		if len(rescued) < shortestContext {
			rescued = startread.Extend(rescued, srTables, srOpt)
		}
		if len(rescued) >= k {
			prepared = append(prepared, rescued)
		}
	}

	sort.Slice(prepared, func(i, j int) bool { return string(prepared[i]) < string(prepared[j]) })

	lengths := make([]int, 0, len(contextTables))
	for _, ct := range contextTables {
		lengths = append(lengths, ct.Length)
	}
	startingContexts := startread.PrefixHashes(prepared, lengths)

	var pairTargets [][]byte
	if opt.Paired && pairIdx != nil {
		pairTargets = pairedMateSeqs(selected, pairIdx, selectedSeqs)
	}
	pairScanner := extend.NewPairScanner(pairTargets)

	exTables := extend.Tables{Kmer: kmerTable, Contexts: contextTables, StartingContexts: startingContexts}
	exOpt := extend.Options{K: k, MaxExtendedLength: 10 * opt.AmpliconLength, MinExtendedLength: opt.MinExtendedLength, PairCheckSize: k}
	if exOpt.MaxExtendedLength <= 0 {
		exOpt.MaxExtendedLength = 2000
	}
	cache := extend.NewCache()
	tp := set.Rc

	branches := parallelExtend(prepared, exTables, tp, pairScanner, exOpt, cache, workers(opt.Threads))

	primerLen := len(opt.Forward)
	var amplicons []emittedAmplicon
	var discardSeqs [][]byte
	for _, br := range branches {
		seq, emit := extend.TrimAndEmit(br, primerLen, tp, opt.MinExtendedLength)
		if emit {
			tpTag := "noTPFound"
			if br.TPReached {
				tpTag = "found"
			}
			amplicons = append(amplicons, emittedAmplicon{Seq: seq, ForwardTag: set.ForwardPattern, TPTag: tpTag})
		} else {
			discardSeqs = append(discardSeqs, seq)
		}
	}

	if err := writeMainFASTA(opt.OutFile, amplicons); err != nil {
		return err
	}
	discardsPath := outPrefix(opt.OutFile) + "_discards.fa"
	if err := writeDiscardsFASTA(discardsPath, groupDiscards(discardSeqs)); err != nil {
		return err
	}
	if opt.SaveTag != "" {
		savePath := fmt.Sprintf("Kelpie_filtered_reads_%s.fa", opt.SaveTag)
		if err := writeFilteredReads(savePath, selectedHeaders, selectedSeqs); err != nil {
			return err
		}
	}
	if opt.EmitPrimers {
		rows := primerUsageRows(builds)
		if err := writePrimerUsageTable(outPrefix(opt.OutFile)+"_primers.txt", rows); err != nil {
			return err
		}
	}

	log.Infof("%s amplicons recovered, %s discarded extensions", humanize.Comma(int64(len(amplicons))), humanize.Comma(int64(len(discardSeqs))))
	return nil
}

// identityRecordMap turns a set of RecordNos into the RecordNo->RecordNo
// map regionfilter.Builder.SeedMatePartners expects: paired FASTQ files are
// read record-for-record, so a RecordNo found ending in one file names the
// very same RecordNo as its mate's partner.
func identityRecordMap(recordNos []int) map[int]int {
	out := make(map[int]int, len(recordNos))
	for _, n := range recordNos {
		out[n] = n
	}
	return out
}

func countReads(partitions []partitionData) int {
	n := 0
	for _, p := range partitions {
		n += len(p.Seqs)
	}
	return n
}

// pairedMateSeqs resolves every R1 selected read's linked R2 sequence via
// pairIdx, skipping reads whose mate was not itself selected or whose
// headers disagreed (selector.BuildPairIndex leaves those unlinked).
func pairedMateSeqs(selected []selector.Selected, pairIdx selector.PairIndex, selectedSeqs [][]byte) [][]byte {
	var out [][]byte
	for _, s := range selected {
		if s.FileIndex != 0 {
			continue
		}
		if mate, ok := pairIdx[s.GlobalIndex]; ok {
			out = append(out, selectedSeqs[mate])
		}
	}
	return out
}

func primerUsageRows(builds []*fileBuild) []primerUsage {
	counts := map[string]int{"FP": 0, "RP": 0, "FP'": 0, "RP'": 0}
	for _, fb := range builds {
		for _, p := range fb.Scanned {
			counts["FP"] += len(p.Result.FP)
			counts["RP"] += len(p.Result.RP)
			counts["FP'"] += len(p.Result.FPc)
			counts["RP'"] += len(p.Result.RPc)
		}
	}
	order := []string{"FP", "RP", "FP'", "RP'"}
	rows := make([]primerUsage, 0, len(order))
	for _, o := range order {
		rows = append(rows, primerUsage{Orientation: o, Hits: counts[o]})
	}
	return rows
}
