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

package cmd

import (
	"fmt"
	"sort"

	"github.com/shenwei356/stable"
	"github.com/shenwei356/xopen"
)

// emittedAmplicon is one reconstructed amplicon ready to be written to the
// main output file.
type emittedAmplicon struct {
	Seq        []byte
	ForwardTag string // "FP" header tag value, empty when not recorded
	TPTag      string // "TP" header tag value: "found" when the terminating primer was reached, else "noTPFound"
}

// discardedExtension is one abandoned or too-short extension, grouped by
// identical sequence so repeats collapse into a single ">Dn;size=k" record.
type discardedExtension struct {
	Seq  []byte
	Size int
}

// writeMainFASTA writes the main output file: one ">Rn[;FP=...;TP=...]"
// record per emitted amplicon, via xopen so a ".gz" suffix on outFile is
// honored transparently.
func writeMainFASTA(path string, amplicons []emittedAmplicon) error {
	w, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer w.Close()

	for i, a := range amplicons {
		header := fmt.Sprintf("R%d", i+1)
		if a.ForwardTag != "" {
			header += ";FP=" + a.ForwardTag
		}
		if a.TPTag != "" {
			header += ";TP=" + a.TPTag
		}
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", header, a.Seq); err != nil {
			return err
		}
	}
	return nil
}

// writeDiscardsFASTA writes the discards file: one ">Dn;size=k" record per
// distinct discarded sequence, k being the number of extensions that
// collapsed to it.
func writeDiscardsFASTA(path string, discards []discardedExtension) error {
	w, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer w.Close()

	for i, d := range discards {
		if _, err := fmt.Fprintf(w, ">D%d;size=%d\n%s\n", i+1, d.Size, d.Seq); err != nil {
			return err
		}
	}
	return nil
}

// groupDiscards collapses repeated discarded sequences, sorted by
// descending multiplicity then sequence, for deterministic output.
func groupDiscards(seqs [][]byte) []discardedExtension {
	counts := map[string]int{}
	for _, s := range seqs {
		counts[string(s)]++
	}
	out := make([]discardedExtension, 0, len(counts))
	for s, n := range counts {
		out = append(out, discardedExtension{Seq: []byte(s), Size: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return string(out[i].Seq) < string(out[j].Seq)
	})
	return out
}

// writeFilteredReads emits the reads selected as input to extension, via
// -save TAG: "Kelpie_filtered_reads_TAG.fa".
func writeFilteredReads(path string, headers [][]byte, seqs [][]byte) error {
	w, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer w.Close()
	for i, seq := range seqs {
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", headers[i], seq); err != nil {
			return err
		}
	}
	return nil
}

// primerUsage is one row of the -primers occurrence-count table.
type primerUsage struct {
	Orientation string
	Pattern     string
	Hits        int
}

// writePrimerUsageTable renders a per-orientation occurrence count table via
// shenwei356/stable, the same library's fixed-width table rendering used
// elsewhere in the pack for tabular summaries.
func writePrimerUsageTable(path string, rows []primerUsage) error {
	w, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer w.Close()

	tbl := stable.New()
	tbl.HeaderRow([]string{"orientation", "pattern", "hits"})
	for _, r := range rows {
		tbl.AddRow([]string{r.Orientation, r.Pattern, fmt.Sprintf("%d", r.Hits)})
	}
	return tbl.Render(w, stable.StyleGrid)
}
