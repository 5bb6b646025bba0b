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

// Package cmd wires Kelpie's command-line surface with cobra, in the same
// shape unikmer wires its verb commands: a package-level logger, a small
// checkError/getFlag* vocabulary, and one command whose flags carry the
// whole run's configuration.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	logging "github.com/shenwei356/go-logging"
	"github.com/spf13/cobra"
)

// VERSION is Kelpie's release version string.
const VERSION = "1.0.0"

var log = logging.MustGetLogger("kelpie")

// RootCmd is both the base command and the command that performs a
// targeted-amplicon extraction run: Kelpie has one job, so unlike unikmer's
// verb-per-subcommand layout its flags live directly on the root command.
var RootCmd = &cobra.Command{
	Use:   "kelpie -f forwardPrimer -r reversePrimer [options] inFile... outFile",
	Short: "Targeted PCR-like amplicon assembler",
	Long: fmt.Sprintf(`kelpie - targeted PCR-like amplicon assembler

Recovers the sequence between a forward and reverse primer pair directly
from raw or pre-filtered read sets, without a reference genome or full
assembly: primer-bearing reads seed an iteratively-grown region filter,
a final selection pass narrows the read pool, and a denoised k-mer/context
table drives recursive extension from every starting read out to the
opposite primer.

Version: %s

Documents: https://github.com/kelpie-bio/kelpie

`, VERSION),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runKelpie(cmd, args)
	},
}

// Execute runs RootCmd, printing any error it returns to stderr and exiting
// with status 1. Called once by main.main().
func Execute() {
	RootCmd.SilenceUsage = true
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultThreads := runtime.NumCPU()
	if defaultThreads > 2 {
		defaultThreads = 2
	}

	flags := RootCmd.Flags()

	flags.StringP("forward", "f", "", "forward primer, 5'->3', IUPAC codes allowed (required)")
	flags.StringP("reverse", "r", "", "reverse primer, 5'->3', IUPAC codes allowed (required)")
	flags.IntP("threads", "t", defaultThreads, "number of CPUs to use ('max' via -t 0 means all cores)")
	flags.Bool("filtered", false, "input files are already primer/region-filtered; skip the unfiltered ingestion pass")
	flags.Bool("unfiltered", true, "input files are raw/unfiltered reads (default)")
	flags.Bool("paired", false, "input files are paired (R1/R2, alternating on the command line)")
	flags.Bool("unpaired", true, "input files are unpaired (default)")
	flags.Bool("strict", false, "strict region-filter reconciliation: keep only k-mers seen in both paired files")
	flags.Bool("loose", true, "loose region-filter reconciliation (default)")
	flags.String("mm", "1", "primer mismatch budget: N (applies to both) or Nf+Nr (forward+reverse)")
	flags.Int("min", 0, "minimum extended length to emit a read that never reaches the terminating primer")
	flags.String("length", "", "expected amplicon length N or N-M, drives the region-filter iteration cap")
	flags.Int("mindepth", 0, "floor on k-mer retention after denoising")
	flags.Float64("errorrate", 0, "assumed per-base sequencing error rate driving denoise thresholds (default 0.01)")
	flags.Int("qualtrim", 30, "FASTQ 3' quality-trim threshold")
	flags.Bool("noLCF", false, "disable low-complexity read exclusion")
	flags.String("save", "", "TAG: also emit the selected reads as Kelpie_filtered_reads_TAG.fa")
	flags.Bool("primers", false, "emit a per-orientation primer occurrence count table to <prefix>_primers.txt")
	flags.String("tmp", os.TempDir(), "directory for unfiltered-mode partition temp files")
	flags.String("kept", "", "resume from a previous run's preserved partition temp files in this directory")
	flags.Bool("log", false, "also write a debug trace to KelpieLog.txt")
	flags.Bool("verbose", false, "print verbose progress information")
}
