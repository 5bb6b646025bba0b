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
	"os"
	"path/filepath"
	"sort"
	"strings"

	logging "github.com/shenwei356/go-logging"
	"github.com/spf13/cobra"

	"github.com/kelpie-bio/kelpie/primer"
)

// RunOptions collects every flag from the command-line surface.
type RunOptions struct {
	Forward, Reverse   string
	MismatchesF        int
	MismatchesR        int
	Threads            int
	Filtered           bool
	Paired             bool
	Strict             bool
	MinExtendedLength  int
	AmpliconLength     int
	MinDepth           int
	ErrorRate          float64
	QualTrim           int
	NoLCF              bool
	SaveTag            string
	EmitPrimers        bool
	TmpDir             string
	KeptDir            string
	DebugLog           bool
	Verbose            bool
	InFiles            []string
	OutFile            string
}

func gatherRunOptions(cmd *cobra.Command, args []string) (RunOptions, error) {
	if len(args) < 2 {
		return RunOptions{}, fmt.Errorf("expected one or more input file glob patterns followed by an output file, got %d argument(s)", len(args))
	}

	var inPatterns []string
	inPatterns = append(inPatterns, args[:len(args)-1]...)
	outFile := args[len(args)-1]

	var inFiles []string
	for _, pattern := range inPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return RunOptions{}, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return RunOptions{}, fmt.Errorf("no files matched pattern %q", pattern)
		}
		inFiles = append(inFiles, matches...)
	}
	sort.Strings(inFiles)
	checkFiles(inFiles...)

	forward := getFlagString(cmd, "forward")
	reverse := getFlagString(cmd, "reverse")
	if forward == "" || reverse == "" {
		return RunOptions{}, fmt.Errorf("both -f/--forward and -r/--reverse primers are required")
	}

	mmF, mmR, err := parseMismatchBudget(getFlagString(cmd, "mm"))
	if err != nil {
		return RunOptions{}, err
	}

	ampliconLength, err := parseAmpliconLength(getFlagString(cmd, "length"))
	if err != nil {
		return RunOptions{}, err
	}

	paired := getFlagBool(cmd, "paired")
	if paired && len(inFiles)%2 != 0 {
		return RunOptions{}, fmt.Errorf("-paired requires an even number of input files, got %d", len(inFiles))
	}

	tmpDir, err := expandDir(getFlagString(cmd, "tmp"))
	if err != nil {
		return RunOptions{}, err
	}
	var keptDir string
	if raw := getFlagString(cmd, "kept"); raw != "" {
		keptDir, err = expandDir(raw)
		if err != nil {
			return RunOptions{}, err
		}
	}

	return RunOptions{
		Forward:           forward,
		Reverse:           reverse,
		MismatchesF:       mmF,
		MismatchesR:       mmR,
		Threads:           resolveThreads(getFlagInt(cmd, "threads")),
		Filtered:          getFlagBool(cmd, "filtered"),
		Paired:            paired,
		Strict:            getFlagBool(cmd, "strict"),
		MinExtendedLength: getFlagNonNegativeInt(cmd, "min"),
		AmpliconLength:    ampliconLength,
		MinDepth:          getFlagNonNegativeInt(cmd, "mindepth"),
		ErrorRate:         getFlagNonNegativeFloat64(cmd, "errorrate"),
		QualTrim:          getFlagNonNegativeInt(cmd, "qualtrim"),
		NoLCF:             getFlagBool(cmd, "noLCF"),
		SaveTag:           getFlagString(cmd, "save"),
		EmitPrimers:       getFlagBool(cmd, "primers"),
		TmpDir:            tmpDir,
		KeptDir:           keptDir,
		DebugLog:          getFlagBool(cmd, "log"),
		Verbose:           getFlagBool(cmd, "verbose"),
		InFiles:           inFiles,
		OutFile:           outFile,
	}, nil
}

// validate enforces the argument-error checks: primer length and the
// hard floor on -min (kMerSize + both primer lengths).
func (o RunOptions) validate(k int) error {
	if len(o.Forward) > primer.MaxPrimerLen {
		return fmt.Errorf("forward primer longer than %d bases", primer.MaxPrimerLen)
	}
	if len(o.Reverse) > primer.MaxPrimerLen {
		return fmt.Errorf("reverse primer longer than %d bases", primer.MaxPrimerLen)
	}
	floor := k + len(o.Forward) + len(o.Reverse)
	if o.MinExtendedLength > 0 && o.MinExtendedLength < floor {
		return fmt.Errorf("-min %d is below the hard floor of %d (k-mer size + both primer lengths)", o.MinExtendedLength, floor)
	}
	return nil
}

// outPrefix derives the base name used to name sibling output files
// (discards, _primers.txt) from the main output file.
func outPrefix(outFile string) string {
	ext := filepath.Ext(outFile)
	return strings.TrimSuffix(outFile, ext)
}

func attachDebugLogBackend(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	fileBackend := logging.NewLogBackend(f, "", 0)
	fileFormatter := logging.NewBackendFormatter(fileBackend, logFormat)
	stderrBackend := logging.NewLogBackend(os.Stderr, "", 0)
	stderrFormatter := logging.NewBackendFormatter(stderrBackend, logFormat)
	logging.SetBackend(stderrFormatter, fileFormatter)
	return f, nil
}

var logFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{color}[%{level:.4s}]%{color:reset} %{message}`,
)

func runKelpie(cmd *cobra.Command, args []string) error {
	opts, err := gatherRunOptions(cmd, args)
	if err != nil {
		return err
	}

	const k = DefaultKmerSize
	if err := opts.validate(k); err != nil {
		return err
	}

	if opts.DebugLog {
		f, err := attachDebugLogBackend("KelpieLog.txt")
		if err != nil {
			return err
		}
		defer f.Close()
	}

	return runPipeline(opts, k)
}
