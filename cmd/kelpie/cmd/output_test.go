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
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupDiscardsCollapsesDuplicatesAndSortsByMultiplicity(t *testing.T) {
	seqs := [][]byte{
		[]byte("AAAA"),
		[]byte("CCCC"),
		[]byte("AAAA"),
		[]byte("GGGG"),
		[]byte("AAAA"),
	}
	grouped := groupDiscards(seqs)
	require.Len(t, grouped, 3)
	require.Equal(t, "AAAA", string(grouped[0].Seq))
	require.Equal(t, 3, grouped[0].Size)
	// CCCC and GGGG tie at size 1; sorted ascending by sequence.
	require.Equal(t, "CCCC", string(grouped[1].Seq))
	require.Equal(t, "GGGG", string(grouped[2].Seq))
}

func TestGroupDiscardsEmptyInput(t *testing.T) {
	require.Empty(t, groupDiscards(nil))
}

func TestWriteMainFASTAHeaderFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.fa")
	amplicons := []emittedAmplicon{
		{Seq: []byte("ACGT"), ForwardTag: "CCTACGGGNGGCWGCAG", TPTag: "found"},
		{Seq: []byte("TTTT"), ForwardTag: "", TPTag: "noTPFound"},
	}
	require.NoError(t, writeMainFASTA(path, amplicons))

	lines := readLines(t, path)
	require.Equal(t, []string{
		">R1;FP=CCTACGGGNGGCWGCAG;TP=found",
		"ACGT",
		">R2;TP=noTPFound",
		"TTTT",
	}, lines)
}

func TestWriteDiscardsFASTAHeaderFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discards.fa")
	discards := []discardedExtension{
		{Seq: []byte("AAAA"), Size: 3},
		{Seq: []byte("CCCC"), Size: 1},
	}
	require.NoError(t, writeDiscardsFASTA(path, discards))

	lines := readLines(t, path)
	require.Equal(t, []string{
		">D1;size=3",
		"AAAA",
		">D2;size=1",
		"CCCC",
	}, lines)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}
