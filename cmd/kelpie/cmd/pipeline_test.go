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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpie-bio/kelpie/regionfilter"
	"github.com/kelpie-bio/kelpie/scan"
	"github.com/kelpie-bio/kelpie/selector"
)

func TestReverseComplementSeq(t *testing.T) {
	require.Equal(t, "TGCA", string(reverseComplementSeq([]byte("TGCA"))))
	require.Equal(t, "ACGT", string(reverseComplementSeq([]byte("ACGT"))))
}

func TestOrientForwardReverseComplementsOnlySecondGroup(t *testing.T) {
	asIs := [][]byte{[]byte("AAAA")}
	needsRC := [][]byte{[]byte("TTTT")}
	out := orientForward(asIs, needsRC)
	require.Len(t, out, 2)
	require.Equal(t, "AAAA", string(out[0]))
	require.Equal(t, "AAAA", string(out[1]))
}

func TestLongestSeqAcrossGroups(t *testing.T) {
	a := [][]byte{[]byte("AA"), []byte("AAAAA")}
	b := [][]byte{[]byte("AAA")}
	require.Equal(t, 5, longestSeq(a, b))
}

func TestLongestSeqEmpty(t *testing.T) {
	require.Equal(t, 0, longestSeq())
}

func TestCombinedFilterUnionsBothDirectionsAcrossFiles(t *testing.T) {
	b1 := regionfilter.NewBuilder(4, 40, false, false)
	b1.State.RegionFilter[regionfilter.Fwd][1] = struct{}{}
	b2 := regionfilter.NewBuilder(4, 40, false, false)
	b2.State.RegionFilter[regionfilter.Rvs][2] = struct{}{}

	filter := combinedFilter([]*fileBuild{{Builder: b1}, {Builder: b2}})
	require.Len(t, filter, 2)
	_, ok1 := filter[uint64(1)]
	_, ok2 := filter[uint64(2)]
	require.True(t, ok1)
	require.True(t, ok2)
}

func TestPairedMateSeqsResolvesOnlySelectedMates(t *testing.T) {
	selected := []selector.Selected{
		{Read: selector.Read{FileIndex: 0, Seq: []byte("AAAA")}, GlobalIndex: 0},
		{Read: selector.Read{FileIndex: 0, Seq: []byte("CCCC")}, GlobalIndex: 1},
		{Read: selector.Read{FileIndex: 1, Seq: []byte("GGGG")}, GlobalIndex: 2},
	}
	pairIdx := selector.PairIndex{0: 2, 2: 0} // only global index 0 has a selected mate
	selectedSeqs := [][]byte{[]byte("AAAA"), []byte("CCCC"), []byte("GGGG")}

	out := pairedMateSeqs(selected, pairIdx, selectedSeqs)
	require.Equal(t, [][]byte{[]byte("GGGG")}, out)
}

func TestIdentityRecordMap(t *testing.T) {
	require.Equal(t, map[int]int{3: 3, 7: 7}, identityRecordMap([]int{3, 7}))
	require.Empty(t, identityRecordMap(nil))
}

func TestPrimerUsageRowsCountsAcrossPartitions(t *testing.T) {
	builds := []*fileBuild{
		{Scanned: []scannedPartition{
			{Result: &scan.Result{FP: make([]scan.Hit, 2), RP: make([]scan.Hit, 1)}},
			{Result: &scan.Result{FPc: make([]scan.Hit, 3)}},
		}},
	}
	rows := primerUsageRows(builds)
	byOrientation := map[string]int{}
	for _, r := range rows {
		byOrientation[r.Orientation] = r.Hits
	}
	require.Equal(t, 2, byOrientation["FP"])
	require.Equal(t, 1, byOrientation["RP"])
	require.Equal(t, 3, byOrientation["FP'"])
	require.Equal(t, 0, byOrientation["RP'"])
}
