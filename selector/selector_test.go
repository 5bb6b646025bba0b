package selector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpie-bio/kelpie/kmer"
)

func buildFilter(seq []byte, k int) map[uint64]struct{} {
	filter := map[uint64]struct{}{}
	for offset := 0; offset+k <= len(seq); offset++ {
		w, ok := kmer.Pack(seq, offset, k)
		if ok {
			filter[w] = struct{}{}
		}
	}
	return filter
}

func TestThirdsCoversWholeRange(t *testing.T) {
	r := thirds(30)
	require.Equal(t, 0, r[0][0])
	require.Equal(t, 30, r[2][1])
	for i := 0; i < 2; i++ {
		require.Equal(t, r[i][1], r[i+1][0])
	}
}

func TestAcceptWithAllThreeThirdsMatching(t *testing.T) {
	seq := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT")
	filter := buildFilter(seq, 10)
	require.True(t, Accept(seq, 10, filter))
}

func TestAcceptWithOnlyOneThirdMatching(t *testing.T) {
	seq := make([]byte, 33)
	for i := range seq {
		seq[i] = 'A'
	}
	matching := []byte("ACGTACGTAC")
	copy(seq[:10], matching)
	filter := buildFilter(matching, 10)
	require.False(t, Accept(seq, 10, filter))
}

func TestAcceptWithTwoOfThreeThirdsMatching(t *testing.T) {
	matching := []byte("ACGTACGTAC")
	seq := make([]byte, 33)
	for i := range seq {
		seq[i] = 'T'
	}
	copy(seq[0:10], matching)
	copy(seq[11:21], matching)
	filter := buildFilter(matching, 10)
	require.True(t, Accept(seq, 10, filter))
}

func TestAcceptRejectsShortRead(t *testing.T) {
	seq := []byte("ACGT")
	filter := map[uint64]struct{}{}
	require.False(t, Accept(seq, 10, filter))
}

func TestSelectAssignsSequentialGlobalIndices(t *testing.T) {
	seq := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT")
	filter := buildFilter(seq, 10)
	reads := []Read{
		{FileIndex: 0, Partition: 0, RecordNo: 0, Header: []byte("r0"), Seq: seq},
		{FileIndex: 0, Partition: 0, RecordNo: 1, Header: []byte("r1"), Seq: []byte("TTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTT")},
		{FileIndex: 0, Partition: 0, RecordNo: 2, Header: []byte("r2"), Seq: seq},
	}
	accepted, last := Select(reads, 10, filter, 5)
	require.Len(t, accepted, 2)
	require.Equal(t, 5, accepted[0].GlobalIndex)
	require.Equal(t, 6, accepted[1].GlobalIndex)
	require.Equal(t, 7, last)
}

func TestStripPrimerTagRemovesKnownSuffixes(t *testing.T) {
	require.Equal(t, []byte("read1"), stripPrimerTag([]byte("read1;FP")))
	require.Equal(t, []byte("read1"), stripPrimerTag([]byte("read1;RP'")))
	require.Equal(t, []byte("read1"), stripPrimerTag([]byte("read1")))
}

func TestIndexRecordAndLookup(t *testing.T) {
	idx := NewIndex()
	idx.Record(Selected{
		Read:        Read{FileIndex: 0, Partition: 2, RecordNo: 7, Header: []byte("readA;FP")},
		GlobalIndex: 42,
	})
	g, ok := idx.GlobalIndexFor(0, 2, 7)
	require.True(t, ok)
	require.Equal(t, 42, g)

	_, ok = idx.GlobalIndexFor(0, 2, 8)
	require.False(t, ok)
}

func TestBuildPairIndexLinksAgreeingHeaders(t *testing.T) {
	r1 := NewIndex()
	r2 := NewIndex()
	r1.Record(Selected{Read: Read{FileIndex: 0, Partition: 0, RecordNo: 0, Header: []byte("readA;FP")}, GlobalIndex: 10})
	r2.Record(Selected{Read: Read{FileIndex: 1, Partition: 0, RecordNo: 0, Header: []byte("readA;RP")}, GlobalIndex: 20})

	pairs := BuildPairIndex(r1, r2, 1, 1)
	require.Equal(t, 20, pairs[10])
	require.Equal(t, 10, pairs[20])
}

func TestBuildPairIndexSkipsDisagreeingHeaders(t *testing.T) {
	r1 := NewIndex()
	r2 := NewIndex()
	r1.Record(Selected{Read: Read{FileIndex: 0, Partition: 0, RecordNo: 0, Header: []byte("readA;FP")}, GlobalIndex: 10})
	r2.Record(Selected{Read: Read{FileIndex: 1, Partition: 0, RecordNo: 0, Header: []byte("readB;RP")}, GlobalIndex: 20})

	pairs := BuildPairIndex(r1, r2, 1, 1)
	require.Empty(t, pairs)
}
