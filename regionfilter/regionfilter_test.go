package regionfilter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpie-bio/kelpie/kmer"
)

func TestNewStateAllocatesBothDirections(t *testing.T) {
	s := NewState(20, kmer.ContextLengths(48))
	require.NotNil(t, s.RegionFilter[Fwd])
	require.NotNil(t, s.RegionFilter[Rvs])
	require.Len(t, s.ContextExists[Fwd], 3) // 40,44,48
}

func TestTileReadPopulatesRegionFilter(t *testing.T) {
	s := NewState(10, nil)
	seq := []byte("ACGTACGTACGTACGTACGT")
	s.TileRead(Fwd, seq)
	require.Greater(t, s.Size(Fwd), 0)
	require.Equal(t, 0, s.Size(Rvs))
}

func TestTileReadRecordsContext(t *testing.T) {
	s := NewState(10, kmer.ContextLengths(40))
	seq := make([]byte, 60)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
	}
	s.TileRead(Fwd, seq)
	total := 0
	for _, m := range s.ContextExists[Fwd] {
		total += len(m)
	}
	require.Greater(t, total, 0)
}

func TestHasRegionKmerAndVerifyByContext(t *testing.T) {
	s := NewState(10, kmer.ContextLengths(40))
	seq := make([]byte, 60)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
	}
	s.TileRead(Fwd, seq)
	w, ok := kmer.Pack(seq, 0, 10)
	require.True(t, ok)
	require.True(t, s.HasRegionKmer(Fwd, w))
	require.True(t, s.VerifyByContext(Fwd, seq, 0, w))
}

func TestBuildEndingFilterAndIsEnding(t *testing.T) {
	s := NewState(8, nil)
	seq := make([]byte, 60)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
	}
	s.BuildEndingFilter(Fwd, [][]byte{seq})
	require.True(t, s.IsEnding(Fwd, seq))

	other := make([]byte, 60)
	for i := range other {
		other[i] = "ACGT"[(i+1)%4]
	}
	// different phase: not guaranteed to be ending, but should not panic
	_ = s.IsEnding(Fwd, other)
}

func TestEnsureRCClosure(t *testing.T) {
	s := NewState(10, nil)
	seq := []byte("ACGTACGTAC")
	w, ok := kmer.Pack(seq, 0, 10)
	require.True(t, ok)
	s.RegionFilter[Fwd][w] = struct{}{}
	s.EnsureRCClosure()
	rc := kmer.RevComp(w, 10)
	_, present := s.RegionFilter[Fwd][rc]
	require.True(t, present)
}

func TestIntersectWithKeepsSharedKmers(t *testing.T) {
	a := NewState(10, nil)
	b := NewState(10, nil)
	seq1 := []byte("ACGTACGTAC")
	seq2 := []byte("TTTTTTTTTT")
	a.TileRead(Fwd, seq1)
	a.TileRead(Fwd, seq2)
	b.TileRead(Fwd, seq1)

	a.IntersectWith(b)
	w1, _ := kmer.Pack(seq1, 0, 10)
	w2, _ := kmer.Pack(seq2, 0, 10)
	_, has1 := a.RegionFilter[Fwd][w1]
	_, has2 := a.RegionFilter[Fwd][w2]
	require.True(t, has1)
	require.False(t, has2)
}

func TestTrimAdaptersNoOpWhenBalanced(t *testing.T) {
	seq := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT")
	reads := [][]byte{seq, reverseComplementSeq(append([]byte(nil), seq...))}
	trimmed := TrimAdapters(reads, 10)
	require.Len(t, trimmed, 2)
	require.Equal(t, seq, trimmed[0])
}

func TestTrimAdaptersCutsUnbalancedTail(t *testing.T) {
	core := []byte("ACGTTGCAACGTTGCAACGT")
	adapter := []byte("GGGGGGGGGG")
	read1 := append(append([]byte(nil), core...), adapter...)
	read2 := reverseComplementSeq(append([]byte(nil), core...))

	trimmed := TrimAdapters([][]byte{read1, read2}, 10)
	require.Len(t, trimmed, 2)
	require.Less(t, len(trimmed[0]), len(read1))
	require.Equal(t, read1[:len(trimmed[0])], trimmed[0])
}

func TestRunIterationMatchesSeededReads(t *testing.T) {
	s := NewState(10, kmer.ContextLengths(40))
	seed := make([]byte, 60)
	for i := range seed {
		seed[i] = "ACGT"[i%4]
	}
	s.TileRead(Fwd, seed)

	reads := []Read{{RecordNo: 0, Header: []byte("r0"), Seq: seed}}
	outcomes, adding, _ := RunIteration(s, Fwd, reads, false)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Retained)
	// seed's kmers are already all present, so no new kmer is added.
	require.Equal(t, 0, adding)
}

func TestRunIterationDropsNonMatching(t *testing.T) {
	s := NewState(10, nil)
	seed := []byte("ACGTACGTACGTACGTACGT")
	s.TileRead(Fwd, seed)

	unrelated := []byte("GGGGGGGGGGGGGGGGGGGG")
	reads := []Read{{RecordNo: 1, Header: []byte("r1"), Seq: unrelated}}
	outcomes, _, _ := RunIteration(s, Fwd, reads, true)
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Retained)
}

func TestTerminationLowAddingFiresAfterTwoRounds(t *testing.T) {
	term := NewTerminationState(100, 100, 50)
	reason, _ := term.Step(0, 10, 0)
	require.Equal(t, NotDone, reason)
	reason, _ = term.Step(0, 10, 0)
	require.Equal(t, LowAdding, reason)
}

func TestTerminationRunawayGrowth(t *testing.T) {
	term := NewTerminationState(10, 10, 50)
	reason, _ := term.Step(5, 25, 0) // > 2*10
	require.Equal(t, RunawayGrowth, reason)
}

func TestTerminationMaxIterations(t *testing.T) {
	term := NewTerminationState(1000, 1000, 2)
	reason, _ := term.Step(50, 50, 0)
	require.Equal(t, NotDone, reason)
	reason, _ = term.Step(50, 50, 0)
	require.Equal(t, MaxIterationsReached, reason)
}

func TestTerminationRevisesReadsExpectedUpward(t *testing.T) {
	term := NewTerminationState(10, 10, 1000)
	_, revised := term.Step(5, 60, 0) // > 5*10
	require.True(t, revised)
	require.Equal(t, 60, term.ReadsExpected)
}

func TestMaxIterationsForAmpliconLength(t *testing.T) {
	require.GreaterOrEqual(t, MaxIterationsForAmpliconLength(253, 150), 20)
	require.Equal(t, 20, MaxIterationsForAmpliconLength(10, 150))
}

func TestBuilderInitializeSeedsBothDirections(t *testing.T) {
	b := NewBuilder(10, 40, false, false)
	fp := make([]byte, 60)
	for i := range fp {
		fp[i] = "ACGT"[i%4]
	}
	rp := make([]byte, 60)
	for i := range rp {
		rp[i] = "ACGT"[(i+2)%4]
	}
	b.Initialize([][]byte{fp}, nil, [][]byte{rp}, nil, 250, 150)
	require.Greater(t, b.State.Size(Fwd), 0)
	require.Greater(t, b.State.Size(Rvs), 0)
	require.NotNil(t, b.Term)
}

func TestBuilderIterateConsumesPending(t *testing.T) {
	b := NewBuilder(10, 40, false, true)
	seed := make([]byte, 60)
	for i := range seed {
		seed[i] = "ACGT"[i%4]
	}
	b.Initialize([][]byte{seed}, nil, nil, nil, 250, 150)
	b.Feed(Fwd, []Read{{RecordNo: 0, Header: []byte("r0"), Seq: seed}})
	res := b.Iterate(Fwd)
	require.Equal(t, 1, res.Matched)
	require.Empty(t, b.pending[Fwd])
}

func TestBuilderIterateRecordsEndingReadNos(t *testing.T) {
	b := NewBuilder(10, 40, false, true)
	seed := make([]byte, 60)
	for i := range seed {
		seed[i] = "ACGT"[i%4]
	}
	b.Initialize([][]byte{seed}, nil, nil, nil, 250, 150)
	for offset := 0; ; offset++ {
		h, ok := kmer.EndingPair(seed, offset, 10)
		if !ok {
			break
		}
		b.State.EndingFilter[Fwd][h] = struct{}{}
	}

	b.Feed(Fwd, []Read{{RecordNo: 5, Header: []byte("r5"), Seq: seed}})
	b.Iterate(Fwd)
	require.Equal(t, []int{5}, b.EndingRecordNos())
}

func TestBuilderFinalizeStrictIntersects(t *testing.T) {
	a := NewBuilder(10, 0, true, true)
	m := NewBuilder(10, 0, true, true)
	seq1 := []byte("ACGTACGTAC")
	seq2 := []byte("TTTTTTTTTT")
	a.State.TileRead(Fwd, seq1)
	a.State.TileRead(Fwd, seq2)
	m.State.TileRead(Fwd, seq1)

	a.Finalize(m)
	w2, _ := kmer.Pack(seq2, 0, 10)
	_, has2 := a.State.RegionFilter[Fwd][w2]
	require.False(t, has2)
}

func TestSeedMatePartners(t *testing.T) {
	b := NewBuilder(10, 0, false, false)
	b.SeedMatePartners(map[int]int{3: 7, 4: 8})
	require.Equal(t, 7, b.MatePartners[3])
	require.Equal(t, 8, b.MatePartners[4])
}
