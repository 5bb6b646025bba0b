package kmer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackExpandRoundTrip(t *testing.T) {
	seqs := []string{"A", "ACGT", "ACGTACGTACGTACGTACGTACGTACGTACGT", "TTTTGGGGCCCCAAAA"}
	for _, s := range seqs {
		w, ok := Pack([]byte(s), 0, len(s))
		require.True(t, ok)
		require.Equal(t, s, Expand(w, len(s)))
	}
}

func TestPackRejectsNonACGT(t *testing.T) {
	_, ok := Pack([]byte("ACGN"), 0, 4)
	require.False(t, ok)
}

func TestPackRejectsOversizeK(t *testing.T) {
	seq := make([]byte, 40)
	for i := range seq {
		seq[i] = 'A'
	}
	_, ok := Pack(seq, 0, 33)
	require.False(t, ok)
}

func TestRevCompInvolution(t *testing.T) {
	for _, s := range []string{"ACGTACGT", "AAAACCCCGGGGTTTT", "ACGTACGTACGTACGTACGTACGTACGTACGT"} {
		k := len(s)
		w, ok := Pack([]byte(s), 0, k)
		require.True(t, ok)
		rc := RevComp(w, k)
		require.Equal(t, w, RevComp(rc, k))
	}
}

func TestRevCompKnownValue(t *testing.T) {
	w, ok := Pack([]byte("ACGT"), 0, 4)
	require.True(t, ok)
	rc := RevComp(w, 4)
	require.Equal(t, "ACGT", Expand(rc, 4)) // ACGT is its own revcomp
}

func TestRevCompAsymmetric(t *testing.T) {
	w, _ := Pack([]byte("AAAACCCC"), 0, 8)
	rc := RevComp(w, 8)
	require.Equal(t, "GGGGTTTT", Expand(rc, 8))
}

func TestCanonicalAgreesWithRevComp(t *testing.T) {
	for _, s := range []string{"ACGTACGT", "TTTTAAAA", "GATTACAA", "CCCCGGGG"} {
		k := len(s)
		w, _ := Pack([]byte(s), 0, k)
		rc := RevComp(w, k)
		c1 := Canonical(w, k)
		c2 := Canonical(rc, k)
		require.Equal(t, c1, c2)
		require.LessOrEqual(t, c1, RevComp(c1, k))
	}
}

func TestMaxKDoesNotOverflow(t *testing.T) {
	s := "ACGTACGTACGTACGTACGTACGTACGTACGT" // 32 bases
	require.Len(t, s, MaxK)
	w, ok := Pack([]byte(s), 0, MaxK)
	require.True(t, ok)
	require.Equal(t, s, Expand(w, MaxK))
	rc := RevComp(w, MaxK)
	require.Equal(t, w, RevComp(rc, MaxK))
}

func TestIncrementalMatchesPack(t *testing.T) {
	seq := []byte("ACGTACGTTTGGCATG")
	k := 6
	prev, ok := Pack(seq, 0, k)
	require.True(t, ok)
	for i := 1; i+k <= len(seq); i++ {
		want, ok := Pack(seq, i, k)
		require.True(t, ok)
		got, ok := Incremental(prev, seq[i+k-1], k)
		require.True(t, ok)
		require.Equal(t, want, got, "position %d", i)
		prev = got
	}
}

func TestAllSingleSubsCount(t *testing.T) {
	w, _ := Pack([]byte("ACGTAC"), 0, 6)
	subs := AllSingleSubs(w, 6)
	require.Len(t, subs, 4*6)
	// the original k-mer must recur among the substitutions (each position's
	// "no-op" substitution reproduces it)
	found := false
	for _, v := range subs {
		if v == w {
			found = true
			break
		}
	}
	require.True(t, found)
}

func TestAllDoubleSubsCount(t *testing.T) {
	w, _ := Pack([]byte("ACGT"), 0, 4)
	subs := AllDoubleSubs(w, 4)
	require.Len(t, subs, 4*4*4*4)
}

func TestNextVariants(t *testing.T) {
	w, _ := Pack([]byte("ACGT"), 0, 4)
	variants := NextVariants(w, 4)
	seen := map[string]bool{}
	for _, v := range variants {
		seen[Expand(v, 4)] = true
	}
	require.Equal(t, map[string]bool{"ACGA": true, "ACGC": true, "ACGG": true, "ACGT": true}, seen)
}

func TestLowComplexity(t *testing.T) {
	w, _ := Pack([]byte("AAAAAAAAGT"), 0, 10)
	require.True(t, LowComplexity(w, 10))

	w2, _ := Pack([]byte("ACGTACGTAC"), 0, 10)
	require.False(t, LowComplexity(w2, 10))

	w3, _ := Pack([]byte("ATATATATAT"), 0, 10)
	require.True(t, LowComplexity(w3, 10))
}
