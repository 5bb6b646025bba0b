package startread

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpie-bio/kelpie/exttable"
	"github.com/kelpie-bio/kelpie/kmer"
)

func buildTables(reads [][]byte, k int, contextLengths []int) Tables {
	kt := exttable.BuildKmerTable(reads, k)
	var cts []*exttable.ContextTable
	if len(contextLengths) > 0 {
		cts = exttable.BuildContextTables(reads, k, contextLengths)
	}
	return Tables{Kmer: kt, Contexts: cts}
}

func TestCleanLeavesHealthyReadUnchanged(t *testing.T) {
	seq := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT")
	reads := make([][]byte, 0, 20)
	for i := 0; i < 20; i++ {
		reads = append(reads, append([]byte(nil), seq...))
	}
	tables := buildTables(reads, 10, nil)
	working := append([]byte(nil), seq...)
	ok, changes := Clean(working, tables, Options{K: 10})
	require.True(t, ok)
	require.Equal(t, 0, changes)
	require.Equal(t, string(seq), string(working))
}

func TestCleanStopsWithinOneChangeOfBudget(t *testing.T) {
	// Clean measures weakness against the read's own average depth, so the
	// all-T outlier (every k-mer at that average) has no weak k-mer despite
	// the deep consensus pool. The assertion checks the change cap: Clean
	// returns as soon as changes exceed MaxCleanChanges.
	consensus := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT")
	reads := make([][]byte, 0, 30)
	for i := 0; i < 30; i++ {
		reads = append(reads, append([]byte(nil), consensus...))
	}
	outlier := []byte("TTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTT")
	reads = append(reads, outlier)

	tables := buildTables(reads, 10, nil)
	working := append([]byte(nil), outlier...)
	_, changes := Clean(working, tables, Options{K: 10})
	require.LessOrEqual(t, changes, MaxCleanChanges+1)
}

func TestApplySubstitutionKeepsCountsConsistent(t *testing.T) {
	seq := []byte("ACGTACGTAC")
	reads := [][]byte{append([]byte(nil), seq...)}
	tables := buildTables(reads, 10, nil)

	working := append([]byte(nil), seq...)
	applySubstitution(working, 9, 'T', tables, 10)
	require.Equal(t, byte('T'), working[9])

	w, ok := kmer.Pack(working, 0, 10)
	require.True(t, ok)
	require.Equal(t, 1, tables.Kmer.Counts[kmer.Canonical(w, 10)])
}

func TestPrepareAcceptsReverseComplementedRead(t *testing.T) {
	good := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT")
	reads := make([][]byte, 0, 20)
	for i := 0; i < 20; i++ {
		reads = append(reads, append([]byte(nil), good...))
	}
	tables := buildTables(reads, 10, nil)

	rc := reverseComplementSeq(good)
	prepared, ok := Prepare(rc, tables, Options{K: 10})
	require.True(t, ok)
	require.NotNil(t, prepared)
}

func TestExtendStopsAtShortestContextLength(t *testing.T) {
	seq := make([]byte, 45)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
	}
	reads := [][]byte{append([]byte(nil), seq...)}
	tables := buildTables(reads, 10, nil)

	start := append([]byte(nil), seq[:20]...)
	extended := Extend(start, tables, Options{K: 10, ShortestContextLength: 40})
	require.Equal(t, 40, len(extended))
}

func TestPrefixHashesBuildsPerLengthSets(t *testing.T) {
	reads := [][]byte{
		[]byte("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT"),
		[]byte("TTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTT"),
	}
	hashes := PrefixHashes(reads, []int{10, 20})
	require.Len(t, hashes[10], 2)
	require.Len(t, hashes[20], 2)
}

func TestRecordTrimmedPrefixRejectsShortRead(t *testing.T) {
	_, ok := RecordTrimmedPrefix([]byte("ACGT"), Options{ShortestContextLength: 40})
	require.False(t, ok)
}

func TestRescueMatchesLeadingPrefix(t *testing.T) {
	starting := make([]byte, 45)
	for i := range starting {
		starting[i] = "ACGT"[i%4]
	}
	prefix, ok := RecordTrimmedPrefix(starting, Options{ShortestContextLength: 40})
	require.True(t, ok)

	reads := [][]byte{append([]byte(nil), starting...)}
	tables := buildTables(reads, 10, nil)

	candidate := append([]byte(nil), starting...)
	prepared, rescued := Rescue(candidate, []TrimmedPrefix{prefix}, tables, Options{K: 10, ShortestContextLength: 40})
	require.True(t, rescued)
	require.NotNil(t, prepared)
}

func TestRescueRejectsUnrelatedRead(t *testing.T) {
	starting := make([]byte, 45)
	for i := range starting {
		starting[i] = "ACGT"[i%4]
	}
	prefix, _ := RecordTrimmedPrefix(starting, Options{ShortestContextLength: 40})

	unrelated := make([]byte, 45)
	for i := range unrelated {
		unrelated[i] = "TGCA"[i%4]
	}
	tables := buildTables([][]byte{starting}, 10, nil)
	_, rescued := Rescue(unrelated, []TrimmedPrefix{prefix}, tables, Options{K: 10, ShortestContextLength: 40})
	require.False(t, rescued)
}
