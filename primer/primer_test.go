package primer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitHeadCore(t *testing.T) {
	head, core := Split("ACGTACGTACGTACGTACGT") // 20bp
	require.Equal(t, 5, len(head))
	require.Equal(t, 15, len(core))
	require.Equal(t, "ACGTACGTACGTACGTACGT", head+core)
}

func TestSplitShortPrimerAllCore(t *testing.T) {
	head, core := Split("ACGTACGTACGTACG") // 15bp, == the 15-base core floor
	require.Equal(t, "", head)
	require.Equal(t, "ACGTACGTACGTACG", core)
}

func TestIsDegenerate(t *testing.T) {
	require.False(t, IsDegenerate("ACGTACGTACGTACGTACGT"))
	require.False(t, IsDegenerate("ACGTRCGTACGTACGTACGT")) // 1/20 = 5%, below threshold
}

func TestIsDegenerateThreshold(t *testing.T) {
	// 20% degenerate: 4 non-ACGT out of 20
	require.True(t, IsDegenerate("RRRRACGTACGTACGTACGT"))
	require.False(t, IsDegenerate("RACGTACGTACGTACGTACG")) // 1/20 = 5%
}

func TestReverseComplementIUPAC(t *testing.T) {
	rc, err := ReverseComplementIUPAC("ACGT")
	require.NoError(t, err)
	require.Equal(t, "ACGT", rc)

	rc2, err := ReverseComplementIUPAC("GGYY")
	require.NoError(t, err)
	require.Equal(t, "RRCC", rc2)
}

func TestExpandIUPACProductEnumeration(t *testing.T) {
	vs, err := expandIUPAC("AR")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"AA", "AG"}, vs)
}

func TestCountMismatches(t *testing.T) {
	require.Equal(t, 0, CountMismatches("ACGT", "ACGT"))
	require.Equal(t, 1, CountMismatches("ACGA", "ACGT"))
	require.Equal(t, 0, CountMismatches("ACGC", "ACGY")) // Y matches C or T
}

func TestNewSetTooLong(t *testing.T) {
	long := make([]byte, 33)
	for i := range long {
		long[i] = 'A'
	}
	_, err := NewSet(string(long), "ACGT", 0, 0)
	require.Error(t, err)
}

func TestNewSetFourOrientations(t *testing.T) {
	s, err := NewSet("ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, s.F.Core)
	require.NotEmpty(t, s.R.Core)
	require.NotEmpty(t, s.Fc.Core)
	require.NotEmpty(t, s.Rc.Core)
	// F' and R' must be the revcomps of F and R
	require.Equal(t, "ACGTACGTACGTACGTACGT", s.Fc.Pattern)
	require.Equal(t, "TTTTCCCCGGGGTTTTAAAA", s.Rc.Pattern)
}

func TestMismatchBudgetExpandsVariants(t *testing.T) {
	noMM, err := NewSet("ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 0, 0)
	require.NoError(t, err)
	withMM, err := NewSet("ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 2, 2)
	require.NoError(t, err)
	require.Greater(t, len(withMM.F.Core)+len(withMM.F.Head), len(noMM.F.Core)+len(noMM.F.Head))
}

func TestDegeneratePrimerLatchExcludesFinalCoreBases(t *testing.T) {
	// degenerate forward primer (4/20 = 20% IUPAC codes, all in the head),
	// well clear of the locked core tail.
	// A budget of 1 lets substitution reach every unlocked position.
	s, err := NewSet("RRRRACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 1, 0)
	require.NoError(t, err)
	require.True(t, s.F.Degenerate)
	_, corePat := Split("RRRRACGTACGTACGTACGT")
	tail := corePat[len(corePat)-DegenerateHCL:]
	for core := range s.F.Core {
		require.Equal(t, tail, core[len(core)-DegenerateHCL:])
	}
}

func TestAllCoresUnion(t *testing.T) {
	s, err := NewSet("ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 0, 0)
	require.NoError(t, err)
	cores := s.AllCores()
	require.NotEmpty(t, cores)
}
