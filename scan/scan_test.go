package scan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpie-bio/kelpie/primer"
)

func mustSet(t *testing.T, f, r string, mmF, mmR int) *primer.Set {
	t.Helper()
	s, err := primer.NewSet(f, r, mmF, mmR)
	require.NoError(t, err)
	return s
}

func TestScanClassifiesForwardPrimer(t *testing.T) {
	set := mustSet(t, "ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 0, 0)
	sc := NewScanner(set)

	body := "AAAACCCCGGGGTTTTAAAACCCCGGGGTTTT"
	read := "ACGTACGTACGTACGTACGT" + body
	res := sc.Scan([][]byte{[]byte("r1")}, [][]byte{[]byte(read)})

	require.Len(t, res.FP, 1)
	require.Empty(t, res.RP)
	typ, pos := DecodeIndex(res.Index[0])
	require.Equal(t, FP, typ)
	require.Equal(t, 0, pos)
	// trim preserves the primer at the front
	require.Equal(t, read, string(res.FP[0].Seq))
}

func TestScanClassifiesReversePrimer(t *testing.T) {
	set := mustSet(t, "ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 0, 0)
	sc := NewScanner(set)

	prefix := "AAAACCCCGGGGTTTTAAAACCCCGGGGTTTT"
	read := prefix + "TTTTAAAACCCCGGGGAAAA"
	res := sc.Scan([][]byte{[]byte("r1")}, [][]byte{[]byte(read)})

	require.Len(t, res.RP, 1)
	typ, _ := DecodeIndex(res.Index[0])
	require.Equal(t, RP, typ)
	// trim drops everything 3' of the reverse primer's end, i.e. nothing
	// here since the primer ends the read.
	require.Equal(t, read, string(res.RP[0].Seq))
}

func TestScanNoMatch(t *testing.T) {
	set := mustSet(t, "ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 0, 0)
	sc := NewScanner(set)

	res := sc.Scan([][]byte{[]byte("r1")}, [][]byte{[]byte("GGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG")})
	require.Equal(t, NoMatch, res.Index[0])
}

func TestScanRejectsOverMismatchBudget(t *testing.T) {
	set := mustSet(t, "ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 0, 0)
	sc := NewScanner(set)

	// one mismatch in the primer itself, budget is 0.
	read := "ACGAACGTACGTACGTACGT" + "AAAACCCCGGGGTTTT"
	res := sc.Scan([][]byte{[]byte("r1")}, [][]byte{[]byte(read)})
	require.Equal(t, NoMatch, res.Index[0])
}

func TestScanAcceptsWithinMismatchBudget(t *testing.T) {
	set := mustSet(t, "ACGTACGTACGTACGTACGT", "TTTTAAAACCCCGGGGAAAA", 1, 1)
	sc := NewScanner(set)

	read := "ACGAACGTACGTACGTACGT" + "AAAACCCCGGGGTTTT"
	res := sc.Scan([][]byte{[]byte("r1")}, [][]byte{[]byte(read)})
	require.Len(t, res.FP, 1)
	require.Equal(t, 1, res.FP[0].Mismatches)
}

func TestScanHeadlessPrimerEqualToK(t *testing.T) {
	// primer length 15 == default core floor means head length 0
	set := mustSet(t, "ACGTACGTACGTACG", "TTTTAAAACCCCGGG", 0, 0)
	sc := NewScanner(set)
	require.Equal(t, 0, set.F.HeadLen)

	read := "ACGTACGTACGTACG" + "AAAACCCCGGGGTTTT"
	res := sc.Scan([][]byte{[]byte("r1")}, [][]byte{[]byte(read)})
	require.Len(t, res.FP, 1)
}

func TestEncodeDecodeIndexRoundTrip(t *testing.T) {
	for _, typ := range []Type{FP, RP, FPc, RPc} {
		for _, pos := range []int{0, 1, 1000} {
			v := EncodeIndex(typ, pos)
			gotTyp, gotPos := DecodeIndex(v)
			require.Equal(t, typ, gotTyp)
			require.Equal(t, pos, gotPos)
		}
	}
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "FP", FP.String())
	require.Equal(t, "RP", RP.String())
	require.Equal(t, "FP'", FPc.String())
	require.Equal(t, "RP'", RPc.String())
}
