package kmer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextLengths(t *testing.T) {
	lens := ContextLengths(52)
	require.Equal(t, []int{40, 44, 48, 52}, lens)

	require.Nil(t, ContextLengths(30))
}

func TestContextDeterministic(t *testing.T) {
	seq := []byte("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT")
	h1, ok := Context(seq, 0, 20, 40)
	require.True(t, ok)
	h2, ok := Context(seq, 0, 20, 40)
	require.True(t, ok)
	require.Equal(t, h1, h2)
}

func TestContextTooShortWindow(t *testing.T) {
	seq := []byte("ACGTACGT")
	_, ok := Context(seq, 0, 20, 40)
	require.False(t, ok)
}

func TestLongestInReadContextPicksLongest(t *testing.T) {
	seq := make([]byte, 48)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
	}
	lens := ContextLengths(48)
	L, _, ok := LongestInReadContext(seq, 0, 20, lens)
	require.True(t, ok)
	require.Equal(t, 48, L)
}

func TestEndingPair(t *testing.T) {
	seq := []byte("ACGTACGTACGTACGTACGTACGTACGT")
	h, ok := EndingPair(seq, 0, 8)
	require.True(t, ok)
	h2, ok := EndingPair(seq, 0, 8)
	require.True(t, ok)
	require.Equal(t, h, h2)

	_, ok = EndingPair(seq, len(seq)-8, 8) // not enough room for +16 stride
	require.False(t, ok)
}
