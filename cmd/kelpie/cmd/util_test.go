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
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestParseMismatchBudgetDefaultsToOneAndOne(t *testing.T) {
	f, r, err := parseMismatchBudget("")
	require.NoError(t, err)
	require.Equal(t, 1, f)
	require.Equal(t, 1, r)
}

func TestParseMismatchBudgetSharedValue(t *testing.T) {
	f, r, err := parseMismatchBudget("3")
	require.NoError(t, err)
	require.Equal(t, 3, f)
	require.Equal(t, 3, r)
}

func TestParseMismatchBudgetSplitValue(t *testing.T) {
	f, r, err := parseMismatchBudget("2f+4r")
	require.NoError(t, err)
	require.Equal(t, 2, f)
	require.Equal(t, 4, r)
}

func TestParseMismatchBudgetRejectsGarbage(t *testing.T) {
	_, _, err := parseMismatchBudget("nope")
	require.Error(t, err)
}

func TestParseAmpliconLengthPlainValue(t *testing.T) {
	n, err := parseAmpliconLength("450")
	require.NoError(t, err)
	require.Equal(t, 450, n)
}

func TestParseAmpliconLengthRangeUsesMidpoint(t *testing.T) {
	n, err := parseAmpliconLength("400-500")
	require.NoError(t, err)
	require.Equal(t, 450, n)
}

func TestParseAmpliconLengthEmptyIsZero(t *testing.T) {
	n, err := parseAmpliconLength("")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestParseAmpliconLengthRejectsGarbage(t *testing.T) {
	_, err := parseAmpliconLength("abc-def")
	require.Error(t, err)
}

func TestResolveThreadsZeroMeansAllCores(t *testing.T) {
	require.Greater(t, resolveThreads(0), 0)
}

func TestResolveThreadsPassesThroughPositiveValue(t *testing.T) {
	require.Equal(t, 4, resolveThreads(4))
}

func TestExpandDirEmptyIsEmpty(t *testing.T) {
	got, err := expandDir("")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestGetFlagNonNegativeFloat64PassesThroughDefault(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Float64("errorrate", 0.01, "")
	require.Equal(t, 0.01, getFlagNonNegativeFloat64(cmd, "errorrate"))
}

func TestExpandDirCreatesMissingDirectory(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "fresh", "nested")
	got, err := expandDir(target)
	require.NoError(t, err)
	require.Equal(t, target, got)

	again, err := expandDir(target)
	require.NoError(t, err)
	require.Equal(t, target, again)
}
