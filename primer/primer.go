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

// Package primer expands a (possibly degenerate, IUPAC-coded) pair of PCR
// primers into the concrete head/core variant strings the scanner needs,
// bounded by a per-primer mismatch budget.
//
// The IUPAC expansion table here is the same idea as unikmer's
// extendDegenerateSeq (unikmer/unikmer/cmd/util.go): a product enumeration
// over each position's concrete base set.
package primer

import (
	"errors"
	"fmt"
)

// MaxPrimerLen is the longest primer Kelpie accepts.
const MaxPrimerLen = 32

// DegenerateHCL is the number of bases at the 3' end of the core that are
// held constant (excluded from mismatch substitution) for degenerate
// primers, the substitution "latch".
const DegenerateHCL = 2

// DegenerateThreshold is the fraction of non-ACGT bases above which a
// primer is treated as degenerate.
const DegenerateThreshold = 0.20

// ErrPrimerTooLong is returned when a primer exceeds MaxPrimerLen.
var ErrPrimerTooLong = errors.New("primer: longer than 32 bases")

// ErrEmptyPrimer is returned for a zero-length primer.
var ErrEmptyPrimer = errors.New("primer: empty sequence")

// iupac maps each IUPAC ambiguity code (upper case) to its concrete bases.
var iupac = map[byte]string{
	'A': "A", 'C': "C", 'G': "G", 'T': "T", 'U': "T",
	'R': "AG", 'Y': "CT", 'M': "AC", 'K': "GT", 'S': "CG", 'W': "AT",
	'H': "ACT", 'B': "CGT", 'V': "ACG", 'D': "AGT", 'N': "ACGT", 'I': "ACGT",
}

// complement maps each IUPAC code to its Watson-Crick complement code.
var complement = map[byte]byte{
	'A': 'T', 'T': 'A', 'C': 'G', 'G': 'C', 'U': 'A',
	'R': 'Y', 'Y': 'R', 'M': 'K', 'K': 'M', 'S': 'S', 'W': 'W',
	'H': 'D', 'D': 'H', 'B': 'V', 'V': 'B', 'N': 'N', 'I': 'N',
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 32
	}
	return b
}

// ReverseComplementIUPAC reverse-complements a (possibly degenerate) primer
// pattern, keeping IUPAC codes intact (e.g. R <-> Y).
func ReverseComplementIUPAC(seq string) (string, error) {
	n := len(seq)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		c := upper(seq[n-1-i])
		rc, ok := complement[c]
		if !ok {
			return "", fmt.Errorf("primer: illegal IUPAC code %q", c)
		}
		out[i] = rc
	}
	return string(out), nil
}

// IsDegenerate reports whether at least DegenerateThreshold of the primer's
// bases are non-ACGT IUPAC codes.
func IsDegenerate(seq string) bool {
	if len(seq) == 0 {
		return false
	}
	n := 0
	for i := 0; i < len(seq); i++ {
		switch upper(seq[i]) {
		case 'A', 'C', 'G', 'T':
		default:
			n++
		}
	}
	return float64(n)/float64(len(seq)) >= DegenerateThreshold
}

// Split divides a primer into its head and core parts: core is the 3' tail
// of length max(floor(3*len/4), 15) (or the whole primer, if shorter), head
// is whatever remains at the 5' end.
func Split(seq string) (head, core string) {
	n := len(seq)
	c := (3 * n) / 4
	if c < 15 {
		c = 15
	}
	if c > n {
		c = n
	}
	return seq[:n-c], seq[n-c:]
}

// expandIUPAC enumerates every concrete ACGT string matching a (possibly
// degenerate) pattern, via product enumeration over each position's
// concrete base set.
func expandIUPAC(pattern string) ([]string, error) {
	out := []string{""}
	for i := 0; i < len(pattern); i++ {
		bases, ok := iupac[upper(pattern[i])]
		if !ok {
			return nil, fmt.Errorf("primer: illegal IUPAC code %q at position %d", pattern[i], i)
		}
		next := make([]string, 0, len(out)*len(bases))
		for _, prefix := range out {
			for j := 0; j < len(bases); j++ {
				next = append(next, prefix+string(bases[j]))
			}
		}
		out = next
	}
	return out, nil
}

// matchesIUPAC reports whether concrete base b is an acceptable realization
// of IUPAC code p.
func matchesIUPAC(b, p byte) bool {
	bases, ok := iupac[upper(p)]
	if !ok {
		return false
	}
	cb := upper(b)
	for i := 0; i < len(bases); i++ {
		if bases[i] == cb {
			return true
		}
	}
	return false
}

// CountMismatches counts positions where variant (concrete ACGT) disagrees
// with pattern (possibly degenerate), used to enforce the post-hoc mismatch
// budget.
func CountMismatches(variant, pattern string) int {
	n := len(variant)
	if len(pattern) < n {
		n = len(pattern)
	}
	mm := 0
	for i := 0; i < n; i++ {
		if !matchesIUPAC(variant[i], pattern[i]) {
			mm++
		}
	}
	mm += len(variant) - n
	return mm
}

// substitutionVariants returns every string obtainable from seq (a concrete
// ACGT string) by substituting up to `budget` bases at positions not in
// locked, deduplicated. budget==0 returns {seq}.
func substitutionVariants(seq string, budget int, locked map[int]bool) map[string]bool {
	out := map[string]bool{seq: true}
	if budget <= 0 {
		return out
	}
	frontier := []string{seq}
	bases := "ACGT"
	for round := 0; round < budget; round++ {
		next := map[string]bool{}
		for _, s := range frontier {
			for pos := 0; pos < len(s); pos++ {
				if locked[pos] {
					continue
				}
				for bi := 0; bi < len(bases); bi++ {
					if bases[bi] == s[pos] {
						continue
					}
					variant := s[:pos] + string(bases[bi]) + s[pos+1:]
					if !out[variant] {
						out[variant] = true
						next[variant] = true
					}
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = frontier[:0]
		for s := range next {
			frontier = append(frontier, s)
		}
	}
	return out
}

// splitBudget divides a total mismatch budget between head and core,
// proportional to their lengths, when m>1.
func splitBudget(m, headLen, coreLen int) (headBudget, coreBudget int) {
	total := headLen + coreLen
	if total == 0 {
		return 0, 0
	}
	headBudget = (m*headLen + total/2) / total
	coreBudget = m - headBudget
	if coreBudget < 0 {
		coreBudget = 0
	}
	return headBudget, coreBudget
}

// Variants holds the expanded, mismatch-bounded concrete head and core
// strings for one of the four primer sets (F, R, F', R').
type Variants struct {
	Pattern    string // original (possibly degenerate) pattern, this orientation
	Head       map[string]bool
	Core       map[string]bool
	HeadLen    int
	CoreLen    int
	Mismatches int
	Degenerate bool
}

// expand builds a Variants set for a single primer pattern and mismatch
// budget: IUPAC product expansion first, then mismatch substitution, with
// the core's final DegenerateHCL bases locked for degenerate primers, and
// the m==1 case enforced post-hoc against the original pattern rather than
// split across head/core.
func expand(pattern string, m int) (*Variants, error) {
	if len(pattern) == 0 {
		return nil, ErrEmptyPrimer
	}
	if len(pattern) > MaxPrimerLen {
		return nil, ErrPrimerTooLong
	}

	headPat, corePat := Split(pattern)
	degenerate := IsDegenerate(pattern)

	coreLocked := map[int]bool{}
	if degenerate {
		for i := len(corePat) - DegenerateHCL; i < len(corePat); i++ {
			if i >= 0 {
				coreLocked[i] = true
			}
		}
	}

	headConcrete, err := expandIUPAC(headPat)
	if err != nil {
		return nil, err
	}
	coreConcrete, err := expandIUPAC(corePat)
	if err != nil {
		return nil, err
	}

	v := &Variants{
		Pattern:    pattern,
		Head:       map[string]bool{},
		Core:       map[string]bool{},
		HeadLen:    len(headPat),
		CoreLen:    len(corePat),
		Mismatches: m,
		Degenerate: degenerate,
	}

	if m <= 1 {
		// Whole-primer budget: generate substitution variants of each
		// IUPAC-expanded concrete string against the *whole* primer, then
		// rescan each resulting concrete primer against the original
		// pattern and keep only those within budget.
		for _, hc := range headConcrete {
			for _, cc := range coreConcrete {
				whole := hc + cc
				locked := map[int]bool{}
				for pos := range coreLocked {
					locked[len(hc)+pos] = true
				}
				for variant := range substitutionVariants(whole, m, locked) {
					if CountMismatches(variant, pattern) > m {
						continue
					}
					v.Head[variant[:len(hc)]] = true
					v.Core[variant[len(hc):]] = true
				}
			}
		}
		return v, nil
	}

	headBudget, coreBudget := splitBudget(m, len(headPat), len(corePat))
	for _, hc := range headConcrete {
		for variant := range substitutionVariants(hc, headBudget, nil) {
			v.Head[variant] = true
		}
	}
	for _, cc := range coreConcrete {
		for variant := range substitutionVariants(cc, coreBudget, coreLocked) {
			v.Core[variant] = true
		}
	}
	return v, nil
}

// Set holds the four primer-variant sets Kelpie scans for: F (forward), R
// (reverse), F' (revcomp of forward), R' (revcomp of reverse).
type Set struct {
	F, R, Fc, Rc *Variants

	ForwardPattern string
	ReversePattern string
}

// NewSet expands a forward/reverse primer pair into all four orientation
// sets (F, R, and their reverse complements). It fails if either primer is
// empty or longer than 32 bases.
func NewSet(forward, reverse string, mismatchesF, mismatchesR int) (*Set, error) {
	f, err := expand(forward, mismatchesF)
	if err != nil {
		return nil, fmt.Errorf("forward primer: %w", err)
	}
	r, err := expand(reverse, mismatchesR)
	if err != nil {
		return nil, fmt.Errorf("reverse primer: %w", err)
	}
	fcPattern, err := ReverseComplementIUPAC(forward)
	if err != nil {
		return nil, err
	}
	rcPattern, err := ReverseComplementIUPAC(reverse)
	if err != nil {
		return nil, err
	}
	fc, err := expand(fcPattern, mismatchesF)
	if err != nil {
		return nil, fmt.Errorf("forward' primer: %w", err)
	}
	rc, err := expand(rcPattern, mismatchesR)
	if err != nil {
		return nil, fmt.Errorf("reverse' primer: %w", err)
	}
	return &Set{
		F: f, R: r, Fc: fc, Rc: rc,
		ForwardPattern: forward,
		ReversePattern: reverse,
	}, nil
}

// AllCores returns the union of every concrete core string across all four
// orientations, used by the scanner to build its fast membership pre-filter
// that tests a read's packed core window against the union of all primer
// cores before doing per-orientation work.
func (s *Set) AllCores() map[string]bool {
	out := map[string]bool{}
	for _, v := range []*Variants{s.F, s.R, s.Fc, s.Rc} {
		for c := range v.Core {
			out[c] = true
		}
	}
	return out
}
