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

// Package scan implements Kelpie's primer scanner: for every read, slide a
// core-length window and test it against the union of all expanded primer
// cores. A tylertreat/BoomFilters scalable Bloom filter fronts the test the
// way unikmer's count/grep/index commands front their k-mer membership
// tests (unikmer/unikmer/cmd/count.go), so a negative answer skips the
// exact map lookup entirely.
package scan

import (
	"encoding/binary"

	"github.com/will-rowe/nthash"
	boom "github.com/tylertreat/BoomFilters"

	"github.com/kelpie-bio/kelpie/kmer"
	"github.com/kelpie-bio/kelpie/primer"
)

// Type identifies which of the four primer orientations a read matched.
type Type uint8

const (
	// FP: read begins with the forward primer.
	FP Type = iota
	// RP: read begins with the reverse primer.
	RP
	// FPc: read begins with revcomp(forward primer) — the read runs the
	// other way and must be reverse-complemented before use.
	FPc
	// RPc: read begins with revcomp(reverse primer) — ditto.
	RPc
)

// String names a Type the way header tags do: ";FP" | ";RP" | ";FP'" |
// ";RP'".
func (t Type) String() string {
	switch t {
	case FP:
		return "FP"
	case RP:
		return "RP"
	case FPc:
		return "FP'"
	case RPc:
		return "RP'"
	}
	return "?"
}

// NoMatch is the sentinel Index value for a read that matched no primer.
const NoMatch = ^uint32(0)

// EncodeIndex packs a primer type (top two bits) and a position within that
// type's hit list into a single uint32, giving a per-partition index of
// recordNo -> (primerType, positionInList).
func EncodeIndex(t Type, pos int) uint32 {
	return uint32(t)<<30 | uint32(pos)
}

// DecodeIndex reverses EncodeIndex.
func DecodeIndex(v uint32) (Type, int) {
	return Type(v >> 30), int(v & 0x3FFFFFFF)
}

// Hit is one read classified against the primer set.
type Hit struct {
	RecordNo    int
	Header      []byte
	Seq         []byte // trimmed, primer edge preserved
	Mismatches  int
	HeadLen     int // length of the primer's head portion present in Seq
	CoreLen     int
	WasReversed bool // true for FPc/RPc hits
}

// Result holds the four classified lists and the per-record index.
type Result struct {
	FP, RP, FPc, RPc []Hit
	Index            []uint32
}

func (r *Result) list(t Type) *[]Hit {
	switch t {
	case FP:
		return &r.FP
	case RP:
		return &r.RP
	case FPc:
		return &r.FPc
	default:
		return &r.RPc
	}
}

// orientation is one of the four Type's expanded variant data, grouped by
// core length so a single sliding window serves every orientation sharing
// it.
type orientation struct {
	typ        Type
	headLen    int
	coreLen    int
	heads      map[string]bool
	cores      map[uint64]bool
	pattern    string
	mismatches int
}

// coreGroup is every orientation sharing one core length, plus the Bloom
// filter and exact map that front membership tests at that length.
type coreGroup struct {
	length       int
	bloom        *boom.ScalableBloomFilter
	orientations []*orientation
}

// Scanner is a Set expanded into the Bloom-fronted lookup structures the
// per-partition scan pass matches reads against. Build once per run, reuse
// across every partition.
type Scanner struct {
	groups []*coreGroup
}

func wordBytes(w uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, w)
	return b
}

// ntHash of a short, fixed string (core length == k, so the rolling hasher
// only ever advances once).
func ntHashOf(s []byte) (uint64, bool) {
	hasher, err := nthash.NewHasher(&s, uint(len(s)))
	if err != nil {
		return 0, false
	}
	return hasher.Next(false)
}

func newOrientation(typ Type, v *primer.Variants) *orientation {
	o := &orientation{
		typ:        typ,
		headLen:    v.HeadLen,
		coreLen:    v.CoreLen,
		heads:      v.Head,
		cores:      map[uint64]bool{},
		pattern:    v.Pattern,
		mismatches: v.Mismatches,
	}
	for core := range v.Core {
		w, ok := kmer.Pack([]byte(core), 0, len(core))
		if ok {
			o.cores[w] = true
		}
	}
	return o
}

// NewScanner builds the Bloom-fronted lookup structures for a primer.Set.
// Membership is pre-tested by ntHash (a rolling hash, grounded on
// unikmer's own `NewHashIterator`), not the packed word itself, so scanning
// a read only ever packs a k-mer on an actual Bloom hit.
func NewScanner(set *primer.Set) *Scanner {
	orientations := []*orientation{
		newOrientation(FP, set.F),
		newOrientation(RP, set.R),
		newOrientation(FPc, set.Fc),
		newOrientation(RPc, set.Rc),
	}

	byLen := map[int][]*orientation{}
	for _, o := range orientations {
		byLen[o.coreLen] = append(byLen[o.coreLen], o)
	}

	s := &Scanner{}
	for length, group := range byLen {
		hint := 0
		for _, o := range group {
			hint += len(o.cores)
		}
		if hint < 1000 {
			hint = 1000
		}
		bf := boom.NewScalableBloomFilter(uint(hint), 0.01, 0.8)
		for _, o := range group {
			for w := range o.cores {
				h, ok := ntHashOf([]byte(kmer.Expand(w, length)))
				if ok {
					bf.Add(wordBytes(h))
				}
			}
		}
		s.groups = append(s.groups, &coreGroup{length: length, bloom: bf, orientations: group})
	}
	return s
}

// classify tests a single read against every core-length group, left to
// right across the read, returning the first orientation that matches both
// head and core and passes the mismatch budget: on a core hit, re-test the
// head, then count mismatches and accept only if they are within budget.
// Each group drives its membership test off one ntHash pass over the whole
// read rather than re-packing a k-mer at every offset; the packed word is
// only computed, for the exact map lookup, on a Bloom hit.
func (s *Scanner) classify(seq []byte) (o *orientation, pos int, mismatches int, ok bool) {
	n := len(seq)
	for _, g := range s.groups {
		if n < g.length {
			continue
		}
		hasher, err := nthash.NewHasher(&seq, uint(g.length))
		if err != nil {
			continue
		}
		for offset := 0; ; offset++ {
			h, hok := hasher.Next(false)
			if !hok {
				break
			}
			if !g.bloom.Test(wordBytes(h)) {
				continue
			}
			w, valid := kmer.Pack(seq, offset, g.length)
			if !valid {
				continue
			}
			for _, cand := range g.orientations {
				if !cand.cores[w] {
					continue
				}
				headStart := offset - cand.headLen
				var matched []byte
				if cand.headLen == 0 {
					matched = seq[offset : offset+g.length]
				} else {
					if headStart < 0 {
						continue
					}
					headSeq := string(seq[headStart:offset])
					if !cand.heads[headSeq] {
						continue
					}
					matched = seq[headStart : offset+g.length]
				}
				mm := primer.CountMismatches(string(matched), cand.pattern)
				if mm > cand.mismatches {
					continue
				}
				return cand, offset, mm, true
			}
		}
	}
	return nil, 0, 0, false
}

// trim cuts seq to the primer edge, preserving the primer itself:
// forward-anchored hits (FP, FPc) drop everything 5' of the primer's head;
// reverse-anchored hits (RP, RPc) drop everything 3' of the primer's core.
func trim(seq []byte, typ Type, corePos, headLen, coreLen int) []byte {
	headStart := corePos - headLen
	if headStart < 0 {
		headStart = corePos
	}
	switch typ {
	case FP, FPc:
		return seq[headStart:]
	default:
		end := corePos + coreLen
		return seq[:end]
	}
}

// Scan classifies every (header, seq) pair and returns the four hit lists
// plus the per-record index.
func (s *Scanner) Scan(headers [][]byte, seqs [][]byte) *Result {
	res := &Result{Index: make([]uint32, len(seqs))}
	for i, seq := range seqs {
		cand, pos, mm, ok := s.classify(seq)
		if !ok {
			res.Index[i] = NoMatch
			continue
		}
		trimmed := trim(seq, cand.typ, pos, cand.headLen, cand.coreLen)
		list := res.list(cand.typ)
		hit := Hit{
			RecordNo:    i,
			Header:      headers[i],
			Seq:         trimmed,
			Mismatches:  mm,
			HeadLen:     cand.headLen,
			CoreLen:     cand.coreLen,
			WasReversed: cand.typ == FPc || cand.typ == RPc,
		}
		res.Index[i] = EncodeIndex(cand.typ, len(*list))
		*list = append(*list, hit)
	}
	return res
}
