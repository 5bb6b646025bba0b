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

// Package extend recursively grows each cleaned starting read one base at a
// time, guided by the extension k-mer and context tables, until it reaches
// a terminating primer, runs out of viable next bases, or hits the
// recursion limit. A single lock-protected cache remembers extensions that
// were never forced to guess, so repeated prefixes across starting reads
// are not recomputed.
package extend

import (
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kelpie-bio/kelpie/exttable"
	"github.com/kelpie-bio/kelpie/kmer"
	"github.com/kelpie-bio/kelpie/primer"
)

// MaxRecursionDefault is the recursion depth cap applied unless Options
// overrides it.
const MaxRecursionDefault = 10

// viabilityCloseFactor is how close a variant's depth must be to the
// strongest variant or to the last accepted depth to survive the cheap
// viability filter despite being below the noise floor.
const viabilityCloseFactor = 0.5

// contextSurvivalDepth is the small-integer context-depth threshold a
// variant must clear to count as "surviving" at a given context length.
const contextSurvivalDepth = 2

// coverageCloseFactor is how close a pair-check coverage score must be to
// the maximum observed coverage to keep a variant alive.
const coverageCloseFactor = 0.8

// Options controls one extension run.
type Options struct {
	K                 int
	MaxExtendedLength int
	MinExtendedLength int // 0 means unset
	MaxRecursion      int
	PairCheckSize     int
}

func (o Options) maxRecursion() int {
	if o.MaxRecursion <= 0 {
		return MaxRecursionDefault
	}
	return o.MaxRecursion
}

// Tables bundles the read-only tables extension consults.
type Tables struct {
	Kmer             *exttable.KmerTable
	Contexts         []*exttable.ContextTable // ascending by Length
	StartingContexts map[int]map[uint64]struct{}
}

func depthAt(t *exttable.KmerTable, word uint64, k int) int {
	return t.Counts[kmer.Canonical(word, k)]
}

func contextDepthAt(ct *exttable.ContextTable, seq []byte, offset, k int) int {
	h, ok := kmer.Context(seq, offset, k, ct.Length)
	if !ok {
		return 0
	}
	return ct.Counts[h]
}

// PairScanner answers coverage queries against the paired-end selected
// reads: how many times an RC'd candidate extension target appears as a
// substring among them. Results are cached by target string, since the
// same fork commonly recurs across starting reads sharing a region.
type PairScanner struct {
	Targets [][]byte

	mu    sync.Mutex
	cache map[string][]int // target -> every start position it occurs at, across all targets' reads
}

// NewPairScanner builds a scanner over the given pool of candidate pair
// targets (typically every selected read from the mate file).
func NewPairScanner(targets [][]byte) *PairScanner {
	return &PairScanner{Targets: targets, cache: map[string][]int{}}
}

// occurrences returns every start position within the scanner's read pool
// where target occurs, computing and caching the scan on first use (the
// scan itself does not depend on fork history, only the weighting does).
func (p *PairScanner) occurrences(target []byte) []int {
	key := string(target)
	p.mu.Lock()
	if v, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()

	var positions []int
	for _, t := range p.Targets {
		for start := 0; start+len(target) <= len(t); start++ {
			if string(t[start:start+len(target)]) == key {
				positions = append(positions, start)
			}
		}
	}

	p.mu.Lock()
	p.cache[key] = positions
	p.mu.Unlock()
	return positions
}

// Coverage counts occurrences of target within the scanner's read pool,
// doubling the weight of any occurrence whose start position matches one
// of the fork-history offsets (positions where the caller previously had
// to choose among ambiguous variants). The underlying position scan is
// cached by target; the fork-dependent weighting is always recomputed.
func (p *PairScanner) Coverage(target []byte, forkHistory []int) int {
	if p == nil || len(target) == 0 {
		return 0
	}

	forkSet := make(map[int]bool, len(forkHistory))
	for _, f := range forkHistory {
		forkSet[f] = true
	}

	score := 0
	for _, start := range p.occurrences(target) {
		if forkSet[start] {
			score += 2
		} else {
			score++
		}
	}
	return score
}

// Cache is the lock-protected starting-read-prefix -> extension memo.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewCache creates an empty extension cache.
func NewCache() *Cache {
	return &Cache{entries: map[string][]byte{}}
}

func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) put(key string, extended []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), extended...)
}

func reverseComplementSeq(seq []byte) []byte {
	comp := map[byte]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'a': 't', 'c': 'g', 'g': 'c', 't': 'a'}
	n := len(seq)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = comp[seq[n-1-i]]
	}
	return out
}

// Branch is one candidate outcome of extending a read, either a leaf
// result or a recursive call's returned summary.
type Branch struct {
	Seq        []byte
	TPReached  bool
	Abandoned  bool
	Cost       int
	CoinTossed bool
	MeanDepth  float64
	AvgDepth   float64
}

// matchesTerminatingPrimer reports whether seq's tail matches any
// (head, core) pair of the terminating-primer variant set.
func matchesTerminatingPrimer(seq []byte, tp *primer.Variants) bool {
	total := tp.HeadLen + tp.CoreLen
	if len(seq) < total {
		return false
	}
	tail := seq[len(seq)-total:]
	head := string(tail[:tp.HeadLen])
	core := string(tail[tp.HeadLen:])
	return tp.Head[head] && tp.Core[core]
}

// loopKey hashes the (predecessor k-mer L bases back, current k-mer) pair
// via XOR-then-hash, the loop-trap fingerprint.
func loopKey(predecessor, current uint64) uint64 {
	return xxhash.Sum64(uint64ToBytes(predecessor ^ current))
}

func uint64ToBytes(w uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(w >> uint(56-8*i))
	}
	return b
}

// ChainState threads the accumulators that persist along one extension chain:
// the loop-trap set, the running depth sums (for harmonic/arithmetic mean),
// the last accepted depth, and the fork-position history used to weight
// pair-check coverage.
type ChainState struct {
	k                 int
	loopTrap          map[uint64]struct{}
	depthSum          float64
	invDepthSum       float64
	n                 int
	lastAcceptedDepth int
	forkHistory       []int
	cacheOK           bool // false once any coin toss or abandonment occurs anywhere in this chain
	rng               *rand.Rand
}

func (s *ChainState) harmonicMean() float64 {
	if s.invDepthSum == 0 {
		return 0
	}
	return float64(s.n) / s.invDepthSum
}

func (s *ChainState) meanDepth() float64 {
	if s.n == 0 {
		return 0
	}
	return s.depthSum / float64(s.n)
}

func (s *ChainState) recordDepth(d int) {
	s.depthSum += float64(d)
	if d > 0 {
		s.invDepthSum += 1.0 / float64(d)
	}
	s.n++
	s.lastAcceptedDepth = d
}

// minDepthFloor derives the per-step viability floor from the running
// harmonic mean and the last accepted depth.
func minDepthFloor(s *ChainState) float64 {
	hm := s.harmonicMean() / 4
	last := float64(s.lastAcceptedDepth) / 2
	if hm < last {
		return hm
	}
	return last
}

// viable applies the cheap noise filter: a variant survives if its depth
// clears the floor outright, or it is close to the strongest surviving
// variant, or close to the last accepted depth.
func viable(depth int, floor, strongest float64, lastAccepted int) bool {
	if float64(depth) >= floor {
		return true
	}
	if strongest > 0 && float64(depth) >= strongest*viabilityCloseFactor {
		return true
	}
	if lastAccepted > 0 && float64(depth) >= float64(lastAccepted)*viabilityCloseFactor {
		return true
	}
	return false
}

// candidate is one surviving next-base option mid-selection.
type candidate struct {
	base  byte
	word  uint64
	depth int
}

// ExtendRead grows seq by recursively choosing each next base, stopping at
// maxExtendedLength, a terminating-primer match, or exhaustion of viable
// options. level and loopTrap thread recursion state; top-level callers
// pass level=1 and a fresh loopTrap.
func ExtendRead(seq []byte, level int, loopTrap map[uint64]struct{}, s *ChainState, tables Tables, tp *primer.Variants, pairs *PairScanner, opt Options, cache *Cache) Branch {
	k := opt.K
	cur := append([]byte(nil), seq...)

	for {
		if len(cur) >= opt.MaxExtendedLength {
			return Branch{Seq: cur, TPReached: false, MeanDepth: s.meanDepth(), AvgDepth: s.meanDepth()}
		}
		if len(cur) >= k && matchesTerminatingPrimer(cur, tp) {
			return Branch{Seq: cur, TPReached: true, MeanDepth: s.meanDepth(), AvgDepth: s.meanDepth()}
		}
		if len(cur) < k {
			return Branch{Seq: cur, Abandoned: true}
		}

		if cached, ok := cache.get(string(cur)); ok {
			return Branch{Seq: append(append([]byte(nil), cur...), cached...), TPReached: matchesTerminatingPrimer(append(cur, cached...), tp), MeanDepth: s.meanDepth(), AvgDepth: s.meanDepth()}
		}

		word, ok := kmer.Pack(cur, len(cur)-k, k)
		if !ok {
			return Branch{Seq: cur, Abandoned: true}
		}

		variants := kmer.NextVariants(word, k)
		depths := make([]int, 4)
		strongest := 0
		for i, v := range variants {
			depths[i] = depthAt(tables.Kmer, v, k)
			if depths[i] > strongest {
				strongest = depths[i]
			}
		}

		floor := minDepthFloor(s)
		var survivors []candidate
	nextVariant:
		for i, v := range variants {
			if !viable(depths[i], floor, float64(strongest), s.lastAcceptedDepth) {
				continue
			}
			for L, hashes := range tables.StartingContexts {
				if len(cur)+1 > L {
					continue
				}
				prefix := append(append([]byte(nil), cur...), "ACGT"[i])
				if len(prefix) < L {
					continue
				}
				if _, present := hashes[xxhash.Sum64(prefix[:L])]; !present {
					continue nextVariant
				}
			}
			survivors = append(survivors, candidate{base: "ACGT"[i], word: v, depth: depths[i]})
		}

		if len(survivors) == 0 {
			s.cacheOK = false
			return Branch{Seq: cur, Abandoned: true, MeanDepth: s.meanDepth(), AvgDepth: s.meanDepth()}
		}

		if len(survivors) > 1 {
			survivors = downSelectByContext(cur, survivors, tables, k)
		}

		if len(survivors) > 1 && pairs != nil {
			survivors = downSelectByPairCoverage(cur, survivors, pairs, opt, s.forkHistory)
		}

		if len(survivors) == 1 {
			chosen := survivors[0]
			cur = append(cur, chosen.base)
			s.recordDepth(chosen.depth)
			predOffset := len(cur) - 1 - opt.PairCheckSize
			if predOffset >= 0 {
				if predWord, pok := kmer.Pack(cur, predOffset, k); pok {
					lk := loopKey(predWord, chosen.word)
					if _, seen := loopTrap[lk]; seen {
						s.cacheOK = false
						return Branch{Seq: cur, Abandoned: true, MeanDepth: s.meanDepth(), AvgDepth: s.meanDepth()}
					}
					loopTrap[lk] = struct{}{}
				}
			}
			continue
		}

		if level >= opt.maxRecursion() {
			s.cacheOK = false
			return Branch{Seq: cur, Abandoned: false, MeanDepth: s.meanDepth(), AvgDepth: s.meanDepth()}
		}

		cost := 1
		if len(s.forkHistory) > 0 && len(cur)-s.forkHistory[len(s.forkHistory)-1] <= 1 {
			cost = 2
		}
		s.forkHistory = append(s.forkHistory, len(cur))

		branches := make([]Branch, 0, len(survivors))
		for _, c := range survivors {
			childTrap := make(map[uint64]struct{}, len(loopTrap))
			for k2 := range loopTrap {
				childTrap[k2] = struct{}{}
			}
			childState := *s
			childState.loopTrap = childTrap
			childSeq := append(append([]byte(nil), cur...), c.base)
			childState.recordDepth(c.depth)
			branch := ExtendRead(childSeq, level+1, childTrap, &childState, tables, tp, pairs, opt, cache)
			branch.Cost += cost
			branches = append(branches, branch)
			s.cacheOK = s.cacheOK && childState.cacheOK
		}

		chosen := chooseBranch(branches, s.rng)
		if chosen.CoinTossed {
			s.cacheOK = false
		}
		return chosen
	}
}

// downSelectByContext scans context tables from the longest length
// downward; the first length where exactly one surviving variant's
// context depth exceeds contextSurvivalDepth wins outright, otherwise the
// scan continues to shorter lengths, keeping all survivors if the
// shortest length still leaves more than one viable.
func downSelectByContext(cur []byte, survivors []candidate, tables Tables, k int) []candidate {
	for i := len(tables.Contexts) - 1; i >= 0; i-- {
		ct := tables.Contexts[i]
		L := ct.Length
		if len(cur)+1 < L {
			continue
		}
		type scored struct {
			c candidate
			d int
		}
		var atLength []scored
		for _, c := range survivors {
			ext := append(append([]byte(nil), cur...), c.base)
			offset := len(ext) - L
			if offset < 0 {
				continue
			}
			d := contextDepthAt(ct, ext, offset, k)
			atLength = append(atLength, scored{c, d})
		}
		passing := make([]candidate, 0, len(atLength))
		for _, s := range atLength {
			if s.d > contextSurvivalDepth {
				passing = append(passing, s.c)
			}
		}
		if len(passing) == 1 {
			return passing
		}
		if len(passing) > 1 {
			survivors = passing
		}
	}
	return survivors
}

// downSelectByPairCoverage keeps only the survivors whose paired-read
// coverage is close to the best observed coverage among them.
func downSelectByPairCoverage(cur []byte, survivors []candidate, pairs *PairScanner, opt Options, forkHistory []int) []candidate {
	size := opt.PairCheckSize
	if size <= 0 || size > len(cur)+1 {
		return survivors
	}
	best := 0
	scores := make([]int, len(survivors))
	for i, c := range survivors {
		prefix := append(append([]byte(nil), cur...), c.base)
		if len(prefix) < size {
			scores[i] = 0
			continue
		}
		target := reverseComplementSeq(prefix[len(prefix)-size:])
		scores[i] = pairs.Coverage(target, forkHistory)
		if scores[i] > best {
			best = scores[i]
		}
	}
	if best == 0 {
		return survivors
	}
	out := make([]candidate, 0, len(survivors))
	for i, c := range survivors {
		if float64(scores[i]) >= float64(best)*coverageCloseFactor {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return survivors
	}
	return out
}

// chooseBranch applies the branch-selection preference order: a single
// TP-reaching branch wins outright; among several, the lowest cost wins,
// ties broken by a depth-weighted coin toss; with none TP-reaching, the
// longest returned sequence is kept (expected to be discarded downstream).
func chooseBranch(branches []Branch, rng *rand.Rand) Branch {
	var reaching []Branch
	for _, b := range branches {
		if b.TPReached {
			reaching = append(reaching, b)
		}
	}
	if len(reaching) == 1 {
		return reaching[0]
	}
	if len(reaching) > 1 {
		best := reaching[0]
		tied := []Branch{best}
		for _, b := range reaching[1:] {
			if b.Cost < best.Cost {
				best = b
				tied = []Branch{b}
			} else if b.Cost == best.Cost {
				tied = append(tied, b)
			}
		}
		if len(tied) == 1 {
			return tied[0]
		}
		return weightedCoinToss(tied, rng)
	}

	longest := branches[0]
	for _, b := range branches[1:] {
		if len(b.Seq) > len(longest.Seq) {
			longest = b
		}
	}
	return longest
}

// weightedCoinToss picks among cost-tied branches with probability
// proportional to avgDepth. rng is seeded per starting read (see Run) so
// the outcome depends only on the read being extended, never on the
// interleaving of concurrent worker goroutines.
func weightedCoinToss(tied []Branch, rng *rand.Rand) Branch {
	total := 0.0
	for _, b := range tied {
		total += b.AvgDepth
	}
	chosen := tied[0]
	chosen.CoinTossed = true
	if total <= 0 {
		return chosen
	}
	r := rng.Float64() * total
	acc := 0.0
	for _, b := range tied {
		acc += b.AvgDepth
		if r <= acc {
			b.CoinTossed = true
			return b
		}
	}
	chosen = tied[len(tied)-1]
	chosen.CoinTossed = true
	return chosen
}

// NewState creates the per-chain accumulator state a top-level ExtendRead
// call starts with. seed deterministically drives that chain's tie-break
// coin toss, independent of goroutine scheduling.
func NewState(k int, seed int64) *ChainState {
	return &ChainState{k: k, loopTrap: map[uint64]struct{}{}, cacheOK: true, rng: rand.New(rand.NewSource(seed))}
}

// Run extends a single cleaned starting read end to end, caching the
// result under its original prefix when the whole sub-tree needed no coin
// toss and nothing was abandoned. seed ties this read's tie-break coin
// tosses to the read itself (its index in the starting-read list is the
// expected seed) rather than to the shared global math/rand source, so a
// fixed starting-read set and thread count always extend identically.
func Run(startingRead []byte, seed int64, tables Tables, tp *primer.Variants, pairs *PairScanner, opt Options, cache *Cache) Branch {
	s := NewState(opt.K, seed)
	branch := ExtendRead(startingRead, 1, s.loopTrap, s, tables, tp, pairs, opt, cache)
	if s.cacheOK && !branch.Abandoned && len(branch.Seq) > len(startingRead) {
		cache.put(string(startingRead), branch.Seq[len(startingRead):])
	}
	return branch
}

// TrimAndEmit applies the 5' primer-stub trim and 3'-terminating-primer
// trim to one top-level extension, returning the final sequence and
// whether it should go to the main output (true) or the discards pool
// (false).
func TrimAndEmit(extended Branch, primerLen int, tp *primer.Variants, minExtendedLength int) ([]byte, bool) {
	seq := extended.Seq
	trimHead := primerLen / 2
	if trimHead > len(seq) {
		trimHead = len(seq)
	}
	seq = seq[trimHead:]

	total := tp.HeadLen + tp.CoreLen
	if total <= len(seq) {
		tail := seq[len(seq)-total:]
		if tp.Head[string(tail[:tp.HeadLen])] && tp.Core[string(tail[tp.HeadLen:])] {
			seq = seq[:len(seq)-total]
		}
	}

	if extended.TPReached {
		return seq, true
	}
	if minExtendedLength > 0 && len(seq) >= minExtendedLength {
		return seq, true
	}
	return seq, false
}

