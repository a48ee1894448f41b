// Package rarebranch implements the rare-branch selector and its
// blacklist (spec §3, §4.C): scanning the global hit-bits table for
// branches with the smallest highest-order-bit, re-prioritising strictly
// rarer branches as they appear, and restricting results to branches a
// given input actually hits.
package rarebranch

import (
	"math/bits"
	"sort"

	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/errors"
)

// Selector holds the mutable rare_branch_exp and the dynamic blacklist
// (spec §3 "Blacklist"): branches for which a full mutation cycle found
// no successful branch-preserving mutation are skipped in future scans.
type Selector struct {
	hitBits   *coverage.HitBits
	exponent  int
	blacklist map[coverage.BranchID]bool
}

// New returns a Selector starting at the given rare_branch_exp (must be in
// [0, coverage.RareBranchBitwidth]).
func New(hitBits *coverage.HitBits, initialExponent int) *Selector {
	if initialExponent < 0 {
		initialExponent = 0
	}

	if initialExponent > coverage.RareBranchBitwidth {
		initialExponent = coverage.RareBranchBitwidth
	}

	return &Selector{hitBits: hitBits, exponent: initialExponent, blacklist: make(map[coverage.BranchID]bool)}
}

// Exponent reports the current rare_branch_exp.
func (s *Selector) Exponent() int { return s.exponent }

// Blacklist adds a branch id to the dynamic blacklist (spec §4.J step 8).
func (s *Selector) Blacklist(id coverage.BranchID) { s.blacklist[id] = true }

// IsBlacklisted reports whether id is currently blacklisted.
func (s *Selector) IsBlacklisted(id coverage.BranchID) bool { return s.blacklist[id] }

func hob(hits uint64) int {
	if hits == 0 {
		return -1
	}

	return bits.Len64(hits) - 1
}

// scanRare implements §4.C steps 1-3: a global scan producing the set of
// rare branch ids, rewritten per the design notes as a bounded loop (at
// most coverage.RareBranchBitwidth retries) instead of recursion.
func (s *Selector) scanRare() []coverage.BranchID {
	snapshot := s.hitBits.Snapshot()

	for retry := 0; retry <= coverage.RareBranchBitwidth; retry++ {
		var result []coverage.BranchID

		lowestHOB := coverage.RareBranchBitwidth

		for i, hits := range snapshot {
			id := coverage.BranchID(i)
			if hits == 0 || s.blacklist[id] {
				continue
			}

			h := hob(hits)
			if h < lowestHOB {
				lowestHOB = h
			}

			if h < s.exponent {
				if h < s.exponent-1 {
					// Strictly rarer branch found: reset and sharpen the
					// exponent (spec §4.C step 2).
					result = result[:0]
					s.exponent = h + 1
				}

				result = append(result, id)
			}
		}

		if len(result) > 0 {
			return result
		}

		if lowestHOB >= coverage.RareBranchBitwidth {
			// Nothing hit at all; nothing to raise toward.
			return nil
		}

		s.exponent = lowestHOB + 1
	}

	return nil
}

// SelectForInput implements §4.C step 4-5: scans for rare branches
// process-wide, then restricts to those this input's trace_mini actually
// hit, sorted by hit_bits ascending (ties by id order).
func (s *Selector) SelectForInput(traceMini *coverage.Bitset) ([]coverage.BranchID, error) {
	rare := s.scanRare()
	if len(rare) == 0 {
		return nil, nil
	}

	snapshot := s.hitBits.Snapshot()

	var hitByInput []coverage.BranchID

	for _, id := range rare {
		if traceMini != nil && int(id) < traceMini.Len() && traceMini.Test(int(id)) {
			hitByInput = append(hitByInput, id)
		}
	}

	sort.Slice(hitByInput, func(i, j int) bool {
		hi, hj := snapshot[hitByInput[i]], snapshot[hitByInput[j]]
		if hi != hj {
			return hi < hj
		}

		return hitByInput[i] < hitByInput[j]
	})

	return hitByInput, nil
}

// FirstUnfuzzed returns the rarest branch in candidates (already ascending
// by hit count) this input has not yet been fuzzed against, per §4.J
// step 2: "Pick the first branch not yet fuzzed for this input". If every
// candidate has already been fuzzed, it returns the rarest one again
// along with alreadyFuzzed=true so the caller can set
// skip_simple_bitflip/rb_skip_deterministic.
func FirstUnfuzzed(q *coverage.QueueInput, candidates []coverage.BranchID) (id coverage.BranchID, alreadyFuzzed bool, ok bool) {
	if len(candidates) == 0 {
		return 0, false, false
	}

	for _, c := range candidates {
		if !q.HasBeenFuzzedAgainst(c) {
			return c, false, true
		}
	}

	return candidates[0], true, true
}

// ErrNoRareBranch is returned by callers that want to distinguish "no
// rare branch available" from other errors; SelectForInput itself returns
// (nil, nil) for that case (spec §4.C step 5 "caller skips this input").
var ErrNoRareBranch = errors.SelectorExhausted(0)
