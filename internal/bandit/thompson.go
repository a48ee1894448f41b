package bandit

import (
	"github.com/skeinforge/raretrace/internal/errors"
	"github.com/skeinforge/raretrace/internal/rng"
)

// Thompson implements plain Thompson Sampling (spec §4.E): sample
// theta_i ~ Beta(rewards_i+1, num_selected_i-rewards_i+1); argmax.
type Thompson struct {
	arms []arm
	r    *rng.Handle
}

// NewThompson returns a Thompson Sampling bandit over n arms.
func NewThompson(n int, r *rng.Handle) *Thompson {
	return &Thompson{arms: make([]arm, n), r: r}
}

func (t *Thompson) NumArms() int { return len(t.arms) }

func (t *Thompson) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(t.arms), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("thompson: all arms masked")
	}

	best, bestSample := idx[0], -1.0

	for _, i := range idx {
		a := &t.arms[i]
		failures := float64(a.numSelected) - a.totalReward

		if failures < 0 {
			failures = 0
		}

		sample := t.r.Beta(a.totalReward+1, failures+1)
		if sample > bestSample {
			best, bestSample = i, sample
		}
	}

	return best, nil
}

func (t *Thompson) AddReward(armIdx int, reward float64) {
	a := &t.arms[armIdx]
	a.numSelected++
	a.totalReward += reward
}

// discountedArm is the accumulator for DTS (spec §3 "Bandit Arm (discounted)").
type discountedArm struct {
	totalRewards    float64
	totalLosses     float64
	numRewarded     int
	disNumSelected  float64
}

func (d *discountedArm) mean() float64 {
	denom := d.totalRewards + d.totalLosses
	if denom <= 0 {
		return 0.5
	}

	return d.totalRewards / denom
}

// DiscountedThompson implements DTS (spec §4.E): total_rewards/total_losses
// each multiplied by gamma on every global pull (including skipped arms),
// sampling Beta(total_rewards+1, total_losses+1). The dOTS variant
// replaces the sample with max(sample, mean), using the discounted mean
// per the Open Question decision in SPEC_FULL.md §13.
type DiscountedThompson struct {
	arms  []discountedArm
	r     *rng.Handle
	gamma float64
	dots  bool
}

// NewDiscountedThompson returns a DTS bandit; gamma defaults to 0.999 if <= 0.
func NewDiscountedThompson(n int, r *rng.Handle, gamma float64, dots bool) *DiscountedThompson {
	if gamma <= 0 {
		gamma = 0.999
	}

	return &DiscountedThompson{arms: make([]discountedArm, n), r: r, gamma: gamma, dots: dots}
}

func (d *DiscountedThompson) NumArms() int { return len(d.arms) }

func (d *DiscountedThompson) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(d.arms), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("discounted-thompson: all arms masked")
	}

	best, bestSample := idx[0], -1.0

	for _, i := range idx {
		a := &d.arms[i]
		sample := d.r.Beta(a.totalRewards+1, a.totalLosses+1)

		if d.dots {
			if m := a.mean(); m > sample {
				sample = m
			}
		}

		if sample > bestSample {
			best, bestSample = i, sample
		}
	}

	return best, nil
}

// AddReward discounts every arm's accumulators (spec: "on every global
// pull, including skipped arms") before crediting the chosen arm.
func (d *DiscountedThompson) AddReward(armIdx int, reward float64) {
	for i := range d.arms {
		d.arms[i].totalRewards *= d.gamma
		d.arms[i].totalLosses *= d.gamma
		d.arms[i].disNumSelected *= d.gamma
	}

	a := &d.arms[armIdx]
	if reward > 0 {
		a.totalRewards += reward
		a.numRewarded++
	} else {
		a.totalLosses += 1 - reward
	}

	a.disNumSelected++
}
