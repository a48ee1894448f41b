package bandit

import (
	"math"

	"github.com/skeinforge/raretrace/internal/errors"
	"github.com/skeinforge/raretrace/internal/rng"
)

// dbeArm is the accumulator for discounted-Bayes-exploration.
type dbeArm struct {
	rewards        float64
	disNumSelected float64
}

func (a *dbeArm) mean() float64 {
	if a.disNumSelected <= 0 {
		return 0
	}

	return a.rewards / a.disNumSelected
}

// DBE implements discounted-Bayes-exploration (spec §4.E): uniform over
// never-pulled arms first; otherwise a Boltzmann-style categorical draw
// weighted by 2^(beta*redcoef*mean_i), beta = 4 + 2*activeArms,
// redcoef = 1/(2*maxMean), with a reset safety valve when redcoef blows
// up, followed by discounting every arm.
type DBE struct {
	arms  []dbeArm
	r     *rng.Handle
	gamma float64
}

// NewDBE returns a DBE bandit; gamma defaults to 0.999 if <= 0.
func NewDBE(n int, r *rng.Handle, gamma float64) *DBE {
	if gamma <= 0 {
		gamma = 0.999
	}

	return &DBE{arms: make([]dbeArm, n), r: r, gamma: gamma}
}

func (d *DBE) NumArms() int { return len(d.arms) }

func (d *DBE) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(d.arms), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("dbe: all arms masked")
	}

	var unseen []int

	for _, i := range idx {
		if d.arms[i].disNumSelected == 0 {
			unseen = append(unseen, i)
		}
	}

	if len(unseen) > 0 {
		return unseen[d.r.RandBelow(len(unseen))], nil
	}

	maxMean := math.Inf(-1)
	for _, i := range idx {
		if m := d.arms[i].mean(); m > maxMean {
			maxMean = m
		}
	}

	if maxMean <= 0 {
		maxMean = 1e-9
	}

	redcoef := 1 / (2 * maxMean)

	if redcoef > math.Pow(2, 30) {
		for _, i := range idx {
			d.arms[i] = dbeArm{rewards: 1, disNumSelected: 1}
		}

		return idx[d.r.RandBelow(len(idx))], nil
	}

	beta := 4 + 2*float64(len(idx))
	weights := make([]float64, len(idx))

	for j, i := range idx {
		weights[j] = math.Pow(2, beta*redcoef*d.arms[i].mean())
	}

	choice := idx[d.r.DiscreteWeighted(weights)]

	return choice, nil
}

func (d *DBE) AddReward(armIdx int, reward float64) {
	a := &d.arms[armIdx]
	a.rewards += reward
	a.disNumSelected++

	for i := range d.arms {
		d.arms[i].rewards *= d.gamma
		d.arms[i].disNumSelected *= d.gamma
	}
}
