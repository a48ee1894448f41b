// Package bandit implements the multi-armed-bandit family driving
// operator and batch-size selection (spec §4.E): Uniform, UCB1, KL-UCB,
// Thompson Sampling, discounted-Thompson, discounted-Bayes-exploration,
// Exp3-IX, Exp3-PP, and an ADWIN-backed non-stationary Thompson variant.
package bandit

import (
	"math"

	"github.com/skeinforge/raretrace/internal/errors"
	"github.com/skeinforge/raretrace/internal/rng"
)

// Bandit is the common interface every variant implements (design notes
// §9: "a tagged variant with a common interface"). mask may be nil
// (every arm selectable) or length-N with false marking an arm illegal
// for this pull; a masked arm's counters are not advanced (spec §4.E
// "Masking").
type Bandit interface {
	SelectArm(mask []bool) (int, error)
	AddReward(arm int, reward float64)
	NumArms() int
}

// unmaskedIndices returns the arm indices selectable under mask.
func unmaskedIndices(n int, mask []bool) []int {
	idx := make([]int, 0, n)

	for i := 0; i < n; i++ {
		if mask == nil || mask[i] {
			idx = append(idx, i)
		}
	}

	return idx
}

// Uniform picks uniformly among unmasked arms (spec §4.E).
type Uniform struct {
	n int
	r *rng.Handle
}

// NewUniform returns a Uniform bandit over n arms.
func NewUniform(n int, r *rng.Handle) *Uniform { return &Uniform{n: n, r: r} }

func (u *Uniform) NumArms() int { return u.n }

func (u *Uniform) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(u.n, mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("uniform bandit: all arms masked")
	}

	return idx[u.r.RandBelow(len(idx))], nil
}

// AddReward is a no-op: Uniform has no state to update.
func (u *Uniform) AddReward(arm int, reward float64) {}

// arm is the plain accumulator shared by UCB1, KL-UCB, and Thompson.
type arm struct {
	numSelected int
	totalReward float64
}

func (a *arm) mean() float64 {
	if a.numSelected == 0 {
		return 0
	}

	return a.totalReward / float64(a.numSelected)
}

// UCB1 implements spec §4.E: unseen arms first, then argmax of
// mean_i + sqrt(2*ln(t)/n_i).
type UCB1 struct {
	arms []arm
	t    int
}

// NewUCB1 returns a UCB1 bandit over n arms.
func NewUCB1(n int) *UCB1 { return &UCB1{arms: make([]arm, n)} }

func (u *UCB1) NumArms() int { return len(u.arms) }

func (u *UCB1) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(u.arms), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("ucb1: all arms masked")
	}

	for _, i := range idx {
		if u.arms[i].numSelected == 0 {
			return i, nil
		}
	}

	best, bestScore := idx[0], math.Inf(-1)

	for _, i := range idx {
		a := &u.arms[i]
		score := a.mean() + math.Sqrt(2*math.Log(float64(u.t+1))/float64(a.numSelected))

		if score > bestScore {
			best, bestScore = i, score
		}
	}

	return best, nil
}

func (u *UCB1) AddReward(armIdx int, reward float64) {
	a := &u.arms[armIdx]
	a.numSelected++
	a.totalReward += reward
	u.t++
}
