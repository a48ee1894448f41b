package bandit

import (
	"math"

	"github.com/skeinforge/raretrace/internal/errors"
)

// KLUCBOptions configures the Newton-iteration search (spec §4.E).
type KLUCBOptions struct {
	Delta     float64 // default 1e-6
	MaxIter   int     // default 25
	Tolerance float64 // default on f^2, e.g. 1e-8
}

// DefaultKLUCBOptions returns the spec's stated defaults.
func DefaultKLUCBOptions() KLUCBOptions {
	return KLUCBOptions{Delta: 1e-6, MaxIter: 25, Tolerance: 1e-8}
}

// KLUCB implements spec §4.E: argmax of q solving n_i*KL(mean_i||q) = ln(t)
// via Newton iteration on f(q) = ln(t)/n_i - KL(p,q).
type KLUCB struct {
	arms []arm
	t    int
	opts KLUCBOptions
}

// NewKLUCB returns a KL-UCB bandit over n arms.
func NewKLUCB(n int, opts KLUCBOptions) *KLUCB {
	return &KLUCB{arms: make([]arm, n), opts: opts}
}

func (k *KLUCB) NumArms() int { return len(k.arms) }

func bernoulliKL(p, q float64) float64 {
	eps := 1e-12
	if p <= 0 {
		p = eps
	}

	if p >= 1 {
		p = 1 - eps
	}

	if q <= 0 {
		q = eps
	}

	if q >= 1 {
		q = 1 - eps
	}

	return p*math.Log(p/q) + (1-p)*math.Log((1-p)/(1-q))
}

// klUCBIndex solves n*KL(p||q) = ln(t) for q via Newton's method, clamped
// to (p+delta, 1-delta) and capped at MaxIter iterations.
func klUCBIndex(p float64, n, t int, opts KLUCBOptions) float64 {
	if n == 0 {
		return 1
	}

	delta := opts.Delta
	if delta <= 0 {
		delta = 1e-6
	}

	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = 25
	}

	tol := opts.Tolerance
	if tol <= 0 {
		tol = 1e-8
	}

	lo := p + delta
	hi := 1 - delta

	if lo >= hi {
		return hi
	}

	target := math.Log(float64(t)) / float64(n)
	q := hi

	for i := 0; i < maxIter; i++ {
		f := target - bernoulliKL(p, q)
		if f*f < tol {
			break
		}

		df := -(q - p) / (q * (1 - q))
		if df == 0 {
			break
		}

		q -= f / df

		if q <= lo {
			q = lo
		}

		if q >= hi {
			q = hi
		}
	}

	return q
}

func (k *KLUCB) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(k.arms), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("klucb: all arms masked")
	}

	for _, i := range idx {
		if k.arms[i].numSelected == 0 {
			return i, nil
		}
	}

	best, bestScore := idx[0], math.Inf(-1)

	for _, i := range idx {
		a := &k.arms[i]
		score := klUCBIndex(a.mean(), a.numSelected, k.t+1, k.opts)

		if score > bestScore {
			best, bestScore = i, score
		}
	}

	return best, nil
}

func (k *KLUCB) AddReward(armIdx int, reward float64) {
	a := &k.arms[armIdx]
	a.numSelected++
	a.totalReward += reward
	k.t++
}
