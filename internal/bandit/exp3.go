package bandit

import (
	"math"

	"github.com/skeinforge/raretrace/internal/errors"
	"github.com/skeinforge/raretrace/internal/rng"
)

// Exp3IX implements Exp3-IX (spec §4.E): weights start uniform; each step
// computes eta_t = sqrt(2*ln(K)/K/t), gamma_t = eta_t/2; the chosen arm's
// loss is implicit-exploration-corrected by gamma_t, and weights update
// multiplicatively with a min-loss shift for numerical stability (Open
// Question #4: confirmed a no-op on the simplex modulo rounding).
type Exp3IX struct {
	weights []float64
	r       *rng.Handle
	t       int
}

// NewExp3IX returns an Exp3-IX bandit over n arms with uniform initial weights.
func NewExp3IX(n int, r *rng.Handle) *Exp3IX {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}

	return &Exp3IX{weights: w, r: r}
}

func (e *Exp3IX) NumArms() int { return len(e.weights) }

func (e *Exp3IX) probs() []float64 {
	total := 0.0
	for _, w := range e.weights {
		total += w
	}

	p := make([]float64, len(e.weights))

	for i, w := range e.weights {
		p[i] = w / total
	}

	return p
}

func (e *Exp3IX) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(e.weights), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("exp3ix: all arms masked")
	}

	p := e.probs()

	sub := make([]float64, len(idx))
	for j, i := range idx {
		sub[j] = p[i]
	}

	return idx[e.r.DiscreteWeighted(sub)], nil
}

func (e *Exp3IX) AddReward(armIdx int, reward float64) {
	e.t++

	k := float64(len(e.weights))
	t := float64(e.t)

	eta := math.Sqrt(2 * math.Log(k) / k / t)
	gamma := eta / 2

	p := e.probs()

	losses := make([]float64, len(e.weights))
	minLoss := math.Inf(1)

	for i := range e.weights {
		if i == armIdx {
			losses[i] = (1 - reward) / (p[i] + gamma)
		} else {
			losses[i] = 0
		}

		if losses[i] < minLoss {
			minLoss = losses[i]
		}
	}

	for i := range e.weights {
		e.weights[i] *= math.Exp(-eta * (losses[i] - minLoss))
	}

	normalize(e.weights)
}

func normalize(w []float64) {
	total := 0.0
	for _, v := range w {
		total += v
	}

	if total <= 0 {
		for i := range w {
			w[i] = 1.0 / float64(len(w))
		}

		return
	}

	for i := range w {
		w[i] /= total
	}
}

// exp3ppArm tracks the per-arm accumulators Exp3-PP's gap estimation needs.
type exp3ppArm struct {
	weight     float64
	meanLoss   float64
	unweighted float64
	pulls      int
}

// Exp3PP implements Exp3-PP (spec §4.E): adds LCB/UCB gap estimation per
// arm (Delta_i), a per-arm exploration floor epsilon_i derived from the
// gap, a renormalized trust distribution tau_i, and importance-sampled
// losses by tau_i.
type Exp3PP struct {
	arms  []exp3ppArm
	r     *rng.Handle
	t     int
	alpha float64
	beta  float64
}

// Exp3PPOptions configures alpha/beta; zero values use the spec's implied
// constants (alpha=2, beta=1), which keep the confidence bound and
// exploration floor well-scaled for small K.
type Exp3PPOptions struct {
	Alpha float64
	Beta  float64
}

// NewExp3PP returns an Exp3-PP bandit over n arms.
func NewExp3PP(n int, r *rng.Handle, opts Exp3PPOptions) *Exp3PP {
	alpha, beta := opts.Alpha, opts.Beta
	if alpha <= 0 {
		alpha = 2
	}

	if beta <= 0 {
		beta = 1
	}

	arms := make([]exp3ppArm, n)
	for i := range arms {
		arms[i].weight = 1
	}

	return &Exp3PP{arms: arms, r: r, alpha: alpha, beta: beta}
}

func (e *Exp3PP) NumArms() int { return len(e.arms) }

// trusts computes the tau_i distribution (spec §4.E): gap-derived
// exploration floors epsilon_i, mixed with the weight distribution,
// renormalized, with a uniform fallback if the mix nearly vanishes.
func (e *Exp3PP) trusts() []float64 {
	k := len(e.arms)
	t := e.t + 1

	wtotal := 0.0
	for _, a := range e.arms {
		wtotal += a.weight
	}

	w := make([]float64, k)

	for i, a := range e.arms {
		if wtotal > 0 {
			w[i] = a.weight / wtotal
		} else {
			w[i] = 1.0 / float64(k)
		}
	}

	bound := make([]float64, k)
	for i, a := range e.arms {
		pulls := a.pulls
		if pulls == 0 {
			pulls = 1
		}

		bound[i] = math.Sqrt((e.alpha*math.Log(float64(t)) + math.Log(float64(k))) / (2 * float64(pulls)))
	}

	minUCB := math.Inf(1)

	for i, a := range e.arms {
		ucb := a.meanLoss + bound[i]
		if ucb < minUCB {
			minUCB = ucb
		}
	}

	eps := make([]float64, k)
	epsSum := 0.0

	for i, a := range e.arms {
		lcb := a.meanLoss - bound[i]
		gap := lcb - minUCB

		if gap < 0 {
			gap = 0
		}

		e1 := 0.5 / float64(k)
		e2 := 0.5 * math.Sqrt(math.Log(float64(k))/(float64(t)*float64(k)))

		e3 := math.Inf(1)
		if gap > 0 {
			e3 = e.beta * math.Log(float64(t)) / (float64(t) * gap * gap)
		}

		eps[i] = math.Min(e1, math.Min(e2, e3))
		epsSum += eps[i]
	}

	if epsSum > 1 {
		// Keep the mixture a valid distribution; scale down the floors.
		for i := range eps {
			eps[i] /= epsSum
		}

		epsSum = 1
	}

	tau := make([]float64, k)
	sum := 0.0

	for i := range tau {
		tau[i] = (1-epsSum)*w[i] + eps[i]
		sum += tau[i]
	}

	if sum < 1e-8 {
		for i := range tau {
			tau[i] = 1.0 / float64(k)
		}

		return tau
	}

	for i := range tau {
		tau[i] /= sum
	}

	return tau
}

func (e *Exp3PP) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(e.arms), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("exp3pp: all arms masked")
	}

	tau := e.trusts()

	sub := make([]float64, len(idx))
	for j, i := range idx {
		sub[j] = tau[i]
	}

	return idx[e.r.DiscreteWeighted(sub)], nil
}

func (e *Exp3PP) AddReward(armIdx int, reward float64) {
	tau := e.trusts()

	loss := (1 - reward) / math.Max(tau[armIdx], 1e-12)

	e.t++

	a := &e.arms[armIdx]
	a.pulls++
	a.unweighted += 1 - reward
	a.meanLoss = a.unweighted / float64(a.pulls)

	etas := make([]float64, len(e.arms))
	shifted := make([]float64, len(e.arms))
	minShift := math.Inf(1)

	for i := range e.arms {
		l := 0.0
		if i == armIdx {
			l = loss
		}

		eta := 1.0 / math.Sqrt(float64(e.t)+1)
		etas[i] = eta
		shifted[i] = -eta * l

		if shifted[i] < minShift {
			minShift = shifted[i]
		}
	}

	for i := range e.arms {
		e.arms[i].weight *= math.Exp(shifted[i] - minShift)
	}

	total := 0.0
	for _, a := range e.arms {
		total += a.weight
	}

	if total <= 0 {
		for i := range e.arms {
			e.arms[i].weight = 1
		}
	} else {
		for i := range e.arms {
			e.arms[i].weight /= total
		}
	}
}
