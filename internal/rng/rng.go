// Package rng provides the seeded RNG handle the fuzzing core threads
// through rand_below, Beta, and discrete-categorical sampling (spec §6).
package rng

import (
	"math"
	"math/rand"
)

// Handle is the core's RNG handle. It wraps math/rand.Rand (the core's
// hot path needs a non-cryptographic, fast, seedable generator). New
// seeds it from an OS CSPRNG via seedFromOS rather than trusting
// wall-clock alone; NewSeeded takes an explicit seed.
type Handle struct {
	r *rand.Rand
}

// New returns a Handle seeded from the OS CSPRNG.
func New() *Handle {
	return &Handle{r: rand.New(rand.NewSource(seedFromOS()))}
}

// NewSeeded returns a Handle with an explicit, reproducible seed.
func NewSeeded(seed int64) *Handle {
	return &Handle{r: rand.New(rand.NewSource(seed))}
}

// RandBelow returns a uniform value in [0, n). Panics if n <= 0, matching
// the precondition every call site in this module already guarantees.
func (h *Handle) RandBelow(n int) int {
	if n <= 0 {
		panic("rng: RandBelow requires n > 0")
	}

	return h.r.Intn(n)
}

// Float64 returns a uniform value in [0, 1).
func (h *Handle) Float64() float64 {
	return h.r.Float64()
}

// Bool returns true with probability p, clamped to [0, 1].
func (h *Handle) Bool(p float64) bool {
	if p <= 0 {
		return false
	}

	if p >= 1 {
		return true
	}

	return h.r.Float64() < p
}

// Bytes fills b with uniform random bytes.
func (h *Handle) Bytes(b []byte) {
	h.r.Read(b) //nolint:errcheck // math/rand.Rand.Read never errors
}

// Beta samples from a Beta(alpha, beta) distribution via two Gamma draws,
// the standard construction used by Thompson Sampling and its discounted
// variants (spec §4.E).
func (h *Handle) Beta(alpha, beta float64) float64 {
	if alpha <= 0 {
		alpha = 1e-9
	}

	if beta <= 0 {
		beta = 1e-9
	}

	x := h.gamma(alpha)
	y := h.gamma(beta)

	if x+y == 0 {
		return 0.5
	}

	return x / (x + y)
}

// gamma draws from Gamma(shape, 1) using Marsaglia-Tsang for shape >= 1,
// and a boosting transform for shape < 1.
func (h *Handle) gamma(shape float64) float64 {
	if shape < 1 {
		u := h.r.Float64()

		return h.gamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)

	for {
		var x, v float64

		for {
			x = h.r.NormFloat64()
			v = 1 + c*x

			if v > 0 {
				break
			}
		}

		v = v * v * v
		u := h.r.Float64()

		if u < 1-0.0331*x*x*x*x {
			return d * v
		}

		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// DiscreteWeighted samples an index in [0, len(weights)) with probability
// proportional to weights[i]. Weights must be non-negative; if they sum to
// zero or less the draw is uniform. Used by the DBE, Exp3-IX and Exp3-PP
// categorical arm draws (spec §4.E).
func (h *Handle) DiscreteWeighted(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}

	if total <= 0 {
		return h.RandBelow(len(weights))
	}

	target := h.r.Float64() * total

	acc := 0.0
	for i, w := range weights {
		acc += w
		if target < acc {
			return i
		}
	}

	return len(weights) - 1
}
