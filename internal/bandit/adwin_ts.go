package bandit

import (
	"github.com/skeinforge/raretrace/internal/bandit/adwin"
	"github.com/skeinforge/raretrace/internal/errors"
	"github.com/skeinforge/raretrace/internal/rng"
)

// ADWINThompson implements adsts (spec §4.E, §3 "Bandit Arm (ADWIN)"):
// like Thompson Sampling, but rewards_i and num_selected_i are estimated
// from a per-arm ADWIN window instead of lifetime accumulators, so a
// non-stationary reward process forgets stale history automatically.
type ADWINThompson struct {
	windows []*adwin.ADWIN
	r       *rng.Handle
}

// NewADWINThompson returns an adsts bandit over n arms; opts configures
// each arm's ADWIN instance identically.
func NewADWINThompson(n int, r *rng.Handle, opts ...adwin.Option) *ADWINThompson {
	windows := make([]*adwin.ADWIN, n)
	for i := range windows {
		windows[i] = adwin.New(opts...)
	}

	return &ADWINThompson{windows: windows, r: r}
}

func (a *ADWINThompson) NumArms() int { return len(a.windows) }

func (a *ADWINThompson) SelectArm(mask []bool) (int, error) {
	idx := unmaskedIndices(len(a.windows), mask)
	if len(idx) == 0 {
		return 0, errors.IterationSkip("adsts: all arms masked")
	}

	best, bestSample := idx[0], -1.0

	for _, i := range idx {
		w := a.windows[i]
		n := float64(w.Width())
		rewards := w.Estimation() * n
		failures := n - rewards

		if failures < 0 {
			failures = 0
		}

		sample := a.r.Beta(rewards+1, failures+1)
		if sample > bestSample {
			best, bestSample = i, sample
		}
	}

	return best, nil
}

func (a *ADWINThompson) AddReward(armIdx int, reward float64) {
	a.windows[armIdx].Add(reward)
}

// ChangeDetected reports whether arm i's last Add triggered an ADWIN
// change (useful for the outer campaign to log non-stationarity events).
func (a *ADWINThompson) ChangeDetected(armIdx int) bool {
	return a.windows[armIdx].ChangeDetected()
}
