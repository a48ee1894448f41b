// Package adwin implements the ADaptive WINdowing change detector (spec
// §3, §4.F, §8): an exponentially-bucketed sliding window over a binary
// reward stream that detects distribution change and sheds stale data.
package adwin

import "math"

const (
	// DefaultM is the maximum bucket count per node before compression.
	DefaultM = 5
	// DefaultDelta is the confidence parameter for the Hoeffding-style bound.
	DefaultDelta = 0.01
	// DefaultMinElemToCheck is ADWIN_MIN_ELEM_TO_CHECK.
	DefaultMinElemToCheck = 5
	// DefaultMinElemToStartDrop is ADWIN_MIN_ELEM_TO_START_DROP.
	DefaultMinElemToStartDrop = 5
	// DefaultDropInterval runs the change check on every Add.
	DefaultDropInterval = 1
)

// bucket holds the sum of the 2^k raw elements it represents.
type bucket struct {
	sum float64
}

// row groups buckets that each compress 2^k raw elements; rows[0] holds
// raw (uncompressed, 2^0=1-element) buckets.
type row struct {
	width2k int
	buckets []bucket // oldest (front) to newest (back)
}

// ADWIN is one adaptive window instance.
type ADWIN struct {
	M                  int
	Delta              float64
	MinElemToCheck     int
	MinElemToStartDrop int
	DropInterval       int
	AdaptiveResetting  bool

	rows           []row
	W              int
	sum            float64
	sinceLastCheck int
	lastChanged    bool
}

// Option configures a newly constructed ADWIN.
type Option func(*ADWIN)

// WithDelta overrides the confidence parameter.
func WithDelta(delta float64) Option { return func(a *ADWIN) { a.Delta = delta } }

// WithM overrides the per-node bucket capacity.
func WithM(m int) Option { return func(a *ADWIN) { a.M = m } }

// WithDropInterval overrides how often Add triggers a change check.
func WithDropInterval(n int) Option { return func(a *ADWIN) { a.DropInterval = n } }

// WithAdaptiveResetting makes change detection clear the whole window
// instead of expiring one bucket at a time.
func WithAdaptiveResetting() Option { return func(a *ADWIN) { a.AdaptiveResetting = true } }

// New returns an ADWIN with spec-default parameters, as overridden by opts.
func New(opts ...Option) *ADWIN {
	a := &ADWIN{
		M:                  DefaultM,
		Delta:              DefaultDelta,
		MinElemToCheck:     DefaultMinElemToCheck,
		MinElemToStartDrop: DefaultMinElemToStartDrop,
		DropInterval:       DefaultDropInterval,
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// Width returns W, the current window's element count.
func (a *ADWIN) Width() int { return a.W }

// Estimation returns sum/W, the running mean reward (0.5 on an empty window).
func (a *ADWIN) Estimation() float64 {
	if a.W == 0 {
		return 0.5
	}

	return a.sum / float64(a.W)
}

// ChangeDetected reports whether the most recent Add triggered a change
// (one or more bucket expirations, or a full reset).
func (a *ADWIN) ChangeDetected() bool { return a.lastChanged }

// Add appends a new element r (expected in {0,1}, but any float works)
// to the window, compresses buckets, and runs change detection every
// DropInterval adds.
func (a *ADWIN) Add(r float64) {
	a.insertRaw(r)
	a.W++
	a.sum += r
	a.compress()

	a.sinceLastCheck++
	a.lastChanged = false

	interval := a.DropInterval
	if interval <= 0 {
		interval = 1
	}

	if a.sinceLastCheck >= interval {
		a.sinceLastCheck = 0
		a.lastChanged = a.detectChange()
	}
}

func (a *ADWIN) insertRaw(r float64) {
	if len(a.rows) == 0 {
		a.rows = append(a.rows, row{width2k: 1})
	}

	a.rows[0].buckets = append(a.rows[0].buckets, bucket{sum: r})
}

// compress folds the two oldest buckets of any over-capacity node into one
// bucket of the next-larger node (spec §3, §4.F).
func (a *ADWIN) compress() {
	for k := 0; k < len(a.rows); k++ {
		if len(a.rows[k].buckets) <= a.M {
			continue
		}

		merged := bucket{sum: a.rows[k].buckets[0].sum + a.rows[k].buckets[1].sum}
		a.rows[k].buckets = a.rows[k].buckets[2:]

		if k+1 >= len(a.rows) {
			a.rows = append(a.rows, row{width2k: a.rows[k].width2k * 2})
		}

		a.rows[k+1].buckets = append(a.rows[k+1].buckets, merged)
	}
}

// flatEntry is one bucket flattened into chronological order (oldest
// first), carrying its represented element count and sum.
type flatEntry struct {
	n   int
	sum float64
}

// flatten returns all buckets oldest-to-newest. Row k+1 is chronologically
// older than row k as a whole (it is built by compressing row k's oldest
// data), and within a row, buckets are already oldest-to-newest, so
// walking rows from the highest index down yields global chronological
// order.
func (a *ADWIN) flatten() []flatEntry {
	out := make([]flatEntry, 0, a.W)

	for k := len(a.rows) - 1; k >= 0; k-- {
		for _, b := range a.rows[k].buckets {
			out = append(out, flatEntry{n: a.rows[k].width2k, sum: b.sum})
		}
	}

	return out
}

// detectChange implements the §4.F Hoeffding-style split test, expiring
// buckets one at a time (or resetting fully under AdaptiveResetting)
// until a pass finds no change. Returns true if any expiration/reset fired.
func (a *ADWIN) detectChange() bool {
	changed := false

	for {
		if !a.checkAndExpireOnce() {
			return changed
		}

		changed = true

		if a.AdaptiveResetting {
			return true
		}
	}
}

// checkAndExpireOnce scans cut points oldest-to-newest; on the first cut
// whose two sides differ by more than the Hoeffding-style bound, it
// expires the oldest bucket (or, under AdaptiveResetting, clears the whole
// window) and returns true.
func (a *ADWIN) checkAndExpireOnce() bool {
	n := a.W
	if n <= 1 {
		return false
	}

	u := a.sum / float64(n)
	if u <= 0 {
		u = 1e-9
	}

	if u >= 1 {
		u = 1 - 1e-9
	}

	dd2 := 2 * math.Log(2*math.Log(float64(n))/a.Delta)
	ddv2 := u * (1 - u) * dd2

	flat := a.flatten()

	var n0 int

	var s0 float64

	for i := 0; i < len(flat)-1; i++ {
		n0 += flat[i].n
		s0 += flat[i].sum
		n1 := n - n0
		s1 := a.sum - s0

		if n0 < a.MinElemToCheck || n1 < a.MinElemToCheck {
			continue
		}

		if n0 < a.MinElemToStartDrop {
			continue
		}

		m0 := float64(1 + n0 - a.MinElemToCheck)
		m1 := float64(1 + n1 - a.MinElemToCheck)

		bound := math.Sqrt(ddv2*(1/m0+1/m1)) + dd2/3*(1/m0+1/m1)

		mean0 := s0 / float64(n0)
		mean1 := s1 / float64(n1)

		if math.Abs(mean0-mean1) > bound {
			if a.AdaptiveResetting {
				a.Reset()
			} else {
				a.expireOldestBucket()
			}

			return true
		}
	}

	return false
}

// expireOldestBucket drops the single oldest bucket (the front of the
// highest-indexed non-empty row), deducting its sum from `sum` and its
// represented element count from W, per spec §4.F.
func (a *ADWIN) expireOldestBucket() {
	for k := len(a.rows) - 1; k >= 0; k-- {
		if len(a.rows[k].buckets) == 0 {
			continue
		}

		oldest := a.rows[k].buckets[0]
		a.rows[k].buckets = a.rows[k].buckets[1:]
		a.sum -= oldest.sum
		a.W -= a.rows[k].width2k

		a.trimEmptyTail()

		return
	}
}

func (a *ADWIN) trimEmptyTail() {
	for len(a.rows) > 0 && len(a.rows[len(a.rows)-1].buckets) == 0 {
		a.rows = a.rows[:len(a.rows)-1]
	}
}

// Reset clears the window entirely (the AdaptiveResetting change response).
func (a *ADWIN) Reset() {
	a.rows = nil
	a.W = 0
	a.sum = 0
}

// invariantCheck recomputes W and sum from the bucket structure; exposed
// for tests asserting the spec §8 ADWIN invariant.
func (a *ADWIN) invariantCheck() (wantW int, wantSum float64) {
	for _, rw := range a.rows {
		for _, b := range rw.buckets {
			wantW += rw.width2k
			wantSum += b.sum
		}
	}

	return wantW, wantSum
}
