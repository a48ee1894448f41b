package mutate

import (
	"github.com/skeinforge/raretrace/internal/branchmask"
	"github.com/skeinforge/raretrace/internal/errors"
	"github.com/skeinforge/raretrace/internal/rng"
)

// SpliceCycles bounds how many partner candidates the splice stage tries
// before giving up cleanly (spec §4.I, §7 "Splice retry").
const SpliceCycles = 15

// QueuePicker returns a random other queue entry's bytes, or ok=false if
// none is available (e.g. only one entry in the queue).
type QueuePicker func(r *rng.Handle) (bytes []byte, ok bool)

// Attempt implements one splice-stage trigger (spec §4.I): find the first
// and last differing byte offsets between buf and a random partner over
// their common prefix, pick a split point in [first, last), and
// splice. It retries up to SpliceCycles times against fresh partners
// before giving up with SpliceExhausted.
func Attempt(r *rng.Handle, buf []byte, pick QueuePicker) ([]byte, *branchmask.Mask, error) {
	if len(buf) < 4 {
		return nil, nil, errors.SpliceExhausted(0)
	}

	for try := 0; try < SpliceCycles; try++ {
		partner, ok := pick(r)
		if !ok || len(partner) < 4 {
			continue
		}

		f, l := firstLastDiff(buf, partner)
		if f < 0 || l < 2 || f == l {
			continue
		}

		split := f + r.RandBelow(l-f)

		out := make([]byte, 0, split+len(partner)-split)
		out = append(out, buf[:split]...)
		out = append(out, partner[split:]...)

		return out, branchmask.NewPermissiveMask(len(out)), nil
	}

	return nil, nil, errors.SpliceExhausted(SpliceCycles)
}

// firstLastDiff returns the first and last offsets at which a and b
// differ over their common prefix, or (-1,-1) if they agree throughout it.
func firstLastDiff(a, b []byte) (int, int) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	first, last := -1, -1

	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if first < 0 {
				first = i
			}

			last = i
		}
	}

	return first, last
}
