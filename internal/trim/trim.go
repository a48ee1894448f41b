// Package trim implements the rare-branch-preserving trimmer: shrinking a
// queue input while holding a targeted branch hit, via an outer/inner
// removal-step loop over shrinking chunk sizes.
package trim

import (
	"context"

	"github.com/skeinforge/raretrace/internal/coverage"
)

// MinBytes is the smallest remove_len the trimmer will ever try; below
// this the marginal benefit of shrinking further isn't worth the extra
// executions.
const MinBytes = 4

// StartSteps divides the input length to produce the first remove_len.
const StartSteps = 16

// EndSteps divides the (shrinking) input length to produce the outer
// loop's termination bound (spec §4.D step 2: "while remove_len >=
// max(next_pow2(L)/TRIM_END_STEPS, TRIM_MIN_BYTES)"). Matches AFL++'s
// TRIM_END_STEPS.
const EndSteps = 1024

// Result reports what the trimmer did to an input.
type Result struct {
	Bytes       []byte
	Executions  int
	BytesRemoved int
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}

	return p
}

// Run shrinks buf while buf keeps hitting target, per a two-level loop:
// the outer loop halves remove_len until it drops below
// max(next_pow2(len(current))/EndSteps, MinBytes) — recomputed every pass
// against the current (possibly already-shrunk) length, per spec §4.D
// step 2 — the inner loop walks remove_len-sized windows across the
// buffer from the start forward, keeping a cut whenever the executor still
// reports status OK and still hits target. Inputs shorter than 5 bytes
// are returned unchanged. stopSoon is polled between executions so a
// campaign-wide interrupt can cut the loop short without losing the best
// trim found so far.
func Run(ctx context.Context, exec coverage.Executor, buf []byte, target coverage.BranchID, stopSoon func() bool) (Result, error) {
	if len(buf) < 5 {
		return Result{Bytes: buf}, nil
	}

	current := make([]byte, len(buf))
	copy(current, buf)

	execs := 0
	removeLen := nextPow2(len(current)) / StartSteps

	if removeLen < MinBytes {
		removeLen = MinBytes
	}

	for len(current) > 0 {
		endBound := nextPow2(len(current)) / EndSteps
		if endBound < MinBytes {
			endBound = MinBytes
		}

		if removeLen < endBound {
			break
		}

		if err := ctx.Err(); err != nil {
			return Result{Bytes: current, Executions: execs, BytesRemoved: len(buf) - len(current)}, nil
		}

		progressedThisPass := false

		pos := 0
		for pos < len(current) {
			if stopSoon != nil && stopSoon() {
				return Result{Bytes: current, Executions: execs, BytesRemoved: len(buf) - len(current)}, nil
			}

			end := pos + removeLen
			if end > len(current) {
				end = len(current)
			}

			// Never mutate current in place and re-slice it for the
			// candidate: build a fresh buffer so trimming one window
			// can't alias into the next window's bytes.
			candidate := make([]byte, 0, len(current)-(end-pos))
			candidate = append(candidate, current[:pos]...)
			candidate = append(candidate, current[end:]...)

			res, err := exec.Execute(candidate)
			execs++

			if err != nil {
				return Result{}, err
			}

			if res.Status == coverage.StatusOK && res.Hits(target) {
				current = candidate
				progressedThisPass = true
				// Stay at pos: the bytes that slid in need the same check.
				continue
			}

			pos += removeLen
		}

		if !progressedThisPass {
			removeLen /= 2
		}
	}

	return Result{Bytes: current, Executions: execs, BytesRemoved: len(buf) - len(current)}, nil
}
