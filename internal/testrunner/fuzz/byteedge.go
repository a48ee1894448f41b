// Package fuzz wires the mutation/scheduling core into a runnable
// campaign: a synthetic byte-level coverage executor plus the
// duration/execution-bounded, single-loop driver a CLI front-end calls into.
package fuzz

import (
	"fmt"

	"github.com/skeinforge/raretrace/internal/coverage"
)

// MapSize is the synthetic coverage bitmap width: large enough that two
// unrelated byte-pair transitions rarely collide, small enough to stay
// cheap to allocate per execution.
const MapSize = 1 << 16

// Target is the user-supplied function under test. A non-nil error or a
// recovered panic is treated as a crash.
type Target func(data []byte) error

// ByteEdgeExecutor derives AFL-style edge coverage from the raw bytes of
// the input itself rather than from real instrumentation: each adjacent
// byte pair (prev, cur) hashes to a branch id, giving the core something
// coverage-shaped to target when the caller has no instrumented binary,
// while still running the real target function for crash detection.
type ByteEdgeExecutor struct {
	target  Target
	hitBits *coverage.HitBits
}

// NewByteEdgeExecutor returns an executor over target, recording hits
// into hitBits (shared process-wide, per the core's data model).
func NewByteEdgeExecutor(target Target, hitBits *coverage.HitBits) *ByteEdgeExecutor {
	return &ByteEdgeExecutor{target: target, hitBits: hitBits}
}

func edgeID(prev, cur byte) coverage.BranchID {
	return coverage.BranchID(uint32(prev)<<8|uint32(cur)) % MapSize
}

// Execute runs target once, derives the byte-pair trace, increments the
// shared hit-bits table for each edge seen, and reports status by
// classifying a returned error or recovered panic as a crash.
func (e *ByteEdgeExecutor) Execute(buf []byte) (res coverage.ExecResult, err error) {
	mini := coverage.NewBitset(MapSize)
	traceBits := make([]byte, MapSize)

	var prev byte

	for _, b := range buf {
		id := edgeID(prev, b)
		mini.Set(int(id))

		if traceBits[id] < 255 {
			traceBits[id]++
		}

		e.hitBits.Increment(id)
		prev = b
	}

	status := coverage.StatusOK

	func() {
		defer func() {
			if r := recover(); r != nil {
				status = coverage.StatusCrash
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		if terr := e.target(buf); terr != nil {
			status = coverage.StatusCrash
		}
	}()

	return coverage.ExecResult{Status: status, TraceBits: traceBits, TraceMini: mini}, nil
}
