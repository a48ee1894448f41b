// Package fuzzone orchestrates one fuzz_one pass over a queue entry:
// rare-branch selection, trimming, performance scoring, and the
// deterministic/havoc/splice pipeline (spec §4.J).
package fuzzone

import (
	"context"

	"github.com/skeinforge/raretrace/internal/bandit"
	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/mutate"
	"github.com/skeinforge/raretrace/internal/rng"
)

// QueueSource supplies queue entries and their bytes.
type QueueSource interface {
	// QueueSize reports the live entry count (used for splice eligibility).
	QueueSize() int
	// RandomOther returns a random entry distinct from exclude, or ok=false
	// if none is available.
	RandomOther(r *rng.Handle, exclude *coverage.QueueInput) (bytes []byte, ok bool)
}

// TrimCaller runs the standard (non-rare-branch) trimmer; defined
// externally since ordinary trimming doesn't need a target branch.
type TrimCaller interface {
	TrimCase(ctx context.Context, exec coverage.Executor, buf []byte) ([]byte, error)
}

// Calibrator (re)confirms an entry's exec_us/bitmap_size are stable.
type Calibrator interface {
	Calibrate(ctx context.Context, exec coverage.Executor, buf []byte) (ok bool)
}

// PerfScorer computes the performance score driving havoc's iteration count.
type PerfScorer interface {
	Score(q *coverage.QueueInput) float64
}

// AutoExtraSink receives dictionary-induction commits.
type AutoExtraSink interface {
	MaybeAddAuto(token []byte)
}

// Outcome is fuzz_one's public result (spec §6 "fuzz_one(state) →
// {0:ok, 1:skipped/bailed}").
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSkipped
)

// Deps bundles every external collaborator fuzz_one needs, so Driver's
// constructor signature stays stable as the set of knobs grows.
type Deps struct {
	Executor   coverage.Executor
	HitBits    *coverage.HitBits
	Queue      QueueSource
	Trimmer    TrimCaller
	Calibrator Calibrator
	Scorer     PerfScorer
	AutoExtras AutoExtraSink
	RNG        *rng.Handle

	OperatorBandit bandit.Bandit
	StackingBandit bandit.Bandit

	UserDict *mutate.Dictionary
	AutoDict *mutate.Dictionary

	IsNewCoverage mutate.NewCoverageFunc
}
