package fuzzone

import (
	"context"
	"testing"

	"github.com/skeinforge/raretrace/internal/bandit"
	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/mutate"
	"github.com/skeinforge/raretrace/internal/rng"
)

type stubExecutor struct{}

func (stubExecutor) Execute(buf []byte) (coverage.ExecResult, error) {
	return coverage.ExecResult{Status: coverage.StatusOK, TraceBits: buf}, nil
}

type stubQueue struct{ size int }

func (s stubQueue) QueueSize() int { return s.size }
func (s stubQueue) RandomOther(r *rng.Handle, exclude *coverage.QueueInput) ([]byte, bool) {
	return nil, false
}

type stubTrimmer struct{}

func (stubTrimmer) TrimCase(ctx context.Context, exec coverage.Executor, buf []byte) ([]byte, error) {
	return buf, nil
}

type stubCalibrator struct{ ok bool }

func (s stubCalibrator) Calibrate(ctx context.Context, exec coverage.Executor, buf []byte) bool {
	return s.ok
}

type stubScorer struct{}

func (stubScorer) Score(q *coverage.QueueInput) float64 { return 1.0 }

type stubAutoExtras struct{}

func (stubAutoExtras) MaybeAddAuto(token []byte) {}

func newTestDriver(t *testing.T, cfg Config) (*Driver, *coverage.HitBits) {
	t.Helper()

	hb := coverage.NewHitBits(16)
	r := rng.NewSeeded(1)

	deps := Deps{
		Executor:       stubExecutor{},
		HitBits:        hb,
		Queue:          stubQueue{size: 1},
		Trimmer:        stubTrimmer{},
		Calibrator:     stubCalibrator{ok: true},
		Scorer:         stubScorer{},
		AutoExtras:     stubAutoExtras{},
		RNG:            r,
		OperatorBandit: bandit.NewUniform(mutate.NumOperators, r),
		StackingBandit: bandit.NewUniform(4, r),
	}

	return NewDriver(deps, cfg, 0), hb
}

func TestFuzzOneSkipsWhenNoRareBranchAvailable(t *testing.T) {
	d, _ := newTestDriver(t, Config{})

	q := coverage.NewQueueInput(1, []byte("hello world"), coverage.NewBitset(16))

	stats, err := d.FuzzOne(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Outcome != OutcomeSkipped {
		t.Fatalf("expected skip when hit-bits table is empty, got %v", stats.Outcome)
	}
}

func TestFuzzOneRunsVanillaAFLWithoutRareBranch(t *testing.T) {
	d, _ := newTestDriver(t, Config{VanillaAFL: true, DisableTrim: true})

	q := coverage.NewQueueInput(1, []byte("hello world"), coverage.NewBitset(16))

	stats, err := d.FuzzOne(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Outcome != OutcomeOK {
		t.Fatalf("expected vanilla mode to complete, got %v", stats.Outcome)
	}

	if stats.RareBranchMode {
		t.Fatalf("expected vanilla AFL mode to skip rare-branch targeting")
	}
}

func TestFuzzOneSkipsOnCalibrationFailure(t *testing.T) {
	hb := coverage.NewHitBits(16)
	hb.Increment(3)

	r := rng.NewSeeded(1)
	deps := Deps{
		Executor:       stubExecutor{},
		HitBits:        hb,
		Queue:          stubQueue{size: 1},
		Trimmer:        stubTrimmer{},
		Calibrator:     stubCalibrator{ok: false},
		Scorer:         stubScorer{},
		AutoExtras:     stubAutoExtras{},
		RNG:            r,
		OperatorBandit: bandit.NewUniform(mutate.NumOperators, r),
		StackingBandit: bandit.NewUniform(4, r),
	}

	d := NewDriver(deps, Config{VanillaAFL: true}, 0)

	q := coverage.NewQueueInput(1, []byte("hello world"), coverage.NewBitset(16))

	stats, err := d.FuzzOne(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Outcome != OutcomeSkipped {
		t.Fatalf("expected calibration failure to skip the entry")
	}
}
