package mutate

import (
	"testing"

	"github.com/skeinforge/raretrace/internal/bandit"
	"github.com/skeinforge/raretrace/internal/branchmask"
	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/rng"
)

type alwaysOKExecutor struct{}

func (alwaysOKExecutor) Execute(buf []byte) (coverage.ExecResult, error) {
	return coverage.ExecResult{Status: coverage.StatusOK}, nil
}

func TestHavocRunRespectsMinimumStageLength(t *testing.T) {
	r := rng.NewSeeded(4)
	opBandit := bandit.NewUniform(NumOperators, r)
	stackBandit := bandit.NewUniform(4, r)

	stats, err := RunHavoc(alwaysOKExecutor{}, []byte("hello world"), r, opBandit, stackBandit,
		HavocOptions{PerfScore: 0, HavocDiv: 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Executions == 0 {
		t.Fatalf("expected at least HavocMin iterations to attempt an execution")
	}
}

func maskWithOverwriteRange(length, lo, hi int) *branchmask.Mask {
	m := branchmask.NewMask(length)
	for i := lo; i < hi; i++ {
		m.SetOverwrite(i)
	}

	return m
}

func TestHavocMaskConstrainsModifiedBytesToOverwriteRange(t *testing.T) {
	const length = 30

	original := make([]byte, length)
	for i := range original {
		original[i] = byte(i)
	}

	mask := maskWithOverwriteRange(length, 5, 16)
	opts := HavocOptions{Mask: mask, QueueCycle: 1}

	r := rng.NewSeeded(7)

	overwriteOps := []int{
		OpFlipBit1, OpInteresting8, OpInteresting16LE, OpInteresting16BE,
		OpInteresting32LE, OpInteresting32BE, OpArith8, OpArith16LE,
		OpArith16BE, OpArith32LE, OpArith32BE, OpRand8XOR, OpOverwriteSameByte,
	}

	for i := 0; i < 10000; i++ {
		candidate := make([]byte, length)
		copy(candidate, original)

		op := overwriteOps[r.RandBelow(len(overwriteOps))]
		applyOperator(r, op, &candidate, opts)

		if len(candidate) != length {
			t.Fatalf("overwrite-only operators must not resize the buffer, got len %d", len(candidate))
		}

		for j := 0; j < length; j++ {
			if candidate[j] != original[j] && (j < 5 || j >= 16) {
				t.Fatalf("iteration %d: operator %d modified byte %d outside mask range [5,16)", i, op, j)
			}
		}
	}
}

// recordingHavocExecutor captures every candidate RunHavoc dispatches, so
// size-changing operators (which mutate opts.Mask via Mask.Splice) can be
// checked for mask drift across iterations, not just single applyOperator
// calls.
type recordingHavocExecutor struct {
	seen [][]byte
}

func (r *recordingHavocExecutor) Execute(buf []byte) (coverage.ExecResult, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	r.seen = append(r.seen, cp)

	return coverage.ExecResult{Status: coverage.StatusOK}, nil
}

// TestHavocFullLoopNeverDesyncsMaskAcrossIterations drives RunHavoc's real
// iteration loop (spec §8 Concrete Scenario 6: "after 10000 havoc
// iterations") with the full operator set, including the size-changing
// operators (clone/insert/delete) that mutate opts.Mask via Mask.Splice.
// Without resetting opts.Mask from orig_branch_mask at the top of every
// iteration, a size-changing pick in an early iteration permanently grows
// or shrinks the shared mask, and a later iteration samples a position
// past the restored-length candidate buffer, panicking on an
// index-out-of-range or negative-length slice. This must run to
// completion without panicking, and every length-preserving candidate
// must keep its untouched bytes outside the mask's overwrite range.
func TestHavocFullLoopNeverDesyncsMaskAcrossIterations(t *testing.T) {
	const length = 30
	const lo, hi = 5, 16

	original := make([]byte, length)
	for i := range original {
		original[i] = byte(i)
	}

	mask := branchmask.NewMask(length)
	for i := lo; i < hi; i++ {
		mask.SetOverwrite(i)
		mask.SetDelete(i)
		mask.SetInsert(i)
	}

	mask.SetInsert(length) // trailing append position always legal, spec §3.

	rec := &recordingHavocExecutor{}
	r := rng.NewSeeded(11)
	opBandit := bandit.NewUniform(NumOperators, r)
	stackBandit := bandit.NewUniform(4, r)

	opts := HavocOptions{
		Mask:       mask,
		QueueCycle: 2,
		PerfScore:  4000, // stage_max = HAVOC_CYCLES*4000/1/100 > 10000 iterations
		HavocDiv:   1,
	}

	stats, err := RunHavoc(rec, original, r, opBandit, stackBandit, opts, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Executions == 0 {
		t.Fatalf("expected at least some iterations to apply a legal operator")
	}

	for i, cand := range rec.seen {
		if len(cand) > MaxFile {
			t.Fatalf("candidate %d escaped MAX_FILE bound: len %d", i, len(cand))
		}

		if len(cand) != length {
			continue // a size-changing op fired; position-by-position comparison doesn't apply.
		}

		for j := 0; j < length; j++ {
			if cand[j] != original[j] && (j < lo || j >= hi) {
				t.Fatalf("candidate %d: byte %d modified outside mask range [%d,%d): %v", i, j, lo, hi, cand)
			}
		}
	}
}

func TestChooseBlockLenAlwaysPositive(t *testing.T) {
	r := rng.NewSeeded(3)

	for i := 0; i < 1000; i++ {
		n := chooseBlockLen(r, 100, i%5)
		if n < 1 {
			t.Fatalf("expected chooseBlockLen >= 1, got %d", n)
		}
	}
}

func TestSpliceBufInsertAndDelete(t *testing.T) {
	buf := []byte("hello world")

	inserted := spliceBuf(buf, 5, 0, []byte("XXX"))
	if string(inserted) != "helloXXX world" {
		t.Fatalf("unexpected insert result: %q", inserted)
	}

	deleted := spliceBuf(buf, 0, 6, nil)
	if string(deleted) != "world" {
		t.Fatalf("unexpected delete result: %q", deleted)
	}
}
