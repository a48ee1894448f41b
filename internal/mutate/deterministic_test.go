package mutate

import (
	"testing"

	"github.com/skeinforge/raretrace/internal/coverage"
)

// ihdrExecutor returns a fixed "baseline" trace for every input, except
// that flipping the LSB of any byte outside the four magic positions
// flips a marker bit in the trace, simulating those bytes being
// meaningfully inspected while I,H,D,R are copied through untouched.
type ihdrExecutor struct {
	base    []byte
	magicAt map[int]bool
}

func (e *ihdrExecutor) Execute(buf []byte) (coverage.ExecResult, error) {
	trace := make([]byte, 1)

	for i, b := range buf {
		if i >= len(e.base) {
			continue
		}

		if b != e.base[i] && !e.magicAt[i] {
			trace[0] ^= byte(i + 1)
		}
	}

	return coverage.ExecResult{Status: coverage.StatusOK, TraceBits: trace}, nil
}

func TestSingleBitWalkInducesIHDRAutoExtra(t *testing.T) {
	input := []byte("xxxxIHDRxxxx")
	magic := map[int]bool{4: true, 5: true, 6: true, 7: true}

	exec := &ihdrExecutor{base: input, magicAt: magic}

	auto := NewDictionary()

	_, _, _, err := RunDeterministic(exec, input, Options{}, nil, auto, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false

	for i := 0; i < auto.Len(); i++ {
		if string(auto.At(i)) == "IHDR" {
			found = true
		}
	}

	if !found {
		t.Fatalf("expected auto-extra %q to be induced, got entries: %v", "IHDR", dumpDict(auto))
	}
}

func dumpDict(d *Dictionary) []string {
	out := make([]string, d.Len())
	for i := range out {
		out[i] = string(d.At(i))
	}

	return out
}

func TestEffectorMapCollapsesWhenDense(t *testing.T) {
	e := NewEffectorMap(20)
	for i := 0; i < 19; i++ {
		_ = i // all stay effector
	}

	e.MarkNonEffector(0)
	e.CollapseIfDense()

	if !e.IsEffector(0) {
		t.Fatalf("expected dense map (95%% effector) to collapse to all-true")
	}
}

func TestEffectorMapStaysSparseWhenNotDense(t *testing.T) {
	e := NewEffectorMap(10)
	for i := 0; i < 5; i++ {
		e.MarkNonEffector(i)
	}

	e.CollapseIfDense()

	if e.IsEffector(0) {
		t.Fatalf("expected sparse map to stay uncollapsed")
	}
}
