package trim

import (
	"bytes"
	"context"
	"testing"

	"github.com/skeinforge/raretrace/internal/coverage"
)

// fakeExecutor hits target iff buf still contains the needle.
type fakeExecutor struct {
	needle []byte
	target coverage.BranchID
}

func (f *fakeExecutor) Execute(buf []byte) (coverage.ExecResult, error) {
	tm := coverage.NewBitset(8)
	if bytes.Contains(buf, f.needle) {
		tm.Set(int(f.target))
	}

	return coverage.ExecResult{Status: coverage.StatusOK, TraceMini: tm}, nil
}

func TestRunShrinksWhileKeepingNeedle(t *testing.T) {
	needle := []byte("NEEDLE")
	buf := append(append(bytes.Repeat([]byte{'A'}, 40), needle...), bytes.Repeat([]byte{'B'}, 40)...)

	exec := &fakeExecutor{needle: needle, target: 3}

	res, err := Run(context.Background(), exec, buf, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Contains(res.Bytes, needle) {
		t.Fatalf("expected trimmed output to still contain needle, got %q", res.Bytes)
	}

	if len(res.Bytes) >= len(buf) {
		t.Fatalf("expected trimming to shrink input, got len %d from %d", len(res.Bytes), len(buf))
	}
}

func TestRunLeavesShortInputsUnchanged(t *testing.T) {
	buf := []byte("abcd")

	exec := &fakeExecutor{needle: []byte("abcd"), target: 0}

	res, err := Run(context.Background(), exec, buf, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(res.Bytes, buf) {
		t.Fatalf("expected input under 5 bytes untouched, got %q", res.Bytes)
	}

	if res.Executions != 0 {
		t.Fatalf("expected zero executions for untrimmable input, got %d", res.Executions)
	}
}

func TestRunStopsEarlyWhenStopSoonFires(t *testing.T) {
	needle := []byte("NEEDLE")
	buf := append(append(bytes.Repeat([]byte{'A'}, 40), needle...), bytes.Repeat([]byte{'B'}, 40)...)

	exec := &fakeExecutor{needle: needle, target: 3}

	calls := 0
	stopSoon := func() bool {
		calls++
		return calls > 2
	}

	res, err := Run(context.Background(), exec, buf, 3, stopSoon)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Executions >= len(buf) {
		t.Fatalf("expected early stop to cap executions well below full scan, got %d", res.Executions)
	}
}

func TestRunNeverAliasesInputAcrossCandidates(t *testing.T) {
	original := []byte("0123456789abcdef0123456789abcdef")
	snapshot := append([]byte(nil), original...)

	exec := &fakeExecutor{needle: []byte("ZZZZ"), target: 9} // never matches, so trimmer can't shrink

	_, err := Run(context.Background(), exec, original, 9, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(original, snapshot) {
		t.Fatalf("expected Run to never mutate caller's buffer in place")
	}
}
