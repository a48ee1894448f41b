package rarebranch

import (
	"testing"

	"github.com/skeinforge/raretrace/internal/coverage"
)

func TestSelectForInputPrefersRarestHitByInput(t *testing.T) {
	hb := coverage.NewHitBits(8)

	// Branch 0: hit once (rare). Branch 1: hit many times (common).
	hb.Increment(0)

	for i := 0; i < 40; i++ {
		hb.Increment(1)
	}

	s := New(hb, coverage.RareBranchBitwidth)

	trace := coverage.NewBitset(8)
	trace.Set(0)
	trace.Set(1)

	ids, err := s.SelectForInput(trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ids) != 1 || ids[0] != 0 {
		t.Fatalf("expected only branch 0 selected as rare, got %v", ids)
	}
}

func TestSelectForInputSkipsBlacklisted(t *testing.T) {
	hb := coverage.NewHitBits(8)
	hb.Increment(2)

	s := New(hb, coverage.RareBranchBitwidth)
	s.Blacklist(2)

	trace := coverage.NewBitset(8)
	trace.Set(2)

	ids, err := s.SelectForInput(trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ids) != 0 {
		t.Fatalf("expected blacklisted branch excluded, got %v", ids)
	}
}

func TestSelectForInputEmptyWhenInputMissesRareBranches(t *testing.T) {
	hb := coverage.NewHitBits(8)
	hb.Increment(3)

	s := New(hb, coverage.RareBranchBitwidth)

	trace := coverage.NewBitset(8)
	// Input's trace_mini never hit branch 3.

	ids, err := s.SelectForInput(trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ids) != 0 {
		t.Fatalf("expected no candidates when input misses all rare branches, got %v", ids)
	}
}

func TestSelectForInputOrdersAscendingByHitCount(t *testing.T) {
	hb := coverage.NewHitBits(8)
	// Both branches share highest-order bit 1 (2 and 3 hits), so both
	// stay rare and only the hit-count sort decides their order.
	hb.Increment(0)
	hb.Increment(0)

	for i := 0; i < 3; i++ {
		hb.Increment(1)
	}

	s := New(hb, coverage.RareBranchBitwidth)

	trace := coverage.NewBitset(8)
	trace.Set(0)
	trace.Set(1)

	ids, err := s.SelectForInput(trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("expected [0,1] ascending by hit count, got %v", ids)
	}
}

func TestFirstUnfuzzedSkipsAlreadyFuzzedBranches(t *testing.T) {
	q := coverage.NewQueueInput(1, []byte("x"), nil)
	q.MarkBranchFuzzed(5)

	id, already, ok := FirstUnfuzzed(q, []coverage.BranchID{5, 7})
	if !ok {
		t.Fatalf("expected ok=true")
	}

	if already {
		t.Fatalf("expected branch 7 to be picked as not-yet-fuzzed")
	}

	if id != 7 {
		t.Fatalf("expected branch 7 selected, got %d", id)
	}
}

func TestFirstUnfuzzedFallsBackWhenAllFuzzed(t *testing.T) {
	q := coverage.NewQueueInput(1, []byte("x"), nil)
	q.MarkBranchFuzzed(5)
	q.MarkBranchFuzzed(7)

	id, already, ok := FirstUnfuzzed(q, []coverage.BranchID{5, 7})
	if !ok {
		t.Fatalf("expected ok=true")
	}

	if !already {
		t.Fatalf("expected alreadyFuzzed=true when every candidate was fuzzed")
	}

	if id != 5 {
		t.Fatalf("expected rarest candidate 5 returned, got %d", id)
	}
}

func TestFirstUnfuzzedNoCandidates(t *testing.T) {
	q := coverage.NewQueueInput(1, []byte("x"), nil)

	_, _, ok := FirstUnfuzzed(q, nil)
	if ok {
		t.Fatalf("expected ok=false with no candidates")
	}
}
