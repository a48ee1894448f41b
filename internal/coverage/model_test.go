package coverage

import "testing"

func TestHitBitsIncrementAndGet(t *testing.T) {
	h := NewHitBits(16)
	h.Increment(3)
	h.Increment(3)
	h.Increment(5)

	if got := h.Get(3); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}

	if got := h.Get(5); got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}

	snap := h.Snapshot()
	if len(snap) != 16 {
		t.Fatalf("expected snapshot length 16, got %d", len(snap))
	}
}

func TestQueueInputFuzzedBranchTracking(t *testing.T) {
	q := NewQueueInput(1, []byte("abc"), NewBitset(8))
	if q.HasBeenFuzzedAgainst(4) {
		t.Fatalf("fresh input should not be marked fuzzed")
	}

	q.MarkBranchFuzzed(4)

	if !q.HasBeenFuzzedAgainst(4) {
		t.Fatalf("expected branch 4 marked fuzzed")
	}
}

func TestBitsetSetTestEach(t *testing.T) {
	b := NewBitset(130)
	b.Set(0)
	b.Set(64)
	b.Set(129)

	if !b.Test(64) || !b.Test(129) || b.Test(63) {
		t.Fatalf("bitset Test mismatch")
	}

	var seen []int

	b.Each(func(i int) { seen = append(seen, i) })

	if len(seen) != 3 {
		t.Fatalf("expected 3 set bits, got %d: %v", len(seen), seen)
	}

	if b.PopCount() != 3 {
		t.Fatalf("expected popcount 3, got %d", b.PopCount())
	}
}

func TestHash64StableAndSeedSensitive(t *testing.T) {
	data := []byte("IHDR")

	a := Hash64(data, 1)
	b := Hash64(data, 1)

	if a != b {
		t.Fatalf("Hash64 must be deterministic for same input and seed")
	}

	c := Hash64(data, 2)
	if a == c {
		t.Fatalf("Hash64 should (overwhelmingly likely) differ across seeds")
	}
}
