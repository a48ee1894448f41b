package bandit

import (
	"math"
	"testing"

	"github.com/skeinforge/raretrace/internal/rng"
)

func TestUCB1FirstThreeSelectionsInOrder(t *testing.T) {
	u := NewUCB1(3)
	rewards := []float64{0.1, 0.5, 0.9}

	for i := 0; i < 3; i++ {
		arm, err := u.SelectArm(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if arm != i {
			t.Fatalf("expected arm %d selected first, got %d", i, arm)
		}

		u.AddReward(arm, rewards[arm])
	}
}

func TestUCB1ConvergesToBestArmByStep100(t *testing.T) {
	u := NewUCB1(3)
	rewards := []float64{0.1, 0.5, 0.9}
	r := rng.NewSeeded(99)

	counts := make([]int, 3)

	for i := 0; i < 100; i++ {
		arm, err := u.SelectArm(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		counts[arm]++

		reward := 0.0
		if r.Float64() < rewards[arm] {
			reward = 1
		}

		u.AddReward(arm, reward)
	}

	if counts[2] < counts[0] || counts[2] < counts[1] {
		t.Fatalf("expected arm 2 (highest reward) to be pulled most by step 100, got %v", counts)
	}
}

func TestUniformMaskExcludesArms(t *testing.T) {
	r := rng.NewSeeded(1)
	u := NewUniform(3, r)
	mask := []bool{false, true, false}

	for i := 0; i < 100; i++ {
		arm, err := u.SelectArm(mask)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if arm != 1 {
			t.Fatalf("expected only arm 1 selectable, got %d", arm)
		}
	}
}

func TestUniformAllMaskedReturnsError(t *testing.T) {
	r := rng.NewSeeded(1)
	u := NewUniform(2, r)

	if _, err := u.SelectArm([]bool{false, false}); err == nil {
		t.Fatalf("expected error when all arms masked")
	}
}

func TestExp3PPTrustsSumToOne(t *testing.T) {
	for _, k := range []int{2, 3, 8} {
		r := rng.NewSeeded(int64(k))
		e := NewExp3PP(k, r, Exp3PPOptions{})

		for i := 0; i < 2000; i++ {
			arm, err := e.SelectArm(nil)
			if err != nil {
				t.Fatalf("k=%d: unexpected error: %v", k, err)
			}

			reward := 0.0
			if r.Float64() < 0.3 {
				reward = 1
			}

			e.AddReward(arm, reward)

			tau := e.trusts()
			sum := 0.0

			for _, v := range tau {
				sum += v

				if v < 0 {
					t.Fatalf("k=%d: negative trust %v", k, v)
				}
			}

			if math.Abs(sum-1) > 1e-6 {
				t.Fatalf("k=%d: trust sum %v diverged from 1", k, sum)
			}
		}
	}
}

func TestExp3IXWeightsStayNormalized(t *testing.T) {
	r := rng.NewSeeded(5)
	e := NewExp3IX(4, r)

	for i := 0; i < 500; i++ {
		arm, err := e.SelectArm(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		reward := 0.0
		if r.Float64() < 0.5 {
			reward = 1
		}

		e.AddReward(arm, reward)
	}

	total := 0.0
	for _, w := range e.weights {
		if w < 0 {
			t.Fatalf("negative weight")
		}

		total += w
	}

	if math.Abs(total-1) > 1e-6 {
		t.Fatalf("expected weights to sum to 1, got %v", total)
	}
}

func TestDiscountedThompsonBiasesTowardHigherReward(t *testing.T) {
	r := rng.NewSeeded(11)
	d := NewDiscountedThompson(2, r, 0.999, false)

	counts := [2]int{}

	for i := 0; i < 2000; i++ {
		arm, err := d.SelectArm(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		counts[arm]++

		reward := 0.0

		if arm == 1 {
			if r.Float64() < 0.8 {
				reward = 1
			}
		} else {
			if r.Float64() < 0.2 {
				reward = 1
			}
		}

		d.AddReward(arm, reward)
	}

	if counts[1] <= counts[0] {
		t.Fatalf("expected arm 1 (higher reward) pulled more often, got %v", counts)
	}
}

func TestDBEPicksUnseenArmsFirst(t *testing.T) {
	r := rng.NewSeeded(3)
	d := NewDBE(4, r, 0.99)

	seen := map[int]bool{}

	for i := 0; i < 4; i++ {
		arm, err := d.SelectArm(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if seen[arm] {
			t.Fatalf("arm %d selected twice before all arms seen once", arm)
		}

		seen[arm] = true
		d.AddReward(arm, 1)
	}
}

func TestKLUCBUnseenArmFirst(t *testing.T) {
	k := NewKLUCB(3, DefaultKLUCBOptions())

	arm, err := k.SelectArm(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if arm != 0 {
		t.Fatalf("expected first unseen arm 0, got %d", arm)
	}
}

func TestADWINThompsonTracksNonStationaryArm(t *testing.T) {
	r := rng.NewSeeded(21)
	a := NewADWINThompson(2, r)

	// Arm 0 starts good, arm 1 bad.
	for i := 0; i < 200; i++ {
		a.AddReward(0, 1)
		a.AddReward(1, 0)
	}
	// Now swap: arm 0 goes bad, arm 1 goes good.
	for i := 0; i < 400; i++ {
		a.AddReward(0, 0)
		a.AddReward(1, 1)
	}

	counts := [2]int{}

	for i := 0; i < 200; i++ {
		arm, err := a.SelectArm(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		counts[arm]++
	}

	if counts[1] <= counts[0] {
		t.Fatalf("expected adsts to have adapted to arm 1 now being better, got %v", counts)
	}
}
