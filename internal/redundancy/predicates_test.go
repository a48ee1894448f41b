package redundancy

import "testing"

func TestCouldBeBitflipZero(t *testing.T) {
	if !CouldBeBitflip(0) {
		t.Fatalf("xor==0 must always be a bitflip redundancy")
	}
}

func TestCouldBeBitflipLowBits(t *testing.T) {
	cases := []uint32{1, 3, 15}
	for _, c := range cases {
		if !CouldBeBitflip(c) {
			t.Fatalf("expected %d to be a 1/2/4-bit pattern", c)
		}
	}
}

func TestCouldBeBitflipByteAligned(t *testing.T) {
	if !CouldBeBitflip(0xff << 8) {
		t.Fatalf("0xff shifted to a byte boundary should be a bitflip redundancy")
	}

	if CouldBeBitflip(0xff << 3) {
		t.Fatalf("0xff not aligned to a byte boundary should not be a bitflip redundancy")
	}
}

func TestCouldBeArithSameValue(t *testing.T) {
	if !CouldBeArith(42, 42, 1) {
		t.Fatalf("identical values are trivially arith-redundant")
	}
}

func TestCouldBeArithWithinRange(t *testing.T) {
	if !CouldBeArith(100, 110, 1) {
		t.Fatalf("delta 10 <= ArithMax should be arith-redundant")
	}

	if CouldBeArith(10, 200, 1) {
		t.Fatalf("large delta should not be arith-redundant for 1-byte width")
	}
}

func TestCouldBeInterestExactMatch(t *testing.T) {
	old := uint32(0x1234)
	nv := (old &^ 0xff) | 0xff // overwrite low byte with 0xff (an interesting8 value)

	if !CouldBeInterest(old, nv, 2, false) {
		t.Fatalf("expected interest-redundant for low-byte overwrite with an interesting8 constant")
	}
}

func TestCouldBeInterestUnrelatedValue(t *testing.T) {
	if CouldBeInterest(0, 0x12345678, 4, true) {
		t.Fatalf("arbitrary unrelated value should not be interest-redundant")
	}
}
