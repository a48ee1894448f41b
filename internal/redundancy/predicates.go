// Package redundancy implements the three pure predicates (spec §4.A)
// that decide whether a deterministic-stage candidate would be
// equivalent to one already tried by an earlier, cheaper sub-stage.
// Faithfully ported from AFL++'s could_be_bitflip/could_be_arith/
// could_be_interest (original_source/src/afl-fuzz-one.c).
package redundancy

// ArithMax is the maximum absolute delta the ±arith sub-stages try; also
// the bound could_be_arith checks byte/word/dword adjustments against.
const ArithMax = 35

var interesting8 = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}

var interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}

var interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}

// CouldBeBitflip reports whether xor's set bits match the low 1/2/4 bits
// of any byte, or the low 8/16/32 bits aligned at a byte boundary.
func CouldBeBitflip(xor uint32) bool {
	if xor == 0 {
		return true
	}

	sh := 0
	for xor&1 == 0 {
		sh++
		xor >>= 1
	}

	if xor == 1 || xor == 3 || xor == 15 {
		return true
	}

	if sh&7 != 0 {
		return false
	}

	return xor == 0xff || xor == 0xffff || xor == 0xffffffff
}

// CouldBeArith reports whether old and new differ by at most ArithMax in
// one byte, one word (either endianness), or the whole dword (either
// endianness), for byteLen in {1,2,4}.
func CouldBeArith(oldVal, newVal uint32, byteLen int) bool {
	if oldVal == newVal {
		return true
	}

	diffs, ov, nv := 0, uint32(0), uint32(0)

	for i := 0; i < byteLen; i++ {
		a := byte(oldVal >> (8 * i))
		b := byte(newVal >> (8 * i))

		if a != b {
			diffs++
			ov, nv = uint32(a), uint32(b)
		}
	}

	if diffs == 1 {
		if byte(ov-nv) <= ArithMax || byte(nv-ov) <= ArithMax {
			return true
		}
	}

	if byteLen == 1 {
		return false
	}

	diffs, ov, nv = 0, 0, 0

	for i := 0; i < byteLen/2; i++ {
		a := uint16(oldVal >> (16 * i))
		b := uint16(newVal >> (16 * i))

		if a != b {
			diffs++
			ov, nv = uint32(a), uint32(b)
		}
	}

	if diffs == 1 {
		if uint16(ov-nv) <= ArithMax || uint16(nv-ov) <= ArithMax {
			return true
		}

		sov, snv := swap16(uint16(ov)), swap16(uint16(nv))
		if sov-snv <= ArithMax || snv-sov <= ArithMax {
			return true
		}
	}

	if byteLen == 4 {
		if oldVal-newVal <= ArithMax || newVal-oldVal <= ArithMax {
			return true
		}

		so, sn := swap32(oldVal), swap32(newVal)
		if so-sn <= ArithMax || sn-so <= ArithMax {
			return true
		}
	}

	return false
}

// CouldBeInterest reports whether new equals old with a 1-/2-/4-byte
// aligned overwrite by one of the interesting-constant tables. checkBE
// adds the 2-byte table's placements when byteLen is 2 and a whole-value
// match against the 4-byte table when byteLen is 4. It does not gate the
// byte-swapped placements: byte-swapped 2-byte values are tried whenever
// byteLen is 4, and byte-swapped 4-byte values are never tried.
func CouldBeInterest(oldVal, newVal uint32, byteLen int, checkBE bool) bool {
	if oldVal == newVal {
		return true
	}

	for i := 0; i < byteLen; i++ {
		for _, c := range interesting8 {
			tval := (oldVal &^ (0xff << (uint(i) * 8))) | (uint32(uint8(c)) << (uint(i) * 8))
			if newVal == tval {
				return true
			}
		}
	}

	if byteLen == 2 && !checkBE {
		return false
	}

	for i := 0; i < byteLen-1; i++ {
		for _, c := range interesting16 {
			v16 := uint16(c)
			tval := (oldVal &^ (0xffff << (uint(i) * 8))) | (uint32(v16) << (uint(i) * 8))

			if newVal == tval {
				return true
			}

			if byteLen > 2 {
				tval = (oldVal &^ (0xffff << (uint(i) * 8))) | (uint32(swap16(v16)) << (uint(i) * 8))
				if newVal == tval {
					return true
				}
			}
		}
	}

	if byteLen == 4 && checkBE {
		for _, c := range interesting32 {
			if newVal == uint32(c) {
				return true
			}
		}
	}

	return false
}

func swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

func swap32(v uint32) uint32 {
	return v<<24 | (v&0xff00)<<8 | (v&0xff0000)>>8 | v>>24
}
