package coverage

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Hash64 implements the core's hash64(ptr, len, seed) collaborator (spec
// §6): a stable, seedable, non-cryptographic-purpose checksum used to
// detect trace changes during dictionary induction (spec §4.G) and for
// effector-map / RB-trim comparisons. BLAKE2b's keyed mode gives a clean
// seed parameter without hand-rolling a mixing function; an 8-byte
// (64-bit) digest is adequate for a collision-tolerant checksum
// used only to decide "did the trace change", not for security purposes.
func Hash64(data []byte, seed uint64) uint64 {
	var key [8]byte

	binary.LittleEndian.PutUint64(key[:], seed)

	h, err := blake2b.New(8, key[:])
	if err != nil {
		// blake2b.New only errors on an out-of-range key or size; both are
		// compile-time constants here, so this is unreachable in practice.
		panic(err)
	}

	h.Write(data) //nolint:errcheck // hash.Hash.Write never errors

	sum := h.Sum(nil)

	return binary.LittleEndian.Uint64(sum)
}
