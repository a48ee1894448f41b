package coverage

import "math/bits"

// Bitset is a compact bitset used for trace_mini (spec §3): a per-execution
// compressed record of which branches were hit.
type Bitset struct {
	words []uint64
	nbits int
}

// NewBitset returns a Bitset able to address bit indices in [0, nbits).
func NewBitset(nbits int) *Bitset {
	return &Bitset{words: make([]uint64, (nbits+63)/64), nbits: nbits}
}

// Len reports the addressable bit count.
func (b *Bitset) Len() int { return b.nbits }

// Set marks bit i.
func (b *Bitset) Set(i int) {
	b.words[i/64] |= 1 << uint(i%64)
}

// Clear unmarks bit i.
func (b *Bitset) Clear(i int) {
	b.words[i/64] &^= 1 << uint(i%64)
}

// Test reports whether bit i is set.
func (b *Bitset) Test(i int) bool {
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Each calls fn for every set bit index, in ascending order.
func (b *Bitset) Each(fn func(i int)) {
	for w, word := range b.words {
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			fn(w*64 + bit)
			word &= word - 1
		}
	}
}

// PopCount returns the number of set bits.
func (b *Bitset) PopCount() int {
	n := 0

	for _, word := range b.words {
		n += bits.OnesCount64(word)
	}

	return n
}
