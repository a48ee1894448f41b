// Package branchmask builds and queries the per-byte branch mask that
// constrains mutation operators to positions that do not disturb a
// targeted rare branch (spec §4.B).
//
// Per the design notes, the mask is a first-class value with three
// parallel bit planes rather than a packed 3-bit byte array. Overwrite
// and delete are defined over byte positions [0, L); insert is defined
// over insertion points [0, L] (the Open Question in spec §9 is resolved
// that way: writes strictly inside the buffer, inserts including the
// trailing "append" position).
package branchmask

import "github.com/skeinforge/raretrace/internal/rng"

// Flag names one of the three independent safety planes.
type Flag int

const (
	FlagOverwrite Flag = iota
	FlagDelete
	FlagInsert
)

// Mask is the branch mask for an input of length L.
type Mask struct {
	overwrite bitVec // len L
	delete    bitVec // len L
	insert    bitVec // len L+1
	length    int    // L
}

// NewMask returns an empty mask for an input of length L: no write,
// delete or insert position is allowed yet. Builders widen it via
// SetOverwrite/SetDelete/SetInsert as probing proceeds.
// A freshly-allocated mask starts all-false except where noted, since the
// builder (§4.B) discovers safety incrementally; NewPermissiveMask below
// is used by splice (§4.I), which starts a fresh buffer fully permissive.
func NewMask(length int) *Mask {
	return &Mask{
		overwrite: newBitVec(length, false),
		delete:    newBitVec(length, false),
		insert:    newBitVec(length+1, false),
		length:    length,
	}
}

// NewPermissiveMask returns a mask with every plane fully set, as used
// when splice (§4.I) re-enters havoc on a fresh crossover buffer.
func NewPermissiveMask(length int) *Mask {
	m := &Mask{
		overwrite: newBitVec(length, true),
		delete:    newBitVec(length, true),
		insert:    newBitVec(length+1, true),
		length:    length,
	}

	return m
}

// Length returns L, the input length this mask describes.
func (m *Mask) Length() int { return m.length }

// SetOverwrite marks byte i overwrite-safe (§4.B step 1).
func (m *Mask) SetOverwrite(i int) { m.overwrite[i] = true }

// SetDelete marks byte i delete-safe (§4.B step 2).
func (m *Mask) SetDelete(i int) { m.delete[i] = true }

// SetInsert marks insertion point i insert-safe (§4.B step 3). i may be L
// (append position), which the builder always sets.
func (m *Mask) SetInsert(i int) { m.insert[i] = true }

// IsOverwriteSafe reports whether byte i may be overwritten.
func (m *Mask) IsOverwriteSafe(i int) bool { return i >= 0 && i < m.length && m.overwrite[i] }

// IsDeleteSafe reports whether byte i may be deleted.
func (m *Mask) IsDeleteSafe(i int) bool { return i >= 0 && i < m.length && m.delete[i] }

// IsInsertSafe reports whether position i (0..L) may receive an insert.
func (m *Mask) IsInsertSafe(i int) bool { return i >= 0 && i <= m.length && m.insert[i] }

// Clone deep-copies the mask; used to preserve orig_branch_mask so
// iterative havoc can revert after a size-changing mutation (spec §3).
func (m *Mask) Clone() *Mask {
	return &Mask{
		overwrite: m.overwrite.clone(),
		delete:    m.delete.clone(),
		insert:    m.insert.clone(),
		length:    m.length,
	}
}

// ResetFrom overwrites m in place with orig's planes and length. Havoc
// (spec §4.H step 6) calls this at the top of every iteration to revert
// opts.Mask to orig_branch_mask, undoing whatever Splice did to it on a
// size-changing operator in the previous iteration.
func (m *Mask) ResetFrom(orig *Mask) {
	m.overwrite = orig.overwrite.clone()
	m.delete = orig.delete.clone()
	m.insert = orig.insert.clone()
	m.length = orig.length
}

// Splice grows or shrinks the mask in lockstep with a buffer edit at byte
// offset `at`: `removed` bytes disappear, `inserted` fresh bytes appear.
// Per spec §4.B, inserted regions default to all-flags-set and the
// trailing insert sentinel always stays set.
func (m *Mask) Splice(at, removed, inserted int) {
	m.overwrite = m.overwrite.spliceBits(at, removed, inserted, true)
	m.delete = m.delete.spliceBits(at, removed, inserted, true)
	// The insert plane has one extra trailing element; splice it using the
	// same [at, at+removed) window (valid since at+removed <= L <= len(insert)-1).
	m.insert = m.insert.spliceBits(at, removed, inserted, true)
	m.length += inserted - removed
	m.insert[m.length] = true
}

// RandomModifiablePosition samples uniformly among byte positions whose
// plane `flag` is safe and that admit a write `numBitsToModify` bits wide
// (ceil(numBitsToModify/8) bytes), per spec §4.B. It returns -1 if no
// legal position exists (caller breaks its stacked inner loop, spec §7
// "Iteration-level skip").
func (m *Mask) RandomModifiablePosition(r *rng.Handle, numBitsToModify int, flag Flag) int {
	width := (numBitsToModify + 7) / 8
	if width < 1 {
		width = 1
	}

	candidates := make([]int, 0, m.length)

	for i := 0; i+width <= m.length; i++ {
		if m.rangeSafe(flag, i, width) {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		return -1
	}

	return candidates[r.RandBelow(len(candidates))]
}

func (m *Mask) rangeSafe(flag Flag, start, width int) bool {
	plane := m.plane(flag)
	for i := start; i < start+width; i++ {
		if !plane[i] {
			return false
		}
	}

	return true
}

func (m *Mask) plane(flag Flag) bitVec {
	switch flag {
	case FlagOverwrite:
		return m.overwrite
	case FlagDelete:
		return m.delete
	default:
		return nil
	}
}

// RandomInsertPosition samples uniformly among insertion points (0..L)
// whose insert plane bit is set. Returns -1 if none exist.
func (m *Mask) RandomInsertPosition(r *rng.Handle) int {
	candidates := make([]int, 0, m.length+1)

	for i := 0; i <= m.length; i++ {
		if m.insert[i] {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		return -1
	}

	return candidates[r.RandBelow(len(candidates))]
}
