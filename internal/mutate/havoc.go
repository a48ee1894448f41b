package mutate

import (
	"github.com/skeinforge/raretrace/internal/bandit"
	"github.com/skeinforge/raretrace/internal/branchmask"
	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/errors"
	"github.com/skeinforge/raretrace/internal/rng"
)

// Block-length tiers for choose_block_len, reproducing AFL's
// HAVOC_BLK_{SMALL,MEDIUM,LARGE,XL} thresholds.
const (
	HavocBlkSmall  = 32
	HavocBlkMedium = 128
	HavocBlkLarge  = 1500
	HavocBlkXL     = 32768

	HavocCycles = 256
	HavocMin    = 16

	// MaxFile bounds every size-growing operator; chosen to match AFL's
	// default corpus-entry ceiling.
	MaxFile = 1 * 1024 * 1024
)

// Atomic operator ids, one bandit arm each.
const (
	OpFlipBit1 = iota
	OpInteresting8
	OpInteresting16LE
	OpInteresting16BE
	OpInteresting32LE
	OpInteresting32BE
	OpArith8
	OpArith16LE
	OpArith16BE
	OpArith32LE
	OpArith32BE
	OpArithExtra1
	OpArithExtra2
	OpRand8XOR
	OpCloneBytes
	OpInsertSameByte
	OpOverwriteChunk
	OpOverwriteSameByte
	OpDeleteBytes
	OpOverwriteExtra
	OpInsertExtra
	OpOverwriteAExtra
	OpInsertAExtra
	OpSpliceOverwrite
	OpSpliceInsert

	numOperators
)

// NumOperators is the fixed atomic-operator count (one bandit arm each).
const NumOperators = numOperators

// HavocOptions configures one havoc pass.
type HavocOptions struct {
	PerfScore  float64
	HavocDiv   float64
	QueueCycle int
	QueueSize  int
	UserDict   *Dictionary
	AutoDict   *Dictionary
	Mask       *branchmask.Mask
	OrigMask   *branchmask.Mask
	// SplicePartner, when non-nil, supplies bytes for SPLICE_OVERWRITE/INSERT.
	SplicePartner []byte
}

func chooseBlockLen(r *rng.Handle, limit, queueCycle int) int {
	tier := queueCycle
	if tier > 3 {
		tier = 3
	}

	minV, maxV := 1, HavocBlkSmall

	switch r.RandBelow(max1(tier)) {
	case 0:
		minV, maxV = 1, HavocBlkSmall
	case 1:
		minV, maxV = HavocBlkSmall, HavocBlkMedium
	case 2:
		minV, maxV = HavocBlkMedium, HavocBlkLarge
	}

	if r.Float64() < 0.1 {
		minV, maxV = HavocBlkLarge, HavocBlkXL
	}

	if maxV > limit {
		maxV = limit
	}

	if minV >= maxV {
		if limit < 1 {
			return 1
		}

		return 1 + r.RandBelow(limit)
	}

	return minV + r.RandBelow(maxV-minV)
}

func max1(n int) int {
	if n < 1 {
		return 1
	}

	return n
}

// legalMask reports which operators have a legal precondition right now,
// feeding the operator-selector bandit's mask argument (spec §4.H step 1).
func legalMask(buf []byte, opts HavocOptions) []bool {
	l := len(buf)
	m := make([]bool, NumOperators)

	for i := range m {
		m[i] = true
	}

	m[OpInteresting16LE] = l >= 2
	m[OpInteresting16BE] = l >= 2
	m[OpInteresting32LE] = l >= 4
	m[OpInteresting32BE] = l >= 4
	m[OpArith16LE] = l >= 2
	m[OpArith16BE] = l >= 2
	m[OpArith32LE] = l >= 4
	m[OpArith32BE] = l >= 4
	m[OpArithExtra1] = l >= 2
	m[OpArithExtra2] = l >= 4
	m[OpCloneBytes] = l+HavocBlkXL < MaxFile
	m[OpInsertSameByte] = l+HavocBlkXL < MaxFile
	m[OpOverwriteChunk] = l >= 2
	m[OpOverwriteSameByte] = l >= 2
	m[OpDeleteBytes] = l >= 2
	m[OpOverwriteExtra] = opts.UserDict != nil && opts.UserDict.Len() > 0
	m[OpInsertExtra] = opts.UserDict != nil && opts.UserDict.Len() > 0
	m[OpOverwriteAExtra] = opts.AutoDict != nil && opts.AutoDict.Len() > 0
	m[OpInsertAExtra] = opts.AutoDict != nil && opts.AutoDict.Len() > 0
	m[OpSpliceOverwrite] = opts.QueueSize >= 2 && l >= 2 && opts.SplicePartner != nil
	m[OpSpliceInsert] = opts.QueueSize >= 2 && l+HavocBlkXL < MaxFile && opts.SplicePartner != nil

	return m
}

// applyOperator mutates candidate in place for one atomic operator
// application, returning false if no legal position existed under the
// mask (an iteration-level skip, spec §7).
func applyOperator(r *rng.Handle, op int, candidate *[]byte, opts HavocOptions) bool {
	buf := *candidate
	l := len(buf)

	pos := func(width int) int {
		if opts.Mask != nil {
			return opts.Mask.RandomModifiablePosition(r, width*8, branchmask.FlagOverwrite)
		}

		if l-width < 0 {
			return -1
		}

		return r.RandBelow(l - width + 1)
	}

	// maskRun shortens a block of n bytes at p to the run of bytes safe in plane flag.
	maskRun := func(p, n int, flag branchmask.Flag) int {
		for i := 1; opts.Mask != nil && i < n; i++ {
			if (flag == branchmask.FlagDelete && !opts.Mask.IsDeleteSafe(p+i)) ||
				(flag == branchmask.FlagOverwrite && !opts.Mask.IsOverwriteSafe(p+i)) {
				return i
			}
		}

		return n
	}

	switch op {
	case OpFlipBit1:
		p := pos(1)
		if p < 0 {
			return false
		}

		buf[p] ^= 1 << uint(r.RandBelow(8))

	case OpInteresting8:
		p := pos(1)
		if p < 0 {
			return false
		}

		t := interestingTable(1)
		buf[p] = byte(t[r.RandBelow(len(t))])

	case OpInteresting16LE, OpInteresting16BE:
		if l < 2 {
			return false
		}

		p := pos(2)
		if p < 0 {
			return false
		}

		t := interestingTable(2)
		v := uint16(t[r.RandBelow(len(t))])
		writeUint16(buf, p, v, op == OpInteresting16BE)

	case OpInteresting32LE, OpInteresting32BE:
		if l < 4 {
			return false
		}

		p := pos(4)
		if p < 0 {
			return false
		}

		t := interestingTable(4)
		v := uint32(t[r.RandBelow(len(t))])
		writeUint32(buf, p, v, op == OpInteresting32BE)

	case OpArith8:
		p := pos(1)
		if p < 0 {
			return false
		}

		delta := 1 + r.RandBelow(35)
		if r.Bool(0.5) {
			buf[p] += byte(delta)
		} else {
			buf[p] -= byte(delta)
		}

	case OpArith16LE, OpArith16BE:
		if l < 2 {
			return false
		}

		p := pos(2)
		if p < 0 {
			return false
		}

		delta := uint16(1 + r.RandBelow(35))
		be := op == OpArith16BE
		v := readUint16(buf, p, be)

		if r.Bool(0.5) {
			v += delta
		} else {
			v -= delta
		}

		writeUint16(buf, p, v, be)

	case OpArith32LE, OpArith32BE:
		if l < 4 {
			return false
		}

		p := pos(4)
		if p < 0 {
			return false
		}

		delta := uint32(1 + r.RandBelow(35))
		be := op == OpArith32BE
		v := readUint32(buf, p, be)

		if r.Bool(0.5) {
			v += delta
		} else {
			v -= delta
		}

		writeUint32(buf, p, v, be)

	case OpArithExtra1, OpArithExtra2:
		// Reserved alternate-encoding arith arms; fold into the 16/32 case
		// so the bandit still has a stable 25-arm table without a second
		// redundant code path.
		if op == OpArithExtra1 {
			return applyOperator(r, OpArith16LE, candidate, opts)
		}

		return applyOperator(r, OpArith32LE, candidate, opts)

	case OpRand8XOR:
		p := pos(1)
		if p < 0 {
			return false
		}

		buf[p] ^= byte(1 + r.RandBelow(255))

	case OpCloneBytes:
		blockLen := chooseBlockLen(r, l, opts.QueueCycle)
		if l == 0 || l+blockLen >= MaxFile {
			return false
		}

		src := r.RandBelow(l)
		insertAt := l
		if opts.Mask != nil {
			p := opts.Mask.RandomInsertPosition(r)
			if p < 0 {
				return false
			}

			insertAt = p
		}

		block := make([]byte, blockLen)
		for i := range block {
			block[i] = buf[(src+i)%l]
		}

		*candidate = spliceBuf(buf, insertAt, 0, block)

		if opts.Mask != nil {
			opts.Mask.Splice(insertAt, 0, blockLen)
		}

	case OpInsertSameByte:
		blockLen := chooseBlockLen(r, l, opts.QueueCycle)
		if l+blockLen >= MaxFile {
			return false
		}

		insertAt := l
		if opts.Mask != nil {
			p := opts.Mask.RandomInsertPosition(r)
			if p < 0 {
				return false
			}

			insertAt = p
		}

		fill := byte(r.RandBelow(256))
		block := make([]byte, blockLen)

		for i := range block {
			block[i] = fill
		}

		*candidate = spliceBuf(buf, insertAt, 0, block)

		if opts.Mask != nil {
			opts.Mask.Splice(insertAt, 0, blockLen)
		}

	case OpOverwriteChunk:
		if l < 2 {
			return false
		}

		blockLen := chooseBlockLen(r, l, opts.QueueCycle)

		p := -1
		if opts.Mask != nil {
			p = opts.Mask.RandomModifiablePosition(r, 8, branchmask.FlagOverwrite)
		} else {
			p = r.RandBelow(l)
		}

		if p < 0 {
			return false
		}

		if p+blockLen > l {
			blockLen = l - p
		}

		blockLen = maskRun(p, blockLen, branchmask.FlagOverwrite)
		src := r.RandBelow(l)

		for i := 0; i < blockLen; i++ {
			buf[p+i] = buf[(src+i)%l]
		}

	case OpOverwriteSameByte:
		if l < 2 {
			return false
		}

		blockLen := chooseBlockLen(r, l, opts.QueueCycle)
		p := pos(1)

		if p < 0 {
			return false
		}

		if p+blockLen > l {
			blockLen = l - p
		}

		blockLen = maskRun(p, blockLen, branchmask.FlagOverwrite)
		fill := byte(r.RandBelow(256))

		for i := 0; i < blockLen; i++ {
			buf[p+i] = fill
		}

	case OpDeleteBytes:
		if l < 2 {
			return false
		}

		blockLen := chooseBlockLen(r, l, opts.QueueCycle)

		p := -1
		if opts.Mask != nil {
			p = opts.Mask.RandomModifiablePosition(r, 8, branchmask.FlagDelete)
		} else {
			p = r.RandBelow(l)
		}

		if p < 0 {
			return false
		}

		if p+blockLen > l {
			blockLen = l - p
		}

		blockLen = maskRun(p, blockLen, branchmask.FlagDelete)
		*candidate = spliceBuf(buf, p, blockLen, nil)

		if opts.Mask != nil {
			opts.Mask.Splice(p, blockLen, 0)
		}

	case OpOverwriteExtra, OpOverwriteAExtra:
		dict := opts.UserDict
		if op == OpOverwriteAExtra {
			dict = opts.AutoDict
		}

		if dict == nil || dict.Len() == 0 {
			return false
		}

		token := dict.At(r.RandBelow(dict.Len()))
		if len(token) > l {
			return false
		}

		p := pos(len(token))
		if p < 0 {
			return false
		}

		copy(buf[p:], token)

	case OpInsertExtra, OpInsertAExtra:
		dict := opts.UserDict
		if op == OpInsertAExtra {
			dict = opts.AutoDict
		}

		if dict == nil || dict.Len() == 0 {
			return false
		}

		token := dict.At(r.RandBelow(dict.Len()))
		if l+len(token) >= MaxFile {
			return false
		}

		insertAt := l
		if opts.Mask != nil {
			p := opts.Mask.RandomInsertPosition(r)
			if p < 0 {
				return false
			}

			insertAt = p
		}

		*candidate = spliceBuf(buf, insertAt, 0, token)

		if opts.Mask != nil {
			opts.Mask.Splice(insertAt, 0, len(token))
		}

	case OpSpliceOverwrite:
		if opts.SplicePartner == nil || l < 2 {
			return false
		}

		blockLen := chooseBlockLen(r, l, opts.QueueCycle)
		if blockLen > len(opts.SplicePartner) {
			blockLen = len(opts.SplicePartner)
		}

		p := pos(1)
		if p < 0 {
			return false
		}

		if p+blockLen > l {
			blockLen = l - p
		}

		blockLen = maskRun(p, blockLen, branchmask.FlagOverwrite)
		copy(buf[p:p+blockLen], opts.SplicePartner)

	case OpSpliceInsert:
		if opts.SplicePartner == nil {
			return false
		}

		blockLen := chooseBlockLen(r, len(opts.SplicePartner), opts.QueueCycle)
		if blockLen > len(opts.SplicePartner) {
			blockLen = len(opts.SplicePartner)
		}

		if l+blockLen >= MaxFile {
			return false
		}

		insertAt := l
		if opts.Mask != nil {
			p := opts.Mask.RandomInsertPosition(r)
			if p < 0 {
				return false
			}

			insertAt = p
		}

		*candidate = spliceBuf(buf, insertAt, 0, opts.SplicePartner[:blockLen])

		if opts.Mask != nil {
			opts.Mask.Splice(insertAt, 0, blockLen)
		}

	default:
		return false
	}

	return true
}

func spliceBuf(buf []byte, at, removed int, inserted []byte) []byte {
	out := make([]byte, 0, len(buf)-removed+len(inserted))
	out = append(out, buf[:at]...)
	out = append(out, inserted...)
	out = append(out, buf[at+removed:]...)

	return out
}

func readUint16(buf []byte, i int, be bool) uint16 {
	if be {
		return uint16(buf[i])<<8 | uint16(buf[i+1])
	}

	return uint16(buf[i]) | uint16(buf[i+1])<<8
}

func writeUint16(buf []byte, i int, v uint16, be bool) {
	if be {
		buf[i] = byte(v >> 8)
		buf[i+1] = byte(v)

		return
	}

	buf[i] = byte(v)
	buf[i+1] = byte(v >> 8)
}

func readUint32(buf []byte, i int, be bool) uint32 {
	if be {
		return uint32(buf[i])<<24 | uint32(buf[i+1])<<16 | uint32(buf[i+2])<<8 | uint32(buf[i+3])
	}

	return uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
}

func writeUint32(buf []byte, i int, v uint32, be bool) {
	if be {
		buf[i] = byte(v >> 24)
		buf[i+1] = byte(v >> 16)
		buf[i+2] = byte(v >> 8)
		buf[i+3] = byte(v)

		return
	}

	buf[i] = byte(v)
	buf[i+1] = byte(v >> 8)
	buf[i+2] = byte(v >> 16)
	buf[i+3] = byte(v >> 24)
}

// RunHavoc executes one havoc pass: stage_max iterations, each picking an
// operator and a stacking count from the two bandits, applying the
// operator that many times, executing, and rewarding both bandits by
// whether the run produced new coverage.
func RunHavoc(
	exec coverage.Executor,
	buf []byte,
	r *rng.Handle,
	operatorBandit bandit.Bandit,
	stackingBandit bandit.Bandit,
	opts HavocOptions,
	isNew NewCoverageFunc,
) (Stats, error) {
	var stats Stats

	stageMax := int(HavocCycles * opts.PerfScore / max1f(opts.HavocDiv) / 100)
	if stageMax < HavocMin {
		stageMax = HavocMin
	}

	mask := legalMask(buf, opts)

	// orig_branch_mask (spec §3): the branch mask's state as of the start
	// of this havoc pass. Mask.Splice mutates opts.Mask in place for every
	// size-changing operator (CLONE_BYTES, INSERT_SAME_BYTE, DELETE_BYTES,
	// INSERT_EXTRA/AEXTRA, SPLICE_INSERT); since every iteration restarts
	// from a fresh copy of buf, the mask must be reverted to match or its
	// length drifts away from len(buf) and RandomModifiablePosition can
	// hand back an out-of-range position (spec §4.H step 6).
	var origMask *branchmask.Mask

	if opts.Mask != nil {
		origMask = opts.OrigMask
		if origMask == nil {
			origMask = opts.Mask.Clone()
		}
	}

	for iter := 0; iter < stageMax; iter++ {
		if opts.Mask != nil {
			opts.Mask.ResetFrom(origMask)
		}

		opArm, err := operatorBandit.SelectArm(mask)
		if err != nil {
			return stats, errors.IterationSkip("havoc: operator bandit exhausted")
		}

		stackArm, err := stackingBandit.SelectArm(nil)
		if err != nil {
			return stats, errors.IterationSkip("havoc: stacking bandit exhausted")
		}

		stacking := 1 << uint(stackArm)

		candidate := make([]byte, len(buf))
		copy(candidate, buf)

		applied := 0

		for s := 0; s < stacking; s++ {
			if !applyOperator(r, opArm, &candidate, opts) {
				break
			}

			applied++
		}

		reward := 0.0

		if applied > 0 {
			res, err := exec.Execute(candidate)
			if err != nil {
				return stats, err
			}

			stats.Executions++

			if isNew != nil && isNew(res) {
				reward = 1
				stats.NewCoverage++
			}
		}

		operatorBandit.AddReward(opArm, reward)
		stackingBandit.AddReward(stackArm, reward)
	}

	return stats, nil
}

func max1f(v float64) float64 {
	if v <= 0 {
		return 1
	}

	return v
}
