package mutate

import (
	"encoding/binary"

	"github.com/skeinforge/raretrace/internal/branchmask"
	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/redundancy"
)

// Options configures a deterministic-stage pass over one input.
type Options struct {
	NoArith           bool
	SkipSimpleBitflip bool // set when the driver reused an already-fuzzed rare branch
	UseBranchMask     bool
	TargetBranch      coverage.BranchID
}

// Stats accumulates the per-stage counters the driver reports.
type Stats struct {
	Executions  int
	NewCoverage int
}

// NewCoverageFunc decides whether an execution result advanced coverage;
// the virgin-bits bookkeeping that backs this decision lives outside the core.
type NewCoverageFunc func(coverage.ExecResult) bool

func asUint32At(buf []byte, i, width int) uint32 {
	switch width {
	case 1:
		return uint32(buf[i])
	case 2:
		return uint32(binary.LittleEndian.Uint16(buf[i:]))
	default:
		return binary.LittleEndian.Uint32(buf[i:])
	}
}

func writeUint32At(buf []byte, i, width int, v uint32) {
	switch width {
	case 1:
		buf[i] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf[i:], uint16(v))
	default:
		binary.LittleEndian.PutUint32(buf[i:], v)
	}
}

// RunDeterministic walks bit, byte, word, dword flips, ±arith,
// interesting-value substitution, and dictionary overwrite (user tokens,
// then auto-extras), in that order, against buf, dispatching every
// candidate to exec. Dictionary tokens are only written over existing
// bytes; this stage does not insert them. It
// returns accumulated stats, the effector map built by the 8-bit walk,
// and (when opts.UseBranchMask) the branch mask built against
// opts.TargetBranch.
func RunDeterministic(
	exec coverage.Executor,
	buf []byte,
	opts Options,
	userDict, autoDict *Dictionary,
	onAutoExtra func([]byte),
	isNew NewCoverageFunc,
) (Stats, *EffectorMap, *branchmask.Mask, error) {
	var stats Stats

	eff := NewEffectorMap(len(buf))

	var mask *branchmask.Mask

	if opts.UseBranchMask {
		m, err := branchmask.Build(exec, buf, opts.TargetBranch)
		if err != nil {
			return stats, eff, nil, err
		}

		mask = m
	}

	baseRes, err := exec.Execute(buf)
	if err != nil {
		return stats, eff, mask, err
	}

	stats.Executions++

	baseCksum := coverage.Hash64(baseRes.TraceBits, 0)

	run := func(candidate []byte) (coverage.ExecResult, error) {
		res, err := exec.Execute(candidate)
		if err != nil {
			return res, err
		}

		stats.Executions++

		if isNew != nil && isNew(res) {
			stats.NewCoverage++
		}

		return res, nil
	}

	if !opts.SkipSimpleBitflip {
		if err := singleBitWalk(buf, baseCksum, run, autoDict, onAutoExtra); err != nil {
			return stats, eff, mask, err
		}

		if err := walkXOR(buf, 0x03, 1, run); err != nil {
			return stats, eff, mask, err
		}

		if err := walkXOR(buf, 0x0f, 1, run); err != nil {
			return stats, eff, mask, err
		}
	}

	if err := eightBitWalk(buf, baseCksum, eff, run); err != nil {
		return stats, eff, mask, err
	}

	eff.CollapseIfDense()

	if err := wideFlipWalk(buf, 2, eff, run); err != nil {
		return stats, eff, mask, err
	}

	if err := wideFlipWalk(buf, 4, eff, run); err != nil {
		return stats, eff, mask, err
	}

	if !opts.NoArith {
		for _, width := range []int{1, 2, 4} {
			if err := arithWalk(buf, width, eff, run); err != nil {
				return stats, eff, mask, err
			}
		}
	}

	for _, width := range []int{1, 2, 4} {
		if err := interestingWalk(buf, width, eff, run); err != nil {
			return stats, eff, mask, err
		}
	}

	if err := dictionaryOverwrite(buf, userDict, run); err != nil {
		return stats, eff, mask, err
	}

	if err := dictionaryOverwrite(buf, autoDict, run); err != nil {
		return stats, eff, mask, err
	}

	return stats, eff, mask, nil
}

func singleBitWalk(buf []byte, baseCksum uint64, run func([]byte) (coverage.ExecResult, error), autoDict *Dictionary, onAutoExtra func([]byte)) error {
	ib := newInductionBuffer()

	for i := range buf {
		candidate := make([]byte, len(buf))
		copy(candidate, buf)

		for bit := 0; bit < 8; bit++ {
			candidate[i] = buf[i] ^ (1 << uint(bit))

			res, err := run(candidate)
			if err != nil {
				return err
			}

			if bit == 0 {
				cksum := coverage.Hash64(res.TraceBits, 0)
				stable := cksum == baseCksum

				if flushed := ib.Observe(stable, cksum, buf[i]); flushed != nil {
					commit(autoDict, onAutoExtra, flushed)
				}
			}
		}

		candidate[i] = buf[i]
	}

	if flushed := ib.Finish(); flushed != nil {
		commit(autoDict, onAutoExtra, flushed)
	}

	return nil
}

func commit(dict *Dictionary, onAutoExtra func([]byte), token []byte) {
	if dict != nil {
		dict.Add(token, true)
	}

	if onAutoExtra != nil {
		onAutoExtra(token)
	}
}

func walkXOR(buf []byte, mask byte, stride int, run func([]byte) (coverage.ExecResult, error)) error {
	for i := 0; i < len(buf); i += stride {
		candidate := make([]byte, len(buf))
		copy(candidate, buf)
		candidate[i] ^= mask

		if _, err := run(candidate); err != nil {
			return err
		}
	}

	return nil
}

func eightBitWalk(buf []byte, baseCksum uint64, eff *EffectorMap, run func([]byte) (coverage.ExecResult, error)) error {
	for i := range buf {
		candidate := make([]byte, len(buf))
		copy(candidate, buf)
		candidate[i] ^= 0xff

		res, err := run(candidate)
		if err != nil {
			return err
		}

		if res.Status != coverage.StatusOK || len(res.TraceBits) == 0 || coverage.Hash64(res.TraceBits, 0) == baseCksum {
			eff.MarkNonEffector(i)
			continue
		}
	}

	return nil
}

func wideFlipWalk(buf []byte, width int, eff *EffectorMap, run func([]byte) (coverage.ExecResult, error)) error {
	if len(buf) < width {
		return nil
	}

	for i := 0; i <= len(buf)-width; i++ {
		if !anyEffector(eff, i, width) {
			continue
		}

		candidate := make([]byte, len(buf))
		copy(candidate, buf)

		old := asUint32At(candidate, i, width)
		mask := uint32(1)<<(8*uint(width)) - 1
		writeUint32At(candidate, i, width, old^mask)

		if _, err := run(candidate); err != nil {
			return err
		}
	}

	return nil
}

func anyEffector(eff *EffectorMap, i, width int) bool {
	for j := 0; j < width; j++ {
		if eff.IsEffector(i + j) {
			return true
		}
	}

	return false
}

func arithWalk(buf []byte, width int, eff *EffectorMap, run func([]byte) (coverage.ExecResult, error)) error {
	if len(buf) < width {
		return nil
	}

	for i := 0; i <= len(buf)-width; i++ {
		if !anyEffector(eff, i, width) {
			continue
		}

		old := asUint32At(buf, i, width)

		for delta := 1; delta <= redundancy.ArithMax; delta++ {
			for _, nv := range []uint32{old + uint32(delta), old - uint32(delta)} {
				if redundancy.CouldBeBitflip(old ^ nv) {
					continue
				}

				candidate := make([]byte, len(buf))
				copy(candidate, buf)
				writeUint32At(candidate, i, width, nv)

				if _, err := run(candidate); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func interestingWalk(buf []byte, width int, eff *EffectorMap, run func([]byte) (coverage.ExecResult, error)) error {
	if len(buf) < width {
		return nil
	}

	table := interestingTable(width)

	for i := 0; i <= len(buf)-width; i++ {
		if !anyEffector(eff, i, width) {
			continue
		}

		old := asUint32At(buf, i, width)

		for _, c := range table {
			nv := uint32(c)

			if redundancy.CouldBeBitflip(old^nv) || redundancy.CouldBeArith(old, nv, width) {
				continue
			}

			if redundancy.CouldBeInterest(old, nv, width, false) {
				continue
			}

			candidate := make([]byte, len(buf))
			copy(candidate, buf)
			writeUint32At(candidate, i, width, nv)

			if _, err := run(candidate); err != nil {
				return err
			}
		}
	}

	return nil
}

func interestingTable(width int) []int32 {
	switch width {
	case 1:
		return []int32{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	case 2:
		return []int32{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	default:
		return []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
	}
}

func dictionaryOverwrite(buf []byte, dict *Dictionary, run func([]byte) (coverage.ExecResult, error)) error {
	if dict == nil {
		return nil
	}

	for t := 0; t < dict.Len(); t++ {
		token := dict.At(t)
		if len(token) > len(buf) {
			continue
		}

		for i := 0; i <= len(buf)-len(token); i++ {
			candidate := make([]byte, len(buf))
			copy(candidate, buf)
			copy(candidate[i:], token)

			if _, err := run(candidate); err != nil {
				return err
			}
		}
	}

	return nil
}
