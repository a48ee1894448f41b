package branchmask

import "github.com/skeinforge/raretrace/internal/coverage"

// Build runs the §4.B classification protocol against a target branch id
// and an input buffer, returning the resulting Mask. For each position it
// runs its own OVERWRITE_SAFE (byte XOR 0xFF), DELETE_SAFE and
// INSERT_BEFORE_SAFE probe executions. RunDeterministic calls it once,
// before its bit and byte flip walks, as a separate probing pass; the
// probes are not shared with the 8-bit flip walk's executions.
func Build(exec coverage.Executor, buf []byte, target coverage.BranchID) (*Mask, error) {
	l := len(buf)
	m := NewMask(l)

	for i := 0; i < l; i++ {
		if safe, err := overwriteSafe(exec, buf, target, i); err != nil {
			return nil, err
		} else if safe {
			m.SetOverwrite(i)
		}

		if safe, err := deleteSafe(exec, buf, target, i); err != nil {
			return nil, err
		} else if safe {
			m.SetDelete(i)
		}

		if safe, err := insertSafe(exec, buf, target, i); err != nil {
			return nil, err
		} else if safe {
			m.SetInsert(i)
		}
	}
	// Position L always permits insertion (append), spec §3.
	m.SetInsert(l)

	return m, nil
}

// overwriteSafe implements §4.B step 1: XOR byte i with 0xFF and check the
// branch is still hit.
func overwriteSafe(exec coverage.Executor, buf []byte, target coverage.BranchID, i int) (bool, error) {
	cand := append([]byte(nil), buf...)
	cand[i] ^= 0xFF

	res, err := exec.Execute(cand)
	if err != nil {
		return false, err
	}

	return res.Status == coverage.StatusOK && res.Hits(target), nil
}

// deleteSafe implements §4.B step 2: delete byte i and check the branch is
// still hit.
func deleteSafe(exec coverage.Executor, buf []byte, target coverage.BranchID, i int) (bool, error) {
	cand := make([]byte, 0, len(buf)-1)
	cand = append(cand, buf[:i]...)
	cand = append(cand, buf[i+1:]...)

	res, err := exec.Execute(cand)
	if err != nil {
		return false, err
	}

	return res.Status == coverage.StatusOK && res.Hits(target), nil
}

// insertSafe implements §4.B step 3: insert a random byte at position i
// and check the branch is still hit. The inserted byte value does not
// affect safety classification (the original probes with a fixed filler);
// 0x00 is used here for determinism of the probe itself.
func insertSafe(exec coverage.Executor, buf []byte, target coverage.BranchID, i int) (bool, error) {
	cand := make([]byte, 0, len(buf)+1)
	cand = append(cand, buf[:i]...)
	cand = append(cand, 0x00)
	cand = append(cand, buf[i:]...)

	res, err := exec.Execute(cand)
	if err != nil {
		return false, err
	}

	return res.Status == coverage.StatusOK && res.Hits(target), nil
}
