package mutate

// EffectorMap tracks, per byte, whether a full-byte XOR during the 8-bit
// walk observably changed the target's trace. Windows made up entirely of
// bytes it marks false are skipped by the 16/32-bit flip and
// arith/interesting sub-stages.
type EffectorMap struct {
	effector []bool
	dense    bool
}

// NewEffectorMap allocates a map for an input of the given length, every
// byte initially presumed an effector until the 8-bit walk says otherwise.
func NewEffectorMap(length int) *EffectorMap {
	e := make([]bool, length)
	for i := range e {
		e[i] = true
	}

	return &EffectorMap{effector: e}
}

// MarkNonEffector records that flipping byte i made no observable
// difference to coverage.
func (m *EffectorMap) MarkNonEffector(i int) {
	if m.dense {
		return
	}

	m.effector[i] = false
}

// IsEffector reports whether byte i should still be mutated by the
// width-16/32 and arith/interesting sub-stages.
func (m *EffectorMap) IsEffector(i int) bool {
	if m.dense {
		return true
	}

	return m.effector[i]
}

// Density returns the fraction of bytes still marked effector.
func (m *EffectorMap) Density() float64 {
	if len(m.effector) == 0 {
		return 0
	}

	n := 0

	for _, v := range m.effector {
		if v {
			n++
		}
	}

	return float64(n) / float64(len(m.effector))
}

// CollapseIfDense flattens the map to all-true once density exceeds 90%,
// since a map that dense buys the later stages nothing by staying sparse.
func (m *EffectorMap) CollapseIfDense() {
	if m.dense || m.Density() <= 0.9 {
		return
	}

	m.dense = true

	for i := range m.effector {
		m.effector[i] = true
	}
}
