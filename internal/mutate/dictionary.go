package mutate

// MinAutoExtra and MaxAutoExtra bound dictionary-induction commits: a run
// of single-bit-invariant bytes shorter than MinAutoExtra is too common to
// be informative, and one longer than MaxAutoExtra is too specific to
// reuse cheaply across future overwrite/insert picks.
const (
	MinAutoExtra = 3
	MaxAutoExtra = 32
)

// Dictionary holds one token set: either user-supplied extras or the
// auto-extras the deterministic stage induces. They stay in separate
// Dictionary values so OVERWRITE_WITH_EXTRA/INSERT_EXTRA and
// OVERWRITE_WITH_AEXTRA/INSERT_AEXTRA can be masked independently.
type Dictionary struct {
	entries [][]byte
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary { return &Dictionary{} }

// Add appends a token, skipping duplicates and anything outside the
// auto-extra length bounds when induced is true.
func (d *Dictionary) Add(token []byte, induced bool) {
	if induced && (len(token) < MinAutoExtra || len(token) > MaxAutoExtra) {
		return
	}

	for _, e := range d.entries {
		if string(e) == string(token) {
			return
		}
	}

	cp := make([]byte, len(token))
	copy(cp, token)
	d.entries = append(d.entries, cp)
}

// Len reports how many tokens are loaded.
func (d *Dictionary) Len() int { return len(d.entries) }

// At returns the token at index i.
func (d *Dictionary) At(i int) []byte { return d.entries[i] }

// inductionBuffer accumulates bytes during the single-bit walk whose LSB
// flip left the observed trace checksum unchanged, per byte run, flushing
// into an auto-extra commit whenever the checksum changes or the buffer
// reaches MaxAutoExtra.
type inductionBuffer struct {
	buf       []byte
	lastCksum uint64
	haveCksum bool
}

func newInductionBuffer() *inductionBuffer { return &inductionBuffer{} }

// Observe feeds one byte's single-bit-flip result (did flipping the LSB
// leave the trace checksum unchanged, and what was that checksum) and
// returns a committed run when the buffer should flush, or nil otherwise.
func (ib *inductionBuffer) Observe(stableUnderFlip bool, cksum uint64, b byte) []byte {
	if !stableUnderFlip {
		return ib.flush()
	}

	if ib.haveCksum && cksum != ib.lastCksum {
		flushed := ib.flush()
		ib.buf = append(ib.buf, b)
		ib.lastCksum = cksum
		ib.haveCksum = true

		return flushed
	}

	ib.buf = append(ib.buf, b)
	ib.lastCksum = cksum
	ib.haveCksum = true

	if len(ib.buf) >= MaxAutoExtra {
		return ib.flush()
	}

	return nil
}

// Finish flushes any buffered run at end-of-input.
func (ib *inductionBuffer) Finish() []byte { return ib.flush() }

func (ib *inductionBuffer) flush() []byte {
	if len(ib.buf) == 0 {
		ib.haveCksum = false
		return nil
	}

	run := ib.buf
	ib.buf = nil
	ib.haveCksum = false

	if len(run) < MinAutoExtra || len(run) > MaxAutoExtra {
		return nil
	}

	return run
}
