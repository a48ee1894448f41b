//go:build !linux

package rng

import (
	"crypto/rand"
	"encoding/binary"
)

// seedFromOS seeds from crypto/rand on platforms without getrandom(2).
func seedFromOS() int64 {
	var b [8]byte

	_, _ = rand.Read(b[:])

	return int64(binary.LittleEndian.Uint64(b[:]))
}
