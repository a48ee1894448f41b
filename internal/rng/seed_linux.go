//go:build linux

package rng

import (
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// seedFromOS pulls 8 bytes from getrandom(2) and falls back to
// crypto/rand if the syscall is unavailable (old kernels, seccomp
// sandboxes without the syscall allowed).
func seedFromOS() int64 {
	var b [8]byte

	if n, err := unix.Getrandom(b[:], 0); err == nil && n == len(b) {
		return int64(binary.LittleEndian.Uint64(b[:]))
	}

	_, _ = rand.Read(b[:])

	return int64(binary.LittleEndian.Uint64(b[:]))
}
