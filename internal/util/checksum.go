package util

import (
	"fmt"
	"hash/crc32"
)

// Checksum utilities for change record integrity.
// Uses CRC32 (IEEE polynomial), rendered as lowercase hex for the wire.

var (
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ComputeChecksum computes a CRC32 checksum over the given parts, in order.
// Each part is followed by a zero byte so ("ab","c") and ("a","bc") differ.
func ComputeChecksum(parts ...[]byte) uint32 {
	h := crc32.New(crc32Table)
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return h.Sum32()
}

// ChecksumHex formats a checksum the way change records carry it
func ChecksumHex(sum uint32) string {
	return fmt.Sprintf("%08x", sum)
}

// ValidateChecksum reports whether the hex checksum matches the parts.
func ValidateChecksum(expected string, parts ...[]byte) bool {
	return ChecksumHex(ComputeChecksum(parts...)) == expected
}
