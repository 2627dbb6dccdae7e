// Package b509 implements the alternate-family flat register payload,
// used for unscheduled register dumps over the bus primitive 0xB5 0x09.
package b509

import (
	"encoding/hex"
	"fmt"
)

// Primary and secondary selector bytes for the underlying bus primitive.
const (
	Primary   byte = 0xB5
	Secondary byte = 0x09
)

const opcode byte = 0x0D

// Build encodes a flat register read payload: 0x0D RR_hi RR_lo (register
// is big-endian here, unlike the b524 family).
func Build(register uint16) []byte {
	return []byte{opcode, byte(register >> 8), byte(register)}
}

// Parse decodes a b509 payload back into its register number.
func Parse(b []byte) (uint16, error) {
	if len(b) != 3 {
		return 0, fmt.Errorf("b509: payload wants 3 bytes, got %d", len(b))
	}
	if b[0] != opcode {
		return 0, fmt.Errorf("b509: unexpected opcode 0x%02x", b[0])
	}
	return uint16(b[1])<<8 | uint16(b[2]), nil
}

// Hex renders built payload bytes as lower-case hex.
func Hex(b []byte) string {
	return hex.EncodeToString(b)
}
