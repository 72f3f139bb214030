// Package codec implements the pure byte/int encodings shared by the
// bytecode VM and the challenge transport: hex, base64, fixed-width
// integers and unsigned varints. Every function here is a side-effect
// free transform over a byte slice.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// ErrOddLength is returned by HexDecode when the input has an odd number
// of hex digits.
var ErrOddLength = errors.New("codec: odd-length hex string")

// HexEncode returns the lowercase hex encoding of b.
func HexEncode(b []byte) string { return hex.EncodeToString(b) }

// HexDecode decodes a lowercase or uppercase hex string, failing on odd
// length or non-hex characters (mirrors action 8's "stop on first
// non-hex" requirement at the caller boundary).
func HexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, ErrOddLength
	}
	return hex.DecodeString(s)
}

// Base64Encode returns the standard-padded base64 encoding of b.
func Base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// Base64Decode decodes a standard-padded base64 string.
func Base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// U32BE reads a big-endian uint32 from the first 4 bytes of b.
func U32BE(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// PutU32BE writes v as big-endian into the first 4 bytes of b.
func PutU32BE(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// U32LE reads a little-endian uint32 from the first 4 bytes of b.
func U32LE(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// PutU32LE writes v as little-endian into the first 4 bytes of b.
func PutU32LE(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// PutUvarint appends the unsigned LEB128 varint encoding of v to dst.
func PutUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Uvarint decodes an unsigned LEB128 varint from the start of b,
// returning the value and the number of bytes consumed (0 on error).
func Uvarint(b []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, c := range b {
		if c < 0x80 {
			if i > 9 || (i == 9 && c > 1) {
				return 0, 0
			}
			return x | uint64(c)<<s, i + 1
		}
		x |= uint64(c&0x7f) << s
		s += 7
	}
	return 0, 0
}
