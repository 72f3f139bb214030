package vm

import (
	"fmt"

	"github.com/synnergy-labs/challenge-gate/aead"
	"github.com/synnergy-labs/challenge-gate/bitops"
	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/checksum"
	"github.com/synnergy-labs/challenge-gate/codec"
)

// actionFunc implements one canonical action's semantics over buf,
// using key (the operation's Params) and the manifest (for the two
// S-box actions). It returns the resulting buffer, which may differ in
// length or identity from buf.
type actionFunc func(buf, key []byte, m *bytecode.Manifest) ([]byte, error)

// eachWord calls fn for every aligned 4-byte word in buf, in place.
func eachWord(buf []byte, fn func(word []byte)) {
	for i := 0; i+4 <= len(buf); i += 4 {
		fn(buf[i : i+4])
	}
}

func xorBuf(buf, key []byte) []byte {
	if len(key) == 0 {
		return buf
	}
	for i := range buf {
		buf[i] ^= key[i%len(key)]
	}
	return buf
}

var forward [19]actionFunc
var inverse [19]actionFunc

func init() {
	forward[ActionVMApply] = func(buf, _ []byte, m *bytecode.Manifest) ([]byte, error) {
		for i, b := range buf {
			buf[i] = m.VM[b]
		}
		return buf, nil
	}
	inverse[ActionVMApply] = func(buf, _ []byte, m *bytecode.Manifest) ([]byte, error) {
		for i, b := range buf {
			buf[i] = m.VMInv[b]
		}
		return buf, nil
	}

	forward[ActionVMApplyInv] = func(buf, _ []byte, m *bytecode.Manifest) ([]byte, error) {
		for i, b := range buf {
			buf[i] = m.VMInv[b]
		}
		return buf, nil
	}
	inverse[ActionVMApplyInv] = func(buf, _ []byte, m *bytecode.Manifest) ([]byte, error) {
		for i, b := range buf {
			buf[i] = m.VM[b]
		}
		return buf, nil
	}

	// xor_buf / xor_inplace: XOR with the key cycled across the buffer.
	// Self-inverse, so forward and inverse are identical.
	xorAction := func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		return xorBuf(buf, key), nil
	}
	forward[ActionXorBuf] = xorAction
	inverse[ActionXorBuf] = xorAction
	forward[ActionXorInplace] = xorAction
	inverse[ActionXorInplace] = xorAction

	// crc32 / adler32 / xor_checksum overwrite tail bytes; the original
	// tail is lost, so the "inverse" simply re-applies the same
	// idempotent overwrite.
	crc32Action := func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(buf) >= 4 {
			codec.PutU32BE(buf[len(buf)-4:], checksum.CRC32(buf[:len(buf)-4]))
		}
		return buf, nil
	}
	forward[ActionCRC32] = crc32Action
	inverse[ActionCRC32] = crc32Action

	adler32Action := func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(buf) >= 4 {
			codec.PutU32BE(buf[len(buf)-4:], checksum.Adler32(buf[:len(buf)-4]))
		}
		return buf, nil
	}
	forward[ActionAdler32] = adler32Action
	inverse[ActionAdler32] = adler32Action

	xorChecksumAction := func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(buf) >= 1 {
			buf[len(buf)-1] = checksum.XOR(buf[:len(buf)-1])
		}
		return buf, nil
	}
	forward[ActionXorChecksum] = xorChecksumAction
	inverse[ActionXorChecksum] = xorChecksumAction

	// to_hex / from_hex change buffer length; excluded from puzzles but
	// still implemented for completeness and for the standalone action
	// test suite.
	forward[ActionToHex] = func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		out := make([]byte, len(buf)*2)
		const digits = "0123456789abcdef"
		for i, b := range buf {
			out[i*2] = digits[b>>4]
			out[i*2+1] = digits[b&0x0F]
		}
		return out, nil
	}
	inverse[ActionToHex] = func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		return fromHex(buf)
	}

	forward[ActionFromHex] = func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		return fromHex(buf)
	}
	inverse[ActionFromHex] = func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		out := make([]byte, len(buf)*2)
		const digits = "0123456789abcdef"
		for i, b := range buf {
			out[i*2] = digits[b>>4]
			out[i*2+1] = digits[b&0x0F]
		}
		return out, nil
	}

	// read_u32be acts as BE->LE; its inverse is LE->BE (same code, swap
	// direction).
	forward[ActionReadU32BE] = func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		eachWord(buf, func(w []byte) { codec.PutU32LE(w, codec.U32BE(w)) })
		return buf, nil
	}
	inverse[ActionReadU32BE] = func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		eachWord(buf, func(w []byte) { codec.PutU32BE(w, codec.U32LE(w)) })
		return buf, nil
	}

	// write_u32be / read_u32le intentionally alias in forward mode
	// (both LE->BE): two opcodes sharing one forward effect broadens
	// the puzzle space. Their inverse is BE->LE.
	leToBE := func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		eachWord(buf, func(w []byte) { codec.PutU32BE(w, codec.U32LE(w)) })
		return buf, nil
	}
	beToLE := func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		eachWord(buf, func(w []byte) { codec.PutU32LE(w, codec.U32BE(w)) })
		return buf, nil
	}
	forward[ActionWriteU32BE] = leToBE
	inverse[ActionWriteU32BE] = beToLE
	forward[ActionReadU32LE] = leToBE
	inverse[ActionReadU32LE] = beToLE

	// write_u32le: BE->LE forward, LE->BE inverse.
	forward[ActionWriteU32LE] = beToLE
	inverse[ActionWriteU32LE] = leToBE

	forward[ActionRotl32] = func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(key) >= 1 {
			r := uint(key[0] & 31)
			eachWord(buf, func(w []byte) { codec.PutU32LE(w, bitops.Rotl32(codec.U32LE(w), r)) })
		}
		return buf, nil
	}
	inverse[ActionRotl32] = func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(key) >= 1 {
			r := uint(key[0] & 31)
			eachWord(buf, func(w []byte) { codec.PutU32LE(w, bitops.Rotr32(codec.U32LE(w), r)) })
		}
		return buf, nil
	}

	forward[ActionRotr32] = func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(key) >= 1 {
			r := uint(key[0] & 31)
			eachWord(buf, func(w []byte) { codec.PutU32LE(w, bitops.Rotr32(codec.U32LE(w), r)) })
		}
		return buf, nil
	}
	inverse[ActionRotr32] = func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(key) >= 1 {
			r := uint(key[0] & 31)
			eachWord(buf, func(w []byte) { codec.PutU32LE(w, bitops.Rotl32(codec.U32LE(w), r)) })
		}
		return buf, nil
	}

	swapAction := func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		eachWord(buf, func(w []byte) { codec.PutU32LE(w, bitops.Swap32(codec.U32LE(w))) })
		return buf, nil
	}
	forward[ActionSwap32] = swapAction
	inverse[ActionSwap32] = swapAction

	// get_bit is value-producing only; it never touches the buffer in
	// either direction.
	noop := func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) { return buf, nil }
	forward[ActionGetBit] = noop
	inverse[ActionGetBit] = noop

	// set_bit: forward sets bit key[0]&31 to key[1]&1. The "inverse"
	// toggles the on-bit, which is NOT a true inverse: the original
	// bit value is lost. Callers must exclude set_bit from round-trip
	// expectations.
	forward[ActionSetBit] = func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(key) >= 2 {
			bi := uint(key[0] & 31)
			on := key[1]&1 != 0
			eachWord(buf, func(w []byte) { codec.PutU32LE(w, bitops.SetBit(codec.U32LE(w), bi, on)) })
		}
		return buf, nil
	}
	inverse[ActionSetBit] = func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(key) >= 2 {
			bi := uint(key[0] & 31)
			on := key[1]&1 == 0
			eachWord(buf, func(w []byte) { codec.PutU32LE(w, bitops.SetBit(codec.U32LE(w), bi, on)) })
		}
		return buf, nil
	}

	// chacha_decrypt: forward-only authenticated decryption in place.
	// The only action that may fail; its "inverse" is not implemented
	// and always errors.
	forward[ActionChachaDecrypt] = func(buf, key []byte, _ *bytecode.Manifest) ([]byte, error) {
		if len(key) < 60 || len(buf) <= 16 {
			return buf, nil
		}
		k, iv, tag := key[0:32], key[32:44], key[44:60]
		pt, err := aead.OpenDetached(k, iv, tag, buf)
		if err != nil {
			return nil, fmt.Errorf("chacha_decrypt: %w", err)
		}
		copy(buf, pt)
		return buf, nil
	}
	inverse[ActionChachaDecrypt] = func(buf, _ []byte, _ *bytecode.Manifest) ([]byte, error) {
		return nil, fmt.Errorf("vm: chacha_decrypt has no inverse (forward-only action)")
	}
}

func fromHex(buf []byte) ([]byte, error) {
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("from_hex: odd-length input")
	}
	out := make([]byte, 0, len(buf)/2)
	for i := 0; i < len(buf); i += 2 {
		hi, ok1 := hexVal(buf[i])
		lo, ok2 := hexVal(buf[i+1])
		if !ok1 || !ok2 {
			break
		}
		out = append(out, hi<<4|lo)
	}
	return out, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
