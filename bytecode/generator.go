package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/synnergy-labs/challenge-gate/sbox"
)

// rejectionUint32 draws a uniform value in [0, n) from r using rejection
// sampling over 32-bit words to avoid modulo bias: draw a word, reject
// values at or above the largest multiple of n that fits in 32 bits,
// retry.
func rejectionUint32(r io.Reader, n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("bytecode: rejectionUint32: n must be > 0")
	}
	limit := (^uint32(0) / n) * n
	var buf [4]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("bytecode: csprng read: %w", err)
		}
		v := binary.LittleEndian.Uint32(buf[:])
		if v < limit {
			return v % n, nil
		}
	}
}

// shuffle256 returns a Fisher-Yates shuffle of 0..255 drawn from r using
// rejection-sampled indices.
func shuffle256(r io.Reader) ([256]byte, error) {
	var arr [256]byte
	for i := range arr {
		arr[i] = byte(i)
	}
	for i := 255; i > 0; i-- {
		j, err := rejectionUint32(r, uint32(i+1))
		if err != nil {
			return arr, err
		}
		arr[i], arr[j] = arr[j], arr[i]
	}
	return arr, nil
}

// Generate produces a fresh per-build Manifest: an independent shuffle
// selects the 19 opcodes bound to the canonical actions (in ActionNames
// order), and a second independent shuffle produces the S-box pair.
func Generate(r io.Reader) (*Manifest, error) {
	opcodePool, err := shuffle256(r)
	if err != nil {
		return nil, fmt.Errorf("bytecode: opcode shuffle: %w", err)
	}
	sboxForward, err := shuffle256(r)
	if err != nil {
		return nil, fmt.Errorf("bytecode: sbox shuffle: %w", err)
	}

	var m Manifest
	for i := range m.OpcodeAction {
		m.OpcodeAction[i] = Unassigned
	}
	m.Bytecodes = make(map[string]string, NumActions)

	chosen := make(map[byte]struct{}, NumActions)
	for i := 0; i < NumActions; i++ {
		op := opcodePool[i]
		if _, dup := chosen[op]; dup {
			// Cannot happen with a correct Fisher-Yates shuffle: the
			// first NumActions entries of a permutation are pairwise
			// distinct by construction.
			return nil, fmt.Errorf("bytecode: internal error: opcode 0x%02x chosen twice", op)
		}
		chosen[op] = struct{}{}
		m.OpcodeAction[op] = i
		m.Bytecodes[fmt.Sprintf("0x%02x", op)] = ActionNames[i]
	}

	pair, err := sbox.NewPair(sboxForward)
	if err != nil {
		return nil, fmt.Errorf("bytecode: sbox pair: %w", err)
	}
	m.VM = pair.Forward
	m.VMInv = pair.Inverse

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("bytecode: generated manifest failed validation: %w", err)
	}
	return &m, nil
}
