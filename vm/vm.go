// Package vm implements the deterministic, side-effect-free byte-buffer
// transformer driven by an opcode stream and a per-build manifest. Run
// is the forward reference VM; Encode is its inverse encoder. Both
// dispatch through the same per-action tables in actions.go. The WASM
// build (wasmgen's C template, run by the wasmhost package) implements
// the same actions separately in C.
package vm

import (
	"fmt"

	"github.com/synnergy-labs/challenge-gate/bytecode"
)

// Operation is a single VM instruction: an opcode byte and its
// parameter bytes, which double as the key buffer for key-consuming
// actions.
type Operation struct {
	Op     byte
	Params []byte
}

// Action indices, matching bytecode.ActionNames by position.
const (
	ActionVMApply = iota
	ActionVMApplyInv
	ActionXorBuf
	ActionXorInplace
	ActionCRC32
	ActionAdler32
	ActionXorChecksum
	ActionToHex
	ActionFromHex
	ActionReadU32BE
	ActionWriteU32BE
	ActionReadU32LE
	ActionWriteU32LE
	ActionRotl32
	ActionRotr32
	ActionSwap32
	ActionGetBit
	ActionSetBit
	ActionChachaDecrypt
)

// Run applies ops in order to a copy of input, dispatching each
// operation's action (per the manifest's opcode→action mapping) to its
// canonical forward semantics. Opcodes with no bound action (255) are
// skipped.
func Run(input []byte, ops []Operation, m *bytecode.Manifest) ([]byte, error) {
	buf := append([]byte(nil), input...)
	for _, op := range ops {
		idx, bound := m.ActionAt(op.Op)
		if !bound {
			continue
		}
		next, err := forward[idx](buf, op.Params, m)
		if err != nil {
			return nil, fmt.Errorf("vm: op 0x%02x (action %d): %w", op.Op, idx, err)
		}
		buf = next
	}
	return buf, nil
}

// Encode applies the inverse of each operation's action in reverse
// order, recovering the original buffer for the invertible action
// subset.
func Encode(ciphertext []byte, ops []Operation, m *bytecode.Manifest) ([]byte, error) {
	buf := append([]byte(nil), ciphertext...)
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		idx, bound := m.ActionAt(op.Op)
		if !bound {
			continue
		}
		next, err := inverse[idx](buf, op.Params, m)
		if err != nil {
			return nil, fmt.Errorf("vm: encode op 0x%02x (action %d): %w", op.Op, idx, err)
		}
		buf = next
	}
	return buf, nil
}
