// Package bytecode implements the per-build randomised opcode
// generator: a CSPRNG-shuffled opcode pool assigned to the 19 canonical
// VM actions, plus an independent S-box permutation pair, serialised to
// the bytecodes.json manifest consumed by both the reference VM and the
// WASM host glue.
package bytecode

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Unassigned marks an opcode byte with no action bound to it.
const Unassigned = 255

// NumActions is the number of canonical VM actions (indices 0..18).
const NumActions = 19

// ActionNames is the fixed, ordered list of canonical action names.
// Index i is the action bound to the i-th opcode drawn from the
// shuffled pool. Order matters: it is part of the manifest's contract
// with the reference VM and the WASM export table.
var ActionNames = [NumActions]string{
	"vm_apply",
	"vm_apply_inv",
	"xor_buf",
	"xor_inplace",
	"crc32",
	"adler32",
	"xor_checksum",
	"to_hex",
	"from_hex",
	"read_u32be",
	"write_u32be",
	"read_u32le",
	"write_u32le",
	"rotl32",
	"rotr32",
	"swap32",
	"get_bit",
	"set_bit",
	"chacha_decrypt",
}

// Manifest is the immutable per-build artifact binding opcodes to
// actions and fixing the two S-boxes.
type Manifest struct {
	// OpcodeAction maps an opcode byte to an action index in 0..18, or
	// Unassigned (255) if the byte was not chosen for this build.
	OpcodeAction [256]int `json:"opcode_action"`
	// VM is the forward S-box permutation of 0..255.
	VM [256]byte `json:"vm"`
	// VMInv is the inverse of VM.
	VMInv [256]byte `json:"vm_inv"`
	// Bytecodes maps "0x<hh>" to the action name, one entry per chosen
	// opcode (exactly 19 entries).
	Bytecodes map[string]string `json:"bytecodes"`
}

// ActionAt returns the action index bound to opcode op, or (-1, false)
// if op is unassigned in this build.
func (m *Manifest) ActionAt(op byte) (int, bool) {
	idx := m.OpcodeAction[op]
	if idx == Unassigned {
		return -1, false
	}
	return idx, true
}

// Validate checks the manifest invariants: exactly 19 opcodes bound,
// pairwise distinct, each action name appearing exactly once, and
// vm_inv truly inverting vm.
func (m *Manifest) Validate() error {
	boundCount := 0
	seenAction := make(map[int]byte, NumActions)
	for op := 0; op < 256; op++ {
		idx := m.OpcodeAction[op]
		if idx == Unassigned {
			continue
		}
		if idx < 0 || idx >= NumActions {
			return fmt.Errorf("bytecode: opcode 0x%02x maps to out-of-range action %d", op, idx)
		}
		if prev, dup := seenAction[idx]; dup {
			return fmt.Errorf("bytecode: action %d bound to both opcode 0x%02x and 0x%02x", idx, prev, op)
		}
		seenAction[idx] = byte(op)
		boundCount++
	}
	if boundCount != NumActions {
		return fmt.Errorf("bytecode: expected %d bound opcodes, found %d", NumActions, boundCount)
	}
	for i := 0; i < 256; i++ {
		if m.VMInv[m.VM[byte(i)]] != byte(i) {
			return fmt.Errorf("bytecode: vm_inv does not invert vm at index %d", i)
		}
	}
	if len(m.Bytecodes) != NumActions {
		return fmt.Errorf("bytecode: expected %d bytecodes entries, found %d", NumActions, len(m.Bytecodes))
	}
	return nil
}

// WriteManifest serialises m as bytecodes.json inside dir.
func WriteManifest(dir string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("bytecode: marshal manifest: %w", err)
	}
	path := filepath.Join(dir, "bytecodes.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("bytecode: write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads and validates a bytecodes.json previously produced
// by WriteManifest.
func LoadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("bytecode: decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFile opens path and delegates to LoadManifest.
func LoadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}
