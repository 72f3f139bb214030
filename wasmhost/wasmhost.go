// Package wasmhost loads the per-build vm_run WASM module and marshals
// challenge buffers into/out of its linear memory, registering the one
// env.chacha_poly_decrypt host import the module expects.
package wasmhost

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/synnergy-labs/challenge-gate/aead"
	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/vm"
)

// memoryCapacity bounds the scratch region reserved for the challenge
// buffer inside the module's linear memory. Challenge buffers are 8
// bytes growing to at most 2x under to_hex (excluded from puzzles, but
// supported here for parity with the reference VM's action set).
const memoryCapacity = 4096

// Host wraps a wasmer engine shared by every loaded module.
type Host struct {
	engine *wasmer.Engine
}

// NewHost creates a Host with a fresh wasmer engine.
func NewHost() *Host {
	return &Host{engine: wasmer.NewEngine()}
}

// Module is a compiled, instantiated per-build vm_run WASM module.
type Module struct {
	store    *wasmer.Store
	instance *wasmer.Instance
	mem      *wasmer.Memory
}

// Load compiles wasmBytes and instantiates it, registering the
// env.chacha_poly_decrypt import the VM's action 18 depends on.
func (h *Host) Load(wasmBytes []byte) (*Module, error) {
	store := wasmer.NewStore(h.engine)
	mod, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: compile module: %w", err)
	}

	m := &Module{store: store}
	imports := m.registerImports(store)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: instantiate module: %w", err)
	}
	m.instance = instance

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("wasmhost: module does not export linear memory")
	}
	m.mem = mem
	return m, nil
}

// registerImports wires env.chacha_poly_decrypt to the host-side aead
// package: a read/write pair of closures over the module's linear
// memory plus a wasmer.NewFunction for the import.
func (m *Module) registerImports(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		data := m.mem.Data()[ptr : ptr+ln]
		out := make([]byte, ln)
		copy(out, data)
		return out
	}
	write := func(ptr int32, data []byte) { copy(m.mem.Data()[ptr:], data) }
	writeU32 := func(ptr int32, v uint32) {
		binary.LittleEndian.PutUint32(m.mem.Data()[ptr:ptr+4], v)
	}

	chachaDecrypt := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(
				wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32),
			),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			outPtr, outLenPtr := args[0].I32(), args[1].I32()
			ctPtr, ctLen := args[2].I32(), args[3].I32()
			keyPtr, ivPtr, tagPtr := args[4].I32(), args[5].I32(), args[6].I32()

			ct := read(ctPtr, ctLen)
			key := read(keyPtr, 32)
			iv := read(ivPtr, 12)
			tag := read(tagPtr, 16)

			pt, err := aead.OpenDetached(key, iv, tag, ct)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(1)}, nil
			}
			write(outPtr, pt)
			writeU32(outLenPtr, uint32(len(pt)))
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"chacha_poly_decrypt": chachaDecrypt,
	})
	return imports
}

// Run marshals buf and ops into the module's linear memory and calls
// vm_run, which must mirror vm.Run's semantics bit-for-bit. The server
// itself does not call Run; the client receives the encrypted module
// and runs it independently.
func (m *Module) Run(buf []byte, ops []vm.Operation) ([]byte, error) {
	if len(buf) > memoryCapacity {
		return nil, fmt.Errorf("wasmhost: buffer %d exceeds scratch capacity %d", len(buf), memoryCapacity)
	}
	opsBlob := encodeOps(ops)
	if len(opsBlob) > memoryCapacity {
		return nil, fmt.Errorf("wasmhost: ops blob %d exceeds scratch capacity %d", len(opsBlob), memoryCapacity)
	}

	const bufPtr = 0
	opsPtr := int32(memoryCapacity)

	data := m.mem.Data()
	copy(data[bufPtr:], buf)
	copy(data[opsPtr:], opsBlob)

	run, err := m.instance.Exports.GetFunction("vm_run")
	if err != nil {
		return nil, errors.New("wasmhost: vm_run export missing")
	}
	rc, err := run(int32(bufPtr), int32(len(buf)), opsPtr, int32(len(opsBlob)))
	if err != nil {
		return nil, fmt.Errorf("wasmhost: vm_run trapped: %w", err)
	}
	if code, ok := rc.(int32); ok && code != 0 {
		return nil, fmt.Errorf("wasmhost: vm_run returned non-zero status %d", code)
	}

	out := make([]byte, len(buf))
	copy(out, m.mem.Data()[bufPtr:bufPtr+int32(len(buf))])
	return out, nil
}

// encodeOps serialises a []vm.Operation as [opcode byte][paramLen
// byte][params...] repeated, the same tagged-length-value shape the
// generated C template's action dispatcher expects.
func encodeOps(ops []vm.Operation) []byte {
	var out []byte
	for _, op := range ops {
		out = append(out, op.Op, byte(len(op.Params)))
		out = append(out, op.Params...)
	}
	return out
}

// VerifyAgainstManifest round-trips the manifest's vm/vm_inv tables
// through the module's vm_get/vm_get_inv exports, catching a manifest
// and module that were not produced by the same build.
func (m *Module) VerifyAgainstManifest(manifest *bytecode.Manifest) error {
	vmGet, err := m.instance.Exports.GetFunction("vm_get")
	if err != nil {
		return errors.New("wasmhost: vm_get export missing")
	}
	vmGetInv, err := m.instance.Exports.GetFunction("vm_get_inv")
	if err != nil {
		return errors.New("wasmhost: vm_get_inv export missing")
	}
	for i := 0; i < 256; i++ {
		got, err := vmGet(int32(i))
		if err != nil {
			return fmt.Errorf("wasmhost: vm_get(%d): %w", i, err)
		}
		if byte(got.(int32)) != manifest.VM[i] {
			return fmt.Errorf("wasmhost: vm[%d] mismatch between manifest and module", i)
		}
		gotInv, err := vmGetInv(int32(i))
		if err != nil {
			return fmt.Errorf("wasmhost: vm_get_inv(%d): %w", i, err)
		}
		if byte(gotInv.(int32)) != manifest.VMInv[i] {
			return fmt.Errorf("wasmhost: vm_inv[%d] mismatch between manifest and module", i)
		}
	}
	return nil
}
