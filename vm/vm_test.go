package vm

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/codec"
)

// identityManifest returns a manifest whose S-box is the identity and
// whose opcode_action table binds opcode i to action i for i in 0..18,
// leaving the rest unassigned, so scenario tests can address actions
// directly by opcode byte.
func identityManifest() *bytecode.Manifest {
	var m bytecode.Manifest
	for i := range m.OpcodeAction {
		m.OpcodeAction[i] = bytecode.Unassigned
	}
	for i := 0; i < bytecode.NumActions; i++ {
		m.OpcodeAction[i] = i
	}
	for i := range m.VM {
		m.VM[i] = byte(i)
		m.VMInv[i] = byte(i)
	}
	m.Bytecodes = map[string]string{}
	return &m
}

func TestScenarioIdentityPipeline(t *testing.T) {
	m := identityManifest()
	m.OpcodeAction[0xA0] = ActionVMApply
	m.OpcodeAction[0xB0] = ActionVMApplyInv
	ops := []Operation{{Op: 0xA0}, {Op: 0xB0}}
	input := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	out, err := Run(input, ops, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("got %v want %v", out, input)
	}
	if got := codec.U32LE(out[:4]); got != 0x04030201 {
		t.Fatalf("got %#x want 0x04030201", got)
	}
}

func TestScenarioXorCycle(t *testing.T) {
	m := identityManifest()
	m.OpcodeAction[0xC0] = ActionXorBuf
	ops := []Operation{{Op: 0xC0, Params: []byte{0xFF}}}
	input := []byte{0, 0, 0, 0}

	out, err := Run(input, ops, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := codec.U32LE(out); got != 0xFFFFFFFF {
		t.Fatalf("got %#x want 0xffffffff", got)
	}
}

func TestScenarioRotation(t *testing.T) {
	m := identityManifest()
	m.OpcodeAction[0xD0] = ActionRotl32
	ops := []Operation{{Op: 0xD0, Params: []byte{4}}}
	input := []byte{0x01, 0x00, 0x00, 0x00}

	out, err := Run(input, ops, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := codec.U32LE(out); got != 0x00000010 {
		t.Fatalf("got %#x want 0x10", got)
	}
}

func TestScenarioLayerOrdering(t *testing.T) {
	m := identityManifest()
	m.OpcodeAction[0xA0] = ActionXorBuf
	m.OpcodeAction[0xB0] = ActionRotl32
	ops := []Operation{
		{Op: 0xA0, Params: []byte{0x0F}},
		{Op: 0xB0, Params: []byte{4}},
	}
	input := []byte{0x01, 0x02, 0x03, 0x04}

	forwardResult, err := Run(input, ops, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []byte{0xE0, 0xD0, 0xC0, 0xB0}; !bytes.Equal(forwardResult, want) {
		t.Fatalf("forward: got %x want %x", forwardResult, want)
	}
	backToPlain, err := Encode(forwardResult, ops, m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(backToPlain, input) {
		t.Fatalf("got %v want %v", backToPlain, input)
	}
}

func TestInvertibleActionsRoundTrip(t *testing.T) {
	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	invertible := map[int]bool{
		ActionVMApply: true, ActionVMApplyInv: true,
		ActionXorBuf: true, ActionXorInplace: true,
		ActionReadU32BE: true, ActionWriteU32BE: true,
		ActionReadU32LE: true, ActionWriteU32LE: true,
		ActionRotl32: true, ActionRotr32: true, ActionSwap32: true,
	}
	opcodeForAction := make(map[int]byte)
	for op, idx := range m.OpcodeAction {
		if idx != bytecode.Unassigned {
			opcodeForAction[idx] = byte(op)
		}
	}

	var ops []Operation
	for idx := range invertible {
		op, ok := opcodeForAction[idx]
		if !ok {
			continue
		}
		ops = append(ops, Operation{Op: op, Params: []byte{3, 7}})
	}

	input := make([]byte, 16)
	rand.Read(input)

	out, err := Run(input, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Encode(out, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, input) {
		t.Fatalf("round trip mismatch: got %x want %x", back, input)
	}
}

func FuzzRunEncodeRoundTrip(f *testing.F) {
	f.Add([]byte{1, 2, 3, 4}, byte(0xA0), byte(9))
	m := identityManifest()
	m.OpcodeAction[0xA0] = ActionXorBuf
	f.Fuzz(func(t *testing.T, input []byte, op byte, k byte) {
		ops := []Operation{{Op: 0xA0, Params: []byte{k}}}
		out, err := Run(input, ops, m)
		if err != nil {
			t.Skip()
		}
		back, err := Encode(out, ops, m)
		if err != nil {
			t.Skip()
		}
		if !bytes.Equal(back, input) {
			t.Fatalf("round trip mismatch for op=%d k=%d: got %x want %x", op, k, back, input)
		}
	})
}

func TestFromHexOddLengthFails(t *testing.T) {
	m := identityManifest()
	m.OpcodeAction[0xE0] = ActionFromHex
	_, err := Run([]byte("abc"), []Operation{{Op: 0xE0}}, m)
	if err == nil {
		t.Fatal("expected error for odd-length from_hex input")
	}
}

func TestChachaDecryptIsForwardOnly(t *testing.T) {
	m := identityManifest()
	ops := []Operation{{Op: 0, Params: make([]byte, 60)}}
	m.OpcodeAction[0] = ActionChachaDecrypt
	if _, err := Encode(make([]byte, 20), ops, m); err == nil {
		t.Fatal("expected chacha_decrypt encode to fail (forward-only action)")
	}
}
