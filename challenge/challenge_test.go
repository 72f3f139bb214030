package challenge

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/kv/memkv"
	"github.com/synnergy-labs/challenge-gate/vm"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAdmissibleOpcodesExcludesReservedActions(t *testing.T) {
	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	admissible := admissibleOpcodes(m)
	for _, op := range admissible {
		idx := m.OpcodeAction[op]
		if excludedActions[idx] {
			t.Fatalf("opcode 0x%02x maps to excluded action %d", op, idx)
		}
	}
}

func TestGenerateOperationsWithinBounds(t *testing.T) {
	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	admissible := admissibleOpcodes(m)
	ops, err := generateOperations(rand.Reader, admissible)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) < 8 || len(ops) > 15 {
		t.Fatalf("numOps = %d, want in [8,15]", len(ops))
	}
	for _, op := range ops {
		if len(op.Params) > 7 {
			t.Fatalf("params length %d exceeds 7", len(op.Params))
		}
		idx := m.OpcodeAction[op.Op]
		if idx == bytecode.Unassigned || excludedActions[idx] {
			t.Fatalf("generated op uses inadmissible opcode 0x%02x", op.Op)
		}
	}
}

func TestBuildAndVerifyRoundTrip(t *testing.T) {
	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	store := memkv.New()
	signer := testSigner(t)
	ctx := context.Background()

	cred, err := Build(ctx, m, []byte("fake wasm bytes"), store, signer)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ops, err := fromDTOs(cred.Operations)
	if err != nil {
		t.Fatal(err)
	}
	result, err := vm.Run(cred.Input, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	var expected uint32
	if len(result) >= 4 {
		expected = leU32(result[:4])
	}

	ok, err := Verify(ctx, store, cred.Token, expected, signer)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for the correct answer")
	}
}

func TestVerifyIsOneShot(t *testing.T) {
	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	store := memkv.New()
	signer := testSigner(t)
	ctx := context.Background()

	cred, err := Build(ctx, m, []byte("fake wasm bytes"), store, signer)
	if err != nil {
		t.Fatal(err)
	}
	ops, _ := fromDTOs(cred.Operations)
	result, _ := vm.Run(cred.Input, ops, m)
	var expected uint32
	if len(result) >= 4 {
		expected = leU32(result[:4])
	}

	if ok, err := Verify(ctx, store, cred.Token, expected, signer); err != nil || !ok {
		t.Fatalf("first verify: ok=%v err=%v", ok, err)
	}

	_, err = Verify(ctx, store, cred.Token, expected, signer)
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != KindChallengeNotFoundOrUsed {
		t.Fatalf("second verify: got err=%v, want KindChallengeNotFoundOrUsed", err)
	}
}

func TestVerifyWrongAnswerIsNotAnError(t *testing.T) {
	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	store := memkv.New()
	signer := testSigner(t)
	ctx := context.Background()

	cred, err := Build(ctx, m, []byte("fake wasm bytes"), store, signer)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := Verify(ctx, store, cred.Token, 0xdeadbeef, signer)
	if err != nil {
		t.Fatalf("unexpected error for a wrong answer: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a wrong answer")
	}
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
