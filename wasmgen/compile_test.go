package wasmgen

import (
	"context"
	"crypto/rand"
	"os/exec"
	"testing"

	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/internal/testutil"
)

func TestCompileProducesWasmModule(t *testing.T) {
	if _, err := exec.LookPath("clang"); err != nil {
		t.Skip("clang not installed")
	}
	sandbox, err := testutil.NewSandbox()
	if err != nil {
		t.Fatal(err)
	}
	defer sandbox.Cleanup()

	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	src, err := Inject(m, "test-build")
	if err != nil {
		t.Fatal(err)
	}

	out, err := Compile(context.Background(), sandbox.Root, src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected a non-empty wasm module")
	}
	// wasm binary magic number.
	if string(out[:4]) != "\x00asm" {
		t.Fatalf("missing wasm magic header: %x", out[:4])
	}
}
