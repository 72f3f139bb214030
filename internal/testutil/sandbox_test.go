package testutil

import (
	"bytes"
	"os"
	"testing"
)

func TestSandboxReadWrite(t *testing.T) {
	sb, err := NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	data := []byte(`{"bytecodes":{}}`)
	if err := sb.WriteFile("bytecodes.json", data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := sb.ReadFile("bytecodes.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data mismatch: got %q want %q", got, data)
	}
}

func TestSandboxCleanupRemovesRoot(t *testing.T) {
	sb, err := NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	if err := sb.WriteFile("vm.c", []byte("int x;"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := sb.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(sb.Root); !os.IsNotExist(err) {
		t.Fatal("expected sandbox root to be removed")
	}
}
