package sbox

import "testing"

func identity() [256]byte {
	var f [256]byte
	for i := range f {
		f[i] = byte(i)
	}
	return f
}

func TestNewPairIdentity(t *testing.T) {
	p, err := NewPair(identity())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Valid() {
		t.Fatal("identity pair should be valid")
	}
}

func TestNewPairRejectsNonPermutation(t *testing.T) {
	f := identity()
	f[1] = f[0] // duplicate value 0
	if _, err := NewPair(f); err == nil {
		t.Fatal("expected error for non-permutation")
	}
}

func TestApplyApplyInverseRoundTrip(t *testing.T) {
	f := identity()
	// reverse everything but keep it a permutation
	for i, j := 0, 255; i < j; i, j = i+1, j-1 {
		f[i], f[j] = f[j], f[i]
	}
	p, err := NewPair(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buf := []byte{1, 2, 3, 4, 5}
	orig := append([]byte(nil), buf...)
	p.Apply(buf)
	p.ApplyInverse(buf)
	for i := range buf {
		if buf[i] != orig[i] {
			t.Fatalf("round trip mismatch at %d: got %d want %d", i, buf[i], orig[i])
		}
	}
}
