package aead

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	rand.Read(key)
	pt := []byte("hello challenge gate")

	blob, err := Seal(key, pt)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := Open(key, blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("got %q want %q", got, pt)
	}
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	rand.Read(key)
	blob, _ := Seal(key, []byte("payload"))
	blob[len(blob)-1] ^= 0xFF
	if _, err := Open(key, blob); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestOpenDetachedRoundTrip(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	iv := make([]byte, chacha20poly1305.NonceSize)
	rand.Read(key)
	rand.Read(iv)

	aeadImpl, err := chacha20poly1305.New(key)
	if err != nil {
		t.Fatal(err)
	}
	pt := []byte("detached plaintext")
	sealed := aeadImpl.Seal(nil, iv, pt, nil)
	ct, tag := sealed[:len(sealed)-chacha20poly1305.Overhead], sealed[len(sealed)-chacha20poly1305.Overhead:]

	got, err := OpenDetached(key, iv, tag, ct)
	if err != nil {
		t.Fatalf("open detached: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("got %q want %q", got, pt)
	}
}
