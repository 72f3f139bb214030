package session

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/synnergy-labs/challenge-gate/aead"
)

func TestNewSessionProducesValidKeypair(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(s.ID) != IDSize*2 {
		t.Fatalf("id length = %d, want %d", len(s.ID), IDSize*2)
	}
	pub, err := curve25519.X25519(s.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pub, s.PublicKey[:]) {
		t.Fatal("public key does not match private key")
	}
}

func TestDeriveKeyMatchesHKDFExpectations(t *testing.T) {
	k1, err := DeriveKey("abc123")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveKey("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("HKDF derivation is not deterministic for the same id")
	}
	k3, _ := DeriveKey("different-id")
	if bytes.Equal(k1, k3) {
		t.Fatal("different ids produced the same key")
	}
	if len(k1) != 32 {
		t.Fatalf("key length = %d, want 32", len(k1))
	}
}

func TestEncryptResponseRoundTrip(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte(`{"hello":"world"}`)
	blob, err := EncryptResponse(s.ID, payload)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	key, _ := DeriveKey(s.ID)
	got, err := aead.Open(key, blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestDecryptRequestRoundTrip(t *testing.T) {
	var serverPriv [32]byte
	rand.Read(serverPriv[:])
	serverPub, _ := curve25519.X25519(serverPriv[:], curve25519.Basepoint)

	var clientEphPriv [32]byte
	rand.Read(clientEphPriv[:])
	clientEphPub, _ := curve25519.X25519(clientEphPriv[:], curve25519.Basepoint)

	shared, err := curve25519.X25519(clientEphPriv[:], serverPub)
	if err != nil {
		t.Fatal(err)
	}
	key := sha256.Sum256(shared)
	sealed, err := aead.Seal(key[:], []byte("plaintext payload"))
	if err != nil {
		t.Fatal(err)
	}
	// envelope = IV‖ephemeralPub‖CT‖TAG; aead.Seal already prefixes its
	// own IV, so splice the ephemeral public key in after it.
	envelope := append(append(append([]byte(nil), sealed[:12]...), clientEphPub...), sealed[12:]...)

	var spk [32]byte
	copy(spk[:], serverPriv[:])
	got, err := DecryptRequest(spk, envelope)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != "plaintext payload" {
		t.Fatalf("got %q", got)
	}
}

func TestVerifyFingerprintSignature(t *testing.T) {
	key := []byte("signing-key-32-bytes-long-000000")
	msg := []byte("payload|1690000000")
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	mac := h.Sum(nil)
	if !VerifyFingerprintSignature(key, msg, mac) {
		t.Fatal("expected valid signature to verify")
	}
	mac[0] ^= 0xFF
	if VerifyFingerprintSignature(key, msg, mac) {
		t.Fatal("expected tampered signature to fail")
	}
}
