// Package session implements the per-handshake key material: an X25519
// keypair and an HMAC signing key, an HKDF-SHA256 session-id→key
// derivation, and the two encryption envelopes (server→client packed
// ChaCha20-Poly1305, client→server forward-secret X25519 +
// ChaCha20-Poly1305).
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/synnergy-labs/challenge-gate/aead"
)

// IDSize is the byte length of a session id before hex encoding.
const IDSize = 16

// SigningKeySize is the byte length of the per-session HMAC signing
// key.
const SigningKeySize = 32

// hkdfInfo is the fixed HKDF info string for session-key derivation.
const hkdfInfo = "challenge-id-key"

// Session is the key material issued per handshake.
type Session struct {
	ID         string // 16 random bytes, hex encoded
	PrivateKey [32]byte
	PublicKey  [32]byte
	SigningKey [32]byte
}

// New generates a fresh Session: a random hex id, an X25519 keypair and
// an HMAC signing key.
func New() (*Session, error) {
	var s Session

	idBytes := make([]byte, IDSize)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}
	s.ID = hex.EncodeToString(idBytes)

	if _, err := rand.Read(s.PrivateKey[:]); err != nil {
		return nil, fmt.Errorf("session: generate x25519 private key: %w", err)
	}
	pub, err := curve25519.X25519(s.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("session: derive x25519 public key: %w", err)
	}
	copy(s.PublicKey[:], pub)

	if _, err := rand.Read(s.SigningKey[:]); err != nil {
		return nil, fmt.Errorf("session: generate signing key: %w", err)
	}
	return &s, nil
}

// DeriveKey derives the 32-byte session transport key from a session
// id via HKDF-SHA256 with an empty salt and info "challenge-id-key".
func DeriveKey(sessionID string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(sessionID), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("session: hkdf: %w", err)
	}
	return key, nil
}

// EncryptResponse seals payload under the session's derived key for
// the server→client direction. The caller base64-encodes the packed
// IV‖CT‖TAG blob for the wire; this helper just picks the key.
func EncryptResponse(sessionID string, payload []byte) ([]byte, error) {
	key, err := DeriveKey(sessionID)
	if err != nil {
		return nil, err
	}
	return aead.Seal(key, payload)
}

// DecryptRequest opens a client→server envelope: packed
// IV‖ephemeralX25519PubKey‖CT‖TAG, encrypted under the X25519 shared
// secret between the session's static private key and the embedded
// ephemeral client public key. A fresh ephemeral key per request gives
// forward secrecy in this direction.
func DecryptRequest(serverPriv [32]byte, envelope []byte) ([]byte, error) {
	const ivSize = 12
	const pubKeySize = 32
	if len(envelope) < ivSize+pubKeySize {
		return nil, errors.New("session: envelope too short")
	}
	iv := envelope[:ivSize]
	ephemeralPub := envelope[ivSize : ivSize+pubKeySize]
	rest := envelope[ivSize+pubKeySize:]

	shared, err := curve25519.X25519(serverPriv[:], ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("session: ecdh: %w", err)
	}
	key := sha256.Sum256(shared)

	packed := append(append([]byte(nil), iv...), rest...)
	return aead.Open(key[:], packed)
}

// VerifyFingerprintSignature constant-time compares an HMAC-SHA256
// signature over msg against the expected signature, using signingKey
// fetched from the kv store under fp:sign:{token}.
func VerifyFingerprintSignature(signingKey, msg, signature []byte) bool {
	mac := hmac.New(sha256.New, signingKey)
	mac.Write(msg)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, signature)
}
