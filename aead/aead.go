// Package aead implements the ChaCha20-Poly1305 authenticated encryption
// used throughout the challenge protocol: packed IV‖CT‖TAG blobs for
// the WASM transport and session envelopes, and a detached form for the
// VM's in-buffer chacha_decrypt action.
package aead

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrShortCiphertext is returned when a packed blob is too small to
// contain a nonce and an authentication tag.
var ErrShortCiphertext = errors.New("aead: ciphertext too short")

// ErrKeySize is returned when a key is not exactly 32 bytes.
var ErrKeySize = errors.New("aead: key must be 32 bytes")

// Seal encrypts plaintext under key (32 bytes) with empty AAD and
// returns a packed blob: a fresh random 12-byte IV followed by
// ciphertext‖tag.
func Seal(key, plaintext []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// Open verifies and decrypts a packed blob produced by Seal.
func Open(key, blob []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	if len(blob) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrShortCiphertext
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce, ct := blob[:chacha20poly1305.NonceSize], blob[chacha20poly1305.NonceSize:]
	return aead.Open(nil, nonce, ct, nil)
}

// OpenDetached decrypts ciphertext using a separately supplied
// key, iv (12 bytes) and 16-byte Poly1305 tag, as required by the VM's
// chacha_decrypt action (idx 18), which receives key/iv/tag packed into
// a single 60-byte key buffer. It returns the plaintext or an error on
// authentication failure.
func OpenDetached(key, iv, tag, ciphertext []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	if len(iv) != chacha20poly1305.NonceSize {
		return nil, errors.New("aead: iv must be 12 bytes")
	}
	if len(tag) != chacha20poly1305.Overhead {
		return nil, errors.New("aead: tag must be 16 bytes")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	return aead.Open(nil, iv, sealed, nil)
}
