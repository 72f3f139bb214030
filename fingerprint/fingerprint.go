// Package fingerprint verifies the signed device-fingerprint envelope.
// Fingerprint collection itself happens client-side; this package only
// checks the HMAC-signed envelope that carries its result into the
// server, using the per-token signing key stored under fp:sign:{token}.
package fingerprint

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/codec"
	"github.com/synnergy-labs/challenge-gate/kv"
)

// pastWindow and futureWindow bound the acceptable clock skew for the
// envelope's timestamp.
const pastWindow = 5 * time.Minute
const futureWindow = 60 * time.Second

// Envelope is the wire shape of a signed fingerprint submission.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
	Token     string          `json:"token"`
}

// Verify checks an Envelope's timestamp window and HMAC-SHA256
// signature against the signing key stored under fp:sign:{token}, in
// constant time.
func Verify(ctx context.Context, store kv.Store, env Envelope, now time.Time) *apierr.Error {
	ts := time.Unix(env.Timestamp, 0)
	if ts.Before(now.Add(-pastWindow)) || ts.After(now.Add(futureWindow)) {
		return apierr.New(apierr.KindInvalidFingerprint, fmt.Errorf("fingerprint: timestamp %v outside acceptable window", ts))
	}

	signingKey, err := store.Get(ctx, "fp:sign:"+env.Token)
	if err != nil {
		if err == kv.ErrNotFound {
			return apierr.New(apierr.KindInvalidFingerprint, fmt.Errorf("fingerprint: no signing key for token"))
		}
		return apierr.New(apierr.KindInternal, fmt.Errorf("fingerprint: fetch signing key: %w", err))
	}
	key, err := codec.Base64Decode(string(signingKey))
	if err != nil {
		return apierr.New(apierr.KindInternal, fmt.Errorf("fingerprint: decode signing key: %w", err))
	}

	expectedSig := computeSignature(key, env.Payload, env.Timestamp)
	gotSig, err := codec.Base64Decode(env.Signature)
	if err != nil {
		return apierr.New(apierr.KindInvalidFingerprint, fmt.Errorf("fingerprint: decode signature: %w", err))
	}
	if !hmac.Equal(expectedSig, gotSig) {
		return apierr.New(apierr.KindFingerprintSignatureMismatch, fmt.Errorf("fingerprint: signature mismatch"))
	}
	return nil
}

// computeSignature is HMAC-SHA256(signingKey, payload "|" timestamp).
func computeSignature(key []byte, payload json.RawMessage, timestamp int64) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	mac.Write([]byte("|"))
	fmt.Fprintf(mac, "%d", timestamp)
	return mac.Sum(nil)
}

// IssueSigningKey persists a fresh base64-encoded signing key under
// fp:sign:{token} for 300s.
func IssueSigningKey(ctx context.Context, store kv.Store, token string, randomKey []byte) error {
	encoded := codec.Base64Encode(randomKey)
	return store.Set(ctx, "fp:sign:"+token, []byte(encoded), 300*time.Second)
}
