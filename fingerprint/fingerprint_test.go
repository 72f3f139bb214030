package fingerprint

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"testing"
	"time"

	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/codec"
	"github.com/synnergy-labs/challenge-gate/kv/memkv"
)

func signEnvelope(t *testing.T, key []byte, payload json.RawMessage, ts int64) Envelope {
	t.Helper()
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	mac.Write([]byte("|"))
	mac.Write([]byte(jsonInt(ts)))
	return Envelope{
		Payload:   payload,
		Timestamp: ts,
		Signature: codec.Base64Encode(mac.Sum(nil)),
		Token:     "tok1",
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestVerifyAcceptsValidEnvelope(t *testing.T) {
	store := memkv.New()
	key := make([]byte, 32)
	rand.Read(key)
	ctx := context.Background()
	if err := IssueSigningKey(ctx, store, "tok1", key); err != nil {
		t.Fatal(err)
	}

	now := time.Unix(1_700_000_000, 0)
	env := signEnvelope(t, key, json.RawMessage(`{"score":0.1}`), now.Unix())

	if apiErr := Verify(ctx, store, env, now); apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	store := memkv.New()
	key := make([]byte, 32)
	rand.Read(key)
	ctx := context.Background()
	IssueSigningKey(ctx, store, "tok1", key)

	now := time.Unix(1_700_000_000, 0)
	stale := now.Add(-6 * time.Minute)
	env := signEnvelope(t, key, json.RawMessage(`{}`), stale.Unix())

	apiErr := Verify(ctx, store, env, now)
	if apiErr == nil || apiErr.Kind != apierr.KindInvalidFingerprint {
		t.Fatalf("got %v, want KindInvalidFingerprint", apiErr)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	store := memkv.New()
	key := make([]byte, 32)
	rand.Read(key)
	ctx := context.Background()
	IssueSigningKey(ctx, store, "tok1", key)

	now := time.Unix(1_700_000_000, 0)
	env := signEnvelope(t, key, json.RawMessage(`{"score":0.1}`), now.Unix())
	env.Payload = json.RawMessage(`{"score":0.9}`)

	apiErr := Verify(ctx, store, env, now)
	if apiErr == nil || apiErr.Kind != apierr.KindFingerprintSignatureMismatch {
		t.Fatalf("got %v, want KindFingerprintSignatureMismatch", apiErr)
	}
}
