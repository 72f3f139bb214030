package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/synnergy-labs/challenge-gate/aead"
	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/challenge"
	"github.com/synnergy-labs/challenge-gate/codec"
	"github.com/synnergy-labs/challenge-gate/fingerprint"
	"github.com/synnergy-labs/challenge-gate/kv/memkv"
	"github.com/synnergy-labs/challenge-gate/session"
	"github.com/synnergy-labs/challenge-gate/vm"
)

func newTestService(t *testing.T) (*ChallengeService, *memkvStore) {
	t.Helper()
	m, err := bytecode.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	store := memkv.New()
	signer, err := challenge.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	return NewChallengeService(m, []byte("fake wasm bytes"), store, signer), &memkvStore{store}
}

type memkvStore struct{ *memkv.Store }

func clientEnvelopeFor(t *testing.T, serverPub [32]byte, plaintext []byte) []byte {
	t.Helper()
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		t.Fatal(err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := curve25519.X25519(ephPriv[:], serverPub[:])
	if err != nil {
		t.Fatal(err)
	}
	key := sha256.Sum256(shared)
	sealed, err := aead.Seal(key[:], plaintext)
	if err != nil {
		t.Fatal(err)
	}
	return append(append(append([]byte(nil), sealed[:12]...), ephPub...), sealed[12:]...)
}

func TestFullHandshakeBuildAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	handshake, apiErr := svc.StartSession(ctx)
	if apiErr != nil {
		t.Fatalf("start session: %v", apiErr)
	}

	encryptedPub, err := base64.StdEncoding.DecodeString(handshake.EncryptedPublicKey)
	if err != nil {
		t.Fatal(err)
	}
	sessionKey, err := session.DeriveKey(handshake.ID)
	if err != nil {
		t.Fatal(err)
	}
	pubBytes, err := aead.Open(sessionKey, encryptedPub)
	if err != nil {
		t.Fatalf("decrypt server public key: %v", err)
	}
	var serverPub [32]byte
	copy(serverPub[:], pubBytes)

	envelope := clientEnvelopeFor(t, serverPub, []byte("hello"))
	encryptedCred, apiErr := svc.IssueCredential(ctx, handshake.ID, envelope)
	if apiErr != nil {
		t.Fatalf("issue credential: %v", apiErr)
	}
	credPlain, err := aead.Open(sessionKey, encryptedCred)
	if err != nil {
		t.Fatalf("decrypt credential response: %v", err)
	}
	var resp credentialResponse
	if err := json.Unmarshal(credPlain, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	ops, err := fromDTOsForTest(resp.Operations)
	if err != nil {
		t.Fatal(err)
	}
	result, err := vm.Run(resp.Input, ops, svc.Manifest)
	if err != nil {
		t.Fatal(err)
	}
	var expected uint32
	if len(result) >= 4 {
		expected = leU32Test(result[:4])
	}

	verifyPayload, err := json.Marshal(map[string]any{"token": resp.Token, "solved": expected})
	if err != nil {
		t.Fatal(err)
	}
	verifyEnvelope := clientEnvelopeFor(t, serverPub, verifyPayload)
	encryptedVerify, apiErr := svc.VerifySolution(ctx, handshake.ID, verifyEnvelope)
	if apiErr != nil {
		t.Fatalf("verify: %v", apiErr)
	}
	verifyPlain, err := aead.Open(sessionKey, encryptedVerify)
	if err != nil {
		t.Fatal(err)
	}
	var vResp verifyResponse
	if err := json.Unmarshal(verifyPlain, &vResp); err != nil {
		t.Fatal(err)
	}
	if !vResp.OK {
		t.Fatalf("expected ok=true, got %+v", vResp)
	}
}

// signingKeyFor reads the fp:sign:{id} record IssueSigningKey wrote
// during StartSession and decodes it back to raw bytes, standing in
// for the out-of-band channel a real client would use to learn its
// signing key ahead of submitting a fingerprint envelope.
func signingKeyFor(t *testing.T, store *memkvStore, id string) []byte {
	t.Helper()
	raw, err := store.Get(context.Background(), "fp:sign:"+id)
	if err != nil {
		t.Fatal(err)
	}
	key, err := codec.Base64Decode(string(raw))
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func signedFingerprint(key []byte, token string, payload json.RawMessage, ts int64) fingerprint.Envelope {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	mac.Write([]byte("|"))
	tsJSON, _ := json.Marshal(ts)
	mac.Write(tsJSON)
	return fingerprint.Envelope{
		Payload:   payload,
		Timestamp: ts,
		Signature: codec.Base64Encode(mac.Sum(nil)),
		Token:     token,
	}
}

func TestIssueCredentialAcceptsValidFingerprint(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	handshake, apiErr := svc.StartSession(ctx)
	if apiErr != nil {
		t.Fatalf("start session: %v", apiErr)
	}
	sessionKey, err := session.DeriveKey(handshake.ID)
	if err != nil {
		t.Fatal(err)
	}
	encryptedPub, err := base64.StdEncoding.DecodeString(handshake.EncryptedPublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pubBytes, err := aead.Open(sessionKey, encryptedPub)
	if err != nil {
		t.Fatal(err)
	}
	var serverPub [32]byte
	copy(serverPub[:], pubBytes)

	fpKey := signingKeyFor(t, store, handshake.ID)
	now := time.Now()
	env := signedFingerprint(fpKey, handshake.ID, json.RawMessage(`{"score":0.05}`), now.Unix())
	body, err := json.Marshal(map[string]any{"fingerprint": env})
	if err != nil {
		t.Fatal(err)
	}

	if _, apiErr := svc.IssueCredential(ctx, handshake.ID, clientEnvelopeFor(t, serverPub, body)); apiErr != nil {
		t.Fatalf("issue credential: %v", apiErr)
	}
}

func TestIssueCredentialRejectsTamperedFingerprint(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	handshake, apiErr := svc.StartSession(ctx)
	if apiErr != nil {
		t.Fatalf("start session: %v", apiErr)
	}
	sessionKey, err := session.DeriveKey(handshake.ID)
	if err != nil {
		t.Fatal(err)
	}
	encryptedPub, err := base64.StdEncoding.DecodeString(handshake.EncryptedPublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pubBytes, err := aead.Open(sessionKey, encryptedPub)
	if err != nil {
		t.Fatal(err)
	}
	var serverPub [32]byte
	copy(serverPub[:], pubBytes)

	fpKey := signingKeyFor(t, store, handshake.ID)
	now := time.Now()
	env := signedFingerprint(fpKey, handshake.ID, json.RawMessage(`{"score":0.05}`), now.Unix())
	env.Payload = json.RawMessage(`{"score":0.99}`)
	body, err := json.Marshal(map[string]any{"fingerprint": env})
	if err != nil {
		t.Fatal(err)
	}

	_, apiErr = svc.IssueCredential(ctx, handshake.ID, clientEnvelopeFor(t, serverPub, body))
	if apiErr == nil || apiErr.Kind != apierr.KindFingerprintSignatureMismatch {
		t.Fatalf("got %v, want KindFingerprintSignatureMismatch", apiErr)
	}
}

func fromDTOsForTest(dtos []challenge.OperationDTO) ([]vm.Operation, error) {
	out := make([]vm.Operation, len(dtos))
	for i, d := range dtos {
		params, err := base64.StdEncoding.DecodeString(d.Params)
		if err != nil {
			return nil, err
		}
		out[i] = vm.Operation{Op: d.Op, Params: params}
	}
	return out, nil
}

func leU32Test(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
