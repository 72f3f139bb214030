// Package services wraps the challenge, session, risk and kv packages
// behind the narrow surface challengeserver's HTTP controllers call.
package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/challenge"
	"github.com/synnergy-labs/challenge-gate/fingerprint"
	"github.com/synnergy-labs/challenge-gate/kv"
	"github.com/synnergy-labs/challenge-gate/session"
)

// issueCredentialBody is the optional decrypted shape of POST
// /challenge's request envelope. The fingerprint envelope itself is
// optional on the wire: a client that hasn't run its device-fingerprint
// collector yet still completes the handshake, but when present it is
// verified against the signing key stored under the envelope's own
// token (fp:sign:{token}) before a credential is issued.
type issueCredentialBody struct {
	Fingerprint *fingerprint.Envelope `json:"fingerprint,omitempty"`
}

// sessionTTL is the KV lifetime of a session:{id} record.
const sessionTTL = 300 * time.Second

// sessionRecord is the persisted shape of KV key session:{id}: the
// server's static X25519 private key for this session, its HMAC
// signing key, and (once issued) the challenge token bound to it.
type sessionRecord struct {
	PrivateKey string `json:"privateKey"`
	SigningKey string `json:"signingKey"`
	Token      string `json:"token"`
}

// ChallengeService is the application-layer facade the HTTP
// controllers call: it owns the per-build manifest and WASM bytes, the
// KV store, the JWT signer and the risk collaborators.
type ChallengeService struct {
	Manifest *bytecode.Manifest
	WASM     []byte
	Store    kv.Store
	Signer   *challenge.Signer
	// Manager, when set, receives a device record for every verified
	// fingerprint envelope.
	Manager *ManagerService
}

// NewChallengeService builds a ChallengeService from its already
// loaded per-build artifacts.
func NewChallengeService(manifest *bytecode.Manifest, wasm []byte, store kv.Store, signer *challenge.Signer) *ChallengeService {
	return &ChallengeService{Manifest: manifest, WASM: wasm, Store: store, Signer: signer}
}

// SessionHandshake is the response shape of GET /challenge.
type SessionHandshake struct {
	ID                string `json:"id"`
	EncryptedPublicKey string `json:"encryptedPublicKey"`
}

// StartSession implements GET /challenge: mint a fresh session, persist
// its key material under session:{id} with a 300s TTL, and return the
// session id plus its public key encrypted under the session's derived
// key.
func (s *ChallengeService) StartSession(ctx context.Context) (*SessionHandshake, *apierr.Error) {
	sess, err := session.New()
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}

	rec := sessionRecord{
		PrivateKey: base64.StdEncoding.EncodeToString(sess.PrivateKey[:]),
		SigningKey: base64.StdEncoding.EncodeToString(sess.SigningKey[:]),
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	if err := s.Store.Set(ctx, "session:"+sess.ID, encoded, sessionTTL); err != nil {
		return nil, apierr.New(apierr.KindInternal, fmt.Errorf("services: persist session: %w", err))
	}

	if err := fingerprint.IssueSigningKey(ctx, s.Store, sess.ID, sess.SigningKey[:]); err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}

	encryptedPub, err := session.EncryptResponse(sess.ID, sess.PublicKey[:])
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}

	return &SessionHandshake{
		ID:                 sess.ID,
		EncryptedPublicKey: base64.StdEncoding.EncodeToString(encryptedPub),
	}, nil
}

// loadSession fetches and decodes the session:{id} record.
func (s *ChallengeService) loadSession(ctx context.Context, id string) (*sessionRecord, *apierr.Error) {
	raw, err := s.Store.Get(ctx, "session:"+id)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, apierr.New(apierr.KindInvalidEnvelope, fmt.Errorf("services: unknown or expired session"))
		}
		return nil, apierr.New(apierr.KindInternal, err)
	}
	var rec sessionRecord
	if jsonErr := json.Unmarshal(raw, &rec); jsonErr != nil {
		return nil, apierr.New(apierr.KindInternal, jsonErr)
	}
	return &rec, nil
}

// credentialResponse is the decrypted payload of POST /challenge,
// carrying the fingerprint signing key alongside the builder's
// Credential.
type credentialResponse struct {
	challenge.Credential
	SigningKey string `json:"signingKey"`
}

// IssueCredential implements POST /challenge: decrypts the client's
// forward-secret request envelope, cross-references an optional
// fingerprint envelope against it, builds a fresh challenge
// credential, and returns it encrypted under the session key.
func (s *ChallengeService) IssueCredential(ctx context.Context, sessionID string, envelope []byte) ([]byte, *apierr.Error) {
	rec, apiErr := s.loadSession(ctx, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	priv, err := base64.StdEncoding.DecodeString(rec.PrivateKey)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	var serverPriv [32]byte
	copy(serverPriv[:], priv)

	plaintext, err := session.DecryptRequest(serverPriv, envelope)
	if err != nil {
		return nil, apierr.New(apierr.KindDecryptionFailed, err)
	}
	var body issueCredentialBody
	if jsonErr := json.Unmarshal(plaintext, &body); jsonErr == nil && body.Fingerprint != nil {
		if apiErr := fingerprint.Verify(ctx, s.Store, *body.Fingerprint, time.Now()); apiErr != nil {
			return nil, apiErr
		}
		if s.Manager != nil {
			var p struct {
				VisitorID string `json:"visitorId"`
			}
			if json.Unmarshal(body.Fingerprint.Payload, &p) == nil && p.VisitorID != "" {
				_ = s.Manager.RecordDevice(ctx, p.VisitorID)
			}
		}
	}

	cred, err := challenge.Build(ctx, s.Manifest, s.WASM, s.Store, s.Signer)
	if err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			return nil, apiErr
		}
		return nil, apierr.New(apierr.KindInternal, err)
	}

	rec.Token = cred.Token
	if updated, jsonErr := json.Marshal(rec); jsonErr == nil {
		_ = s.Store.Set(ctx, "session:"+sessionID, updated, sessionTTL)
	}

	resp := credentialResponse{Credential: *cred, SigningKey: rec.SigningKey}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	out, err := session.EncryptResponse(sessionID, payload)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	return out, nil
}

// verifyRequest is the decrypted payload of POST /challenge/verify.
type verifyRequest struct {
	Token  string `json:"token"`
	Solved int64  `json:"solved"`
}

// verifyResponse is the encrypted body of a completed verify call.
// Request-level failures (bad token, consumed challenge) never reach
// this shape; they surface as plain HTTP error statuses instead.
type verifyResponse struct {
	OK bool `json:"ok"`
}

// VerifySolution implements POST /challenge/verify: decrypt, parse
// {token, solved}, bitcast solved into a u32, delegate to
// challenge.Verify, and return the encrypted {ok} response.
func (s *ChallengeService) VerifySolution(ctx context.Context, sessionID string, envelope []byte) ([]byte, *apierr.Error) {
	rec, apiErr := s.loadSession(ctx, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	priv, err := base64.StdEncoding.DecodeString(rec.PrivateKey)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	var serverPriv [32]byte
	copy(serverPriv[:], priv)

	plaintext, err := session.DecryptRequest(serverPriv, envelope)
	if err != nil {
		return nil, apierr.New(apierr.KindDecryptionFailed, err)
	}

	var req verifyRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return nil, apierr.New(apierr.KindInvalidEnvelope, err)
	}
	// solved outside [-2^31, 2^32-1] is rejected at parse time;
	// values in [-2^31,-1] are bitcast (zero-extended) to u32.
	if req.Solved < -(1<<31) || req.Solved > (1<<32-1) {
		return nil, apierr.New(apierr.KindInvalidEnvelope, fmt.Errorf("services: solved out of range"))
	}
	solved := uint32(uint64(req.Solved) & 0xFFFFFFFF)

	ok, vErr := challenge.Verify(ctx, s.Store, req.Token, solved, s.Signer)
	if vErr != nil {
		if apiErr, isAPI := vErr.(*apierr.Error); isAPI {
			if apiErr.Kind == apierr.KindChallengeNotFoundOrUsed {
				return nil, apierr.New(apierr.KindChallengeNotFoundOrUsed, fmt.Errorf("not found or used"))
			}
			return nil, apiErr
		}
		return nil, apierr.New(apierr.KindInternal, vErr)
	}

	// A wrong answer is deliberately indistinguishable from any other
	// {ok:false}: 200 with no reason.
	payload, err := json.Marshal(verifyResponse{OK: ok})
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	out, err := session.EncryptResponse(sessionID, payload)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	return out, nil
}
