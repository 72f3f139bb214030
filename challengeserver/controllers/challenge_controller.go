// Package controllers holds the HTTP handlers for challengeserver.
package controllers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/challengeserver/services"
)

// ChallengeController serves GET /challenge, POST /challenge and
// POST /challenge/verify.
type ChallengeController struct {
	svc *services.ChallengeService
}

// NewChallengeController builds a ChallengeController.
func NewChallengeController(svc *services.ChallengeService) *ChallengeController {
	return &ChallengeController{svc: svc}
}

// encryptedEnvelopeRequest is the common body shape of POST /challenge
// and POST /challenge/verify: {id, body}, body being a base64 packed
// client->server envelope.
type encryptedEnvelopeRequest struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// encryptedEnvelopeResponse wraps an encrypted server->client payload.
type encryptedEnvelopeResponse struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// StartSession handles GET /challenge.
func (c *ChallengeController) StartSession(w http.ResponseWriter, r *http.Request) {
	handshake, apiErr := c.svc.StartSession(r.Context())
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, handshake)
}

// IssueCredential handles POST /challenge.
func (c *ChallengeController) IssueCredential(w http.ResponseWriter, r *http.Request) {
	var req encryptedEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.New(apierr.KindInvalidEnvelope, err))
		return
	}
	envelope, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		writeAPIError(w, apierr.New(apierr.KindInvalidEnvelope, err))
		return
	}

	encrypted, apiErr := c.svc.IssueCredential(r.Context(), req.ID, envelope)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, encryptedEnvelopeResponse{
		ID:   req.ID,
		Body: base64.StdEncoding.EncodeToString(encrypted),
	})
}

// Verify handles POST /challenge/verify.
func (c *ChallengeController) Verify(w http.ResponseWriter, r *http.Request) {
	var req encryptedEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.New(apierr.KindInvalidEnvelope, err))
		return
	}
	envelope, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		writeAPIError(w, apierr.New(apierr.KindInvalidEnvelope, err))
		return
	}

	encrypted, apiErr := c.svc.VerifySolution(r.Context(), req.ID, envelope)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, encryptedEnvelopeResponse{
		ID:   req.ID,
		Body: base64.StdEncoding.EncodeToString(encrypted),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError translates a *apierr.Error to its HTTP status.
func writeAPIError(w http.ResponseWriter, apiErr *apierr.Error) {
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	writeJSON(w, apiErr.Kind.Status(), map[string]any{
		"ok":    false,
		"error": apiErr.Error(),
	})
}
