package challenge

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/synnergy-labs/challenge-gate/codec"
	"github.com/synnergy-labs/challenge-gate/vm"
)

// TTL is the lifetime of both the challenge:{id} KV entry and the
// signed JWT.
const TTL = 300 * time.Second

// OperationDTO is the wire representation of a vm.Operation: Params is
// base64-encoded so the struct round-trips through JSON cleanly.
type OperationDTO struct {
	Op     byte   `json:"op"`
	Params string `json:"params"`
}

// Credential is the payload Build returns, which the POST /challenge
// response encrypts verbatim (alongside a signingKey added by the HTTP
// layer for the fingerprint envelope).
type Credential struct {
	EncryptedWasm []byte         `json:"encryptedWasm"`
	WasmKey       []byte         `json:"key"`
	Operations    []OperationDTO `json:"operations"`
	Input         []byte         `json:"input"`
	Token         string         `json:"token"`
}

// claims is the JWT payload binding a token to the challengeId it was
// issued for.
type claims struct {
	ChallengeID string `json:"challengeId"`
	jwt.RegisteredClaims
}

func toDTOs(ops []vm.Operation) []OperationDTO {
	out := make([]OperationDTO, len(ops))
	for i, op := range ops {
		out[i] = OperationDTO{Op: op.Op, Params: codec.Base64Encode(op.Params)}
	}
	return out
}

func fromDTOs(dtos []OperationDTO) ([]vm.Operation, error) {
	out := make([]vm.Operation, len(dtos))
	for i, d := range dtos {
		params, err := codec.Base64Decode(d.Params)
		if err != nil {
			return nil, err
		}
		out[i] = vm.Operation{Op: d.Op, Params: params}
	}
	return out, nil
}
