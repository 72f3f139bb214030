// Package challenge implements the anti-abuse proof-of-work builder and
// verifier: a per-request, per-build randomized sequence of VM
// operations whose expected result only the server retains, and a
// one-shot, constant-time verifier against it.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/synnergy-labs/challenge-gate/aead"
	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/codec"
	"github.com/synnergy-labs/challenge-gate/kv"
	"github.com/synnergy-labs/challenge-gate/vm"
)

// excludedActions never appear in generated puzzles: chacha_decrypt is
// forward-only and cannot be satisfied by a client, and to_hex/from_hex
// change buffer length, which would make u32_le(result[0..4])
// ill-defined.
var excludedActions = map[int]bool{
	vm.ActionToHex:         true,
	vm.ActionFromHex:       true,
	vm.ActionChachaDecrypt: true,
}

// Signer issues and verifies the JWT that binds a challenge token to
// its challengeId. The challenge token is distinct from the session id:
// the session id authenticates the encryption envelope, the token
// authenticates the challenge binding.
type Signer struct {
	secret []byte
}

// NewSigner wraps the HMAC secret configured as CHALLENGE_VERIFY_SECRET
// (minimum 32 characters).
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("challenge: signing secret must be at least 32 bytes")
	}
	return &Signer{secret: secret}, nil
}

func (s *Signer) sign(challengeID string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ChallengeID: challengeID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
	})
	return tok.SignedString(s.secret)
}

func (s *Signer) verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("challenge: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return "", newError(KindTokenExpired, err)
		}
		return "", newError(KindTokenInvalid, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", newError(KindTokenInvalid, fmt.Errorf("challenge: invalid claims"))
	}
	return c.ChallengeID, nil
}

// admissibleOpcodes returns the opcodes bound to an action not in
// excludedActions.
func admissibleOpcodes(m *bytecode.Manifest) []byte {
	var out []byte
	for op := 0; op < 256; op++ {
		idx := m.OpcodeAction[byte(op)]
		if idx == bytecode.Unassigned || excludedActions[idx] {
			continue
		}
		out = append(out, byte(op))
	}
	return out
}

// rejectionUint32 draws a uniform value in [0, n) from r via rejection
// sampling, the same bias-avoidance technique the bytecode generator
// uses.
func rejectionUint32(r io.Reader, n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("challenge: rejectionUint32: n must be > 0")
	}
	limit := (^uint32(0) / n) * n
	var buf [4]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("challenge: csprng read: %w", err)
		}
		v := binary.LittleEndian.Uint32(buf[:])
		if v < limit {
			return v % n, nil
		}
	}
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("challenge: csprng read: %w", err)
	}
	return buf, nil
}

// partition splits numOps into numLayers parts, each >= 1, drawn with
// uniform rejection sampling.
func partition(r io.Reader, numOps, numLayers int) ([]int, error) {
	parts := make([]int, numLayers)
	for i := range parts {
		parts[i] = 1
	}
	remaining := numOps - numLayers
	for remaining > 0 {
		idx, err := rejectionUint32(r, uint32(numLayers))
		if err != nil {
			return nil, err
		}
		parts[idx]++
		remaining--
	}
	return parts, nil
}

func shuffleOps(r io.Reader, ops []vm.Operation) error {
	for i := len(ops) - 1; i > 0; i-- {
		j, err := rejectionUint32(r, uint32(i+1))
		if err != nil {
			return err
		}
		ops[i], ops[j] = ops[j], ops[i]
	}
	return nil
}

// generateOperations draws numOps in [8,15] across numLayers in [2,5]
// layers, each op a random admissible opcode with 0-7 random parameter
// bytes, shuffled within its layer.
func generateOperations(r io.Reader, admissible []byte) ([]vm.Operation, error) {
	if len(admissible) == 0 {
		return nil, fmt.Errorf("challenge: manifest has no admissible opcodes")
	}
	numOpsRange, err := rejectionUint32(r, 8) // 0..7 -> numOps 8..15
	if err != nil {
		return nil, err
	}
	numOps := 8 + int(numOpsRange)

	maxLayers := numOps
	if maxLayers > 5 {
		maxLayers = 5
	}
	layerRange, err := rejectionUint32(r, uint32(maxLayers-2+1)) // 0..(maxLayers-2) -> numLayers 2..maxLayers
	if err != nil {
		return nil, err
	}
	numLayers := 2 + int(layerRange)

	sizes, err := partition(r, numOps, numLayers)
	if err != nil {
		return nil, err
	}

	all := make([]vm.Operation, 0, numOps)
	for _, size := range sizes {
		layer := make([]vm.Operation, size)
		for i := range layer {
			opIdx, err := rejectionUint32(r, uint32(len(admissible)))
			if err != nil {
				return nil, err
			}
			paramLen, err := rejectionUint32(r, 8) // 0..7
			if err != nil {
				return nil, err
			}
			params, err := randomBytes(r, int(paramLen))
			if err != nil {
				return nil, err
			}
			layer[i] = vm.Operation{Op: admissible[opIdx], Params: params}
		}
		if err := shuffleOps(r, layer); err != nil {
			return nil, err
		}
		all = append(all, layer...)
	}
	return all, nil
}

// Build generates a fresh challenge: a random operation chain and
// input, the server-side expected value (persisted under
// challenge:{id}), the AEAD-sealed WASM blob, and the signed token that
// binds them.
func Build(ctx context.Context, m *bytecode.Manifest, wasmBytes []byte, store kv.Store, signer *Signer) (*Credential, error) {
	csprng := rand.Reader

	admissible := admissibleOpcodes(m)
	ops, err := generateOperations(csprng, admissible)
	if err != nil {
		return nil, newError(KindInternal, err)
	}

	input, err := randomBytes(csprng, 8)
	if err != nil {
		return nil, newError(KindInternal, err)
	}

	result, err := vm.Run(input, ops, m)
	if err != nil {
		return nil, newError(KindInternal, fmt.Errorf("challenge: reference run: %w", err))
	}
	var expected uint32
	if len(result) >= 4 {
		expected = codec.U32LE(result[:4])
	}

	wasmKey, err := randomBytes(csprng, 32)
	if err != nil {
		return nil, newError(KindInternal, err)
	}
	encryptedWasm, err := aead.Seal(wasmKey, wasmBytes)
	if err != nil {
		return nil, newError(KindInternal, fmt.Errorf("challenge: seal wasm: %w", err))
	}

	challengeID, err := randomHexID(csprng)
	if err != nil {
		return nil, newError(KindInternal, err)
	}

	expectedBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(expectedBytes, expected)
	if err := store.Set(ctx, "challenge:"+challengeID, expectedBytes, TTL); err != nil {
		return nil, newError(KindInternal, fmt.Errorf("challenge: persist expected value: %w", err))
	}

	token, err := signer.sign(challengeID)
	if err != nil {
		return nil, newError(KindInternal, fmt.Errorf("challenge: sign token: %w", err))
	}

	return &Credential{
		EncryptedWasm: encryptedWasm,
		WasmKey:       wasmKey,
		Operations:    toDTOs(ops),
		Input:         input,
		Token:         token,
	}, nil
}

func randomHexID(r io.Reader) (string, error) {
	b, err := randomBytes(r, 16)
	if err != nil {
		return "", err
	}
	return codec.HexEncode(b), nil
}

// Verify checks a solved answer: JWT verification, atomic
// get-and-delete of the stored expected value, and a constant-time
// equality check against solved. The boolean result answers
// {ok:true}/{ok:false}; a
// non-nil *Error signals a request-level failure (bad token, not
// found, internal) distinct from a merely wrong answer.
func Verify(ctx context.Context, store kv.Store, token string, solved uint32, signer *Signer) (bool, error) {
	challengeID, err := signer.verify(token)
	if err != nil {
		return false, err
	}

	raw, err := store.GetAndDelete(ctx, "challenge:"+challengeID)
	if err != nil {
		if err == kv.ErrNotFound {
			return false, newError(KindChallengeNotFoundOrUsed, err)
		}
		return false, newError(KindInternal, fmt.Errorf("challenge: fetch expected value: %w", err))
	}
	if len(raw) != 4 {
		return false, newError(KindInternal, fmt.Errorf("challenge: corrupt expected value"))
	}
	expected := binary.LittleEndian.Uint32(raw)

	var solvedBytes, expectedBytes [4]byte
	binary.LittleEndian.PutUint32(solvedBytes[:], solved)
	binary.LittleEndian.PutUint32(expectedBytes[:], expected)
	if subtle.ConstantTimeCompare(solvedBytes[:], expectedBytes[:]) != 1 {
		return false, nil
	}
	return true, nil
}
