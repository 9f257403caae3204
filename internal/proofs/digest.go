package proofs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Digest returns the 0x-prefixed keccak256 hash of v's JSON encoding.
// encoding/json sorts map keys, which keeps the encoding canonical for the
// struct and map types used in summaries.
func Digest(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode proof payload: %w", err)
	}
	return crypto.Keccak256Hash(payload).Hex(), nil
}

// Verify recomputes the digest of v and compares it with reference.
func Verify(v any, reference string) (bool, error) {
	got, err := Digest(v)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, strings.TrimSpace(reference)), nil
}
