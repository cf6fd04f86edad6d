package delivery

import (
	"crypto/rand"     // Cryptographic randomness
	"encoding/base32" // Human typable alphabet
)

// proofCodeBytes gives 80 bits of entropy per code
const proofCodeBytes = 10

var proofEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewProofCode returns a random 16 character code from A-Z and 2-7
func NewProofCode() (string, error) {
	b := make([]byte, proofCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return proofEncoding.EncodeToString(b), nil
}
