package auth

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TokenLength is the length of generated auth tokens in characters.
const TokenLength = 64

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

// NewToken generates a high-entropy printable auth token. Tokens are issued
// at Login and authenticate every subsequent data connection of the session.
func NewToken() (string, error) {
	raw := make([]byte, 4*TokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	out := make([]byte, TokenLength)
	for i := 0; i < TokenLength; i++ {
		v := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = tokenAlphabet[v%uint32(len(tokenAlphabet))]
	}
	return string(out), nil
}
