package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRoomID returns a fresh room identifier: 128 bits from the system CSPRNG,
// hex encoded to 32 characters. Collisions are cryptographically negligible,
// which is what lets the id double as the sharing secret's public half.
func NewRoomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
