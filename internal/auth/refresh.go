package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const refreshTokenBytes = 32

// NewOpaqueToken returns a URL-safe random string with n bytes of entropy.
func NewOpaqueToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewRefreshToken returns a fresh opaque refresh token value and the hash
// under which the ledger stores it.
func NewRefreshToken() (value string, hash string, err error) {
	value, err = NewOpaqueToken(refreshTokenBytes)
	if err != nil {
		return "", "", err
	}
	return value, HashRefreshToken(value), nil
}

// HashRefreshToken maps a presented token value to its ledger key.
func HashRefreshToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
