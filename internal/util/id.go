package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	token := RandomToken(16)
	if prefix == "" {
		return token
	}
	return prefix + "_" + token
}

// RandomToken returns n random bytes hex encoded.
func RandomToken(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
