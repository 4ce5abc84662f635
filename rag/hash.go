package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize collapses every run of whitespace to a single space and trims the
// ends. Case is preserved.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SourceHash is the hex SHA-256 of the normalized text.
func SourceHash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
