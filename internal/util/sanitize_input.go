package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeEmail lowercases and trims an email address so the same
// mailbox always produces the same lookup hash.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex SHA-256 of a normalized email address.
// The hash is the only form of the address that may appear in logs,
// keys, or lookup columns.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

// SanitizeLogValue strips control characters that would let request
// input forge log lines.
func SanitizeLogValue(value string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
	return replacer.Replace(value)
}
