package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// keyPattern allows alphanumeric characters, hyphens, and underscores
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateKey validates an idempotency key format and length
func ValidateKey(key string) error {
	return ValidateKeyWithMaxLength(key, DefaultMaxKeyLength)
}

// ValidateKeyWithMaxLength validates an idempotency key with a custom max length
func ValidateKeyWithMaxLength(key string, maxLength int) error {
	if key == "" {
		return ErrKeyRequired
	}

	if len(key) > maxLength {
		return ErrKeyTooLong
	}

	if !keyPattern.MatchString(key) {
		return ErrKeyInvalid
	}

	return nil
}

// ComputeFingerprint hashes the request parameters so a reused key with
// different parameters can be detected.
func ComputeFingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeKey normalizes an idempotency key by trimming whitespace
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}
