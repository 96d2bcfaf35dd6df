// Package secret generates and verifies the short-lived secrets used by
// verification and reset flows. Only digests are ever persisted.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// TokenBytes is the entropy of a generated plaintext token.
const TokenBytes = 16

// Generate returns a fresh plaintext token (hex, 2*TokenBytes chars) and the
// hex SHA-256 digest to persist in its place. The plaintext is shown to the
// user exactly once and never stored.
func Generate() (plaintext, digest string, err error) {
	var raw [TokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", err
	}

	plaintext = hex.EncodeToString(raw[:])
	return plaintext, Digest(plaintext), nil
}

// Digest returns the hex SHA-256 digest of a plaintext secret.
func Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of candidate and compares it against
// storedDigest in constant time. Absent or malformed input fails closed.
func Verify(candidate, storedDigest string) bool {
	if candidate == "" || storedDigest == "" {
		return false
	}

	stored, err := hex.DecodeString(storedDigest)
	if err != nil || len(stored) != sha256.Size {
		return false
	}

	sum := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(sum[:], stored) == 1
}
