// Package credential hashes opaque API credentials for storage and lookup.
// Credentials are high-entropy, server-issued secrets (not user passwords),
// so a fast one-way hash is used rather than a slow password KDF.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 digest of rawKey, the value stored
// in and looked up against the credentials table. Credentials are never
// compared in plaintext.
func Hash(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
