package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint keys a message by author and exact content. Case and
// whitespace are significant.
func Fingerprint(userID, content string) string {
	sum := blake2b.Sum256([]byte(content))
	return userID + ":" + hex.EncodeToString(sum[:])
}
