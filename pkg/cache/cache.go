// Package cache stores generated answers keyed by owner and normalized
// question.
//
// Keys have the form <prefix><owner hash>:<query hash>, so all entries of an
// owner share OwnerPrefix and can be dropped together when that owner's
// documents change.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const DefaultPrefix = "chat:"

// Normalize lowercases a question and collapses whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Key is the cache key of a question asked by an owner.
func Key(prefix, ownerID, query string) string {
	return OwnerPrefix(prefix, ownerID) + digest(Normalize(query))
}

// OwnerPrefix is shared by every key of one owner.
func OwnerPrefix(prefix, ownerID string) string {
	return prefix + digest(ownerID)[:16] + ":"
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
