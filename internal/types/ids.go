// internal/types/ids.go
package types

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type OwnerHash string

// NewSessionID returns a fresh opaque session identifier. Dashes are
// stripped so the id can double as a SQL table-name suffix.
func NewSessionID() SessionID {
	return SessionID(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// NewOwnerHash derives the storage key for a (platform, user) pair.
// The hash is one-way: raw identity never reaches the database.
func NewOwnerHash(platform, userID string) OwnerHash {
	sum := sha1.Sum([]byte(strings.Join([]string{"user", platform, userID}, "-")))
	return OwnerHash(hex.EncodeToString(sum[:]))
}
