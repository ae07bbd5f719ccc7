// Package sha256 provides the content digest used for deduplication.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultLength is the number of hex characters kept from each digest.
const DefaultLength = 16

// Hasher implements ingest.Hasher using a truncated SHA-256 hex digest.
type Hasher struct {
	length int
}

// New returns a hasher producing DefaultLength-character digests.
func New() *Hasher {
	return &Hasher{length: DefaultLength}
}

// NewWithLength returns a hasher keeping length hex characters. Values outside
// (0, 64] keep the full digest.
func NewWithLength(length int) *Hasher {
	return &Hasher{length: length}
}

// Hash hashes the input and returns a hex digest prefix.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		return digest[:h.length], nil
	}
	return digest, nil
}
