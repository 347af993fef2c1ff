// Package sha256 digests listing page bodies for snapshot object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher. A positive size truncates the hex
// digest to that many characters.
type Hasher struct {
	size int
}

// New returns a Hasher producing full 64-character digests.
func New() *Hasher {
	return &Hasher{}
}

// NewShort returns a Hasher producing digests of at most size characters.
func NewShort(size int) *Hasher {
	return &Hasher{size: size}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.size > 0 && h.size < len(digest) {
		digest = digest[:h.size]
	}
	return digest, nil
}
