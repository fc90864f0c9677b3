// Package sha256 fingerprints page bodies with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Name identifies this algorithm in configuration.
const Name = "sha256"

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
