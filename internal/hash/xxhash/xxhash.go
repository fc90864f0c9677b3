// Package xxhash fingerprints page bodies with 64-bit xxHash. It is much
// cheaper than SHA-256 and sufficient for change detection within a site.
package xxhash

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Name identifies this algorithm in configuration.
const Name = "xxhash"

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns an xxHash hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the 16 character hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := xxhash.Sum64(data)
	s := strconv.FormatUint(sum, 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s, nil
}
