// Package sha256 fingerprints encoded datasets so unchanged re-runs can be
// recognized downstream.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix marks digests produced by this package.
const Prefix = "sha256:"

// Hasher implements harvest.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the prefixed hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
