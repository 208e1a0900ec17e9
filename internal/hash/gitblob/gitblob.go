// Package gitblob computes git object identifiers for file content.
package gitblob

import (
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1 by definition
	"encoding/hex"
	"strconv"
)

// Hasher computes the git blob id GitHub reports as a file's sha.
type Hasher struct{}

// New returns a git blob hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex blob id of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha1.New() //nolint:gosec
	sum.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	sum.Write(data)
	return hex.EncodeToString(sum.Sum(nil)), nil
}
