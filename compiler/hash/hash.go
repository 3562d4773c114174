// Package hash computes content hashes of Kurt sources and compiled
// programs. The store keys cached bytecode by source hash and records the
// program hash so that equivalent scripts can be recognized.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/chazu/kurt/pkg/bytecode"
)

// Sum is a SHA-256 content hash.
type Sum [32]byte

// String returns the lowercase hex form of the hash.
func (h Sum) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex digits, for logs and listings.
func (h Sum) Short() string {
	return h.String()[:12]
}

// Source hashes script text exactly as given.
func Source(src string) Sum {
	return sha256.Sum256([]byte(src))
}

// Program hashes the executable content of a compiled program. Two programs
// that differ only in formatting, comments or local variable names produce
// the same hash.
func Program(prog *bytecode.Program) Sum {
	return sha256.Sum256(Serialize(prog))
}

// Parse decodes a hex hash as produced by Sum.String.
func Parse(s string) (Sum, bool) {
	var h Sum
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, false
	}
	copy(h[:], b)
	return h, true
}
