// Package crypto implements BFTE's cryptographic primitives: deterministic
// BLAKE3-class hashing and Ed25519-class signing. Every function here is
// pure — no package in this module is permitted to hash or sign with
// anything other than these entry points, so that canonical encodings
// always hash identically across peers.
package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the size in bytes of a digest produced by SumBLAKE3.
const HashSize = 32

// Hash is a 32-byte BLAKE3 digest.
type Hash [HashSize]byte

// ZeroHash is the all-zero digest, used as the genesis predecessor hash.
var ZeroHash = Hash{}

// IsZero reports whether h is the all-zero digest.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Less orders hashes lexicographically by byte value; PeerId.Less builds on
// it for canonical peer-set order and for sorting votes by signer.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// SumBLAKE3 computes the BLAKE3 digest of data.
func SumBLAKE3(data []byte) Hash {
	var h Hash
	sum := blake3.Sum256(data)
	copy(h[:], sum[:])
	return h
}

// HashFromHex decodes a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("crypto: hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MarshalJSON encodes h as its lowercase hex string, for the transport
// package's JSON pull responses.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	s, err := unquoteHex(data)
	if err != nil {
		return err
	}
	got, err := HashFromHex(s)
	if err != nil {
		return err
	}
	*h = got
	return nil
}

// unquoteHex strips the surrounding JSON string quotes from a hex literal.
func unquoteHex(data []byte) (string, error) {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return "", fmt.Errorf("crypto: expected a quoted hex string, got %q", data)
	}
	return string(data[1 : len(data)-1]), nil
}
