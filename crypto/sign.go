package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// PublicKeySize and SignatureSize mirror the stdlib ed25519 sizes; kept as
// named constants so the rest of the module never hardcodes 32/64.
const (
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

// PeerId is a 32-byte Ed25519 public key, doubling as a peer's identity.
type PeerId [PublicKeySize]byte

func (p PeerId) String() string { return Hash(p).String() }

// Less orders PeerIds lexicographically; PeerSet relies on this for its
// sorted, duplicate-free invariant.
func (p PeerId) Less(other PeerId) bool { return Hash(p).Less(Hash(other)) }

// Signature is a detached Ed25519 signature.
type Signature [SignatureSize]byte

// ErrInvalidSignature is returned by Verify when the signature does not
// validate under the given key.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// SigningKey wraps an Ed25519 private key for signing consensus messages.
// The driver owns the only SigningKey instance; it is never handed to
// peers or to the engine (which only ever sees PeerId and Signature).
type SigningKey struct {
	priv ed25519.PrivateKey
}

// GenerateKey creates a fresh signing key pair.
func GenerateKey() (*SigningKey, PeerId, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, PeerId{}, fmt.Errorf("crypto: generate key: %w", err)
	}
	var id PeerId
	copy(id[:], pub)
	return &SigningKey{priv: priv}, id, nil
}

// NewSigningKey wraps a raw 64-byte Ed25519 private key (seed || pubkey).
func NewSigningKey(raw []byte) (*SigningKey, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, raw)
	return &SigningKey{priv: priv}, nil
}

// Bytes returns the raw 64-byte Ed25519 private key (seed || pubkey), for
// writing into a peer's config file. Callers must handle it as a secret.
func (k *SigningKey) Bytes() []byte {
	out := make([]byte, ed25519.PrivateKeySize)
	copy(out, k.priv)
	return out
}

// PeerId returns the public identity of the key.
func (k *SigningKey) PeerId() PeerId {
	var id PeerId
	copy(id[:], k.priv.Public().(ed25519.PublicKey))
	return id
}

// Sign produces a detached signature over message.
func (k *SigningKey) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}

// Verify checks sig over message under the claimed signer's PeerId.
func Verify(signer PeerId, message []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, sig[:])
}

// VerifyOrErr is Verify but returns ErrInvalidSignature on failure, for
// callers that want a uniform error-returning validation path.
func VerifyOrErr(signer PeerId, message []byte, sig Signature) error {
	if !Verify(signer, message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// MarshalJSON encodes p as its lowercase hex string, for the transport
// package's JSON pull responses.
func (p PeerId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(p[:]) + `"`), nil
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (p *PeerId) UnmarshalJSON(data []byte) error {
	b, err := decodeHexField(data, PublicKeySize)
	if err != nil {
		return err
	}
	copy(p[:], b)
	return nil
}

// MarshalJSON encodes s as its lowercase hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(s[:]) + `"`), nil
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (s *Signature) UnmarshalJSON(data []byte) error {
	b, err := decodeHexField(data, SignatureSize)
	if err != nil {
		return err
	}
	copy(s[:], b)
	return nil
}

func decodeHexField(data []byte, size int) ([]byte, error) {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return nil, fmt.Errorf("crypto: expected a quoted hex string, got %q", data)
	}
	b, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("crypto: expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}
