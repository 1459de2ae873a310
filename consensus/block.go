package consensus

import (
	"errors"
	"fmt"

	"github.com/bfte-project/bfte/crypto"
)

// BlockHash is the deterministic BLAKE3 digest of a BlockHeader's canonical
// encoding.
type BlockHash = crypto.Hash

// BlockHeader is the signable, hashable commitment to a block. prev_block_hash
// refers to the most recent notarized non-dummy ancestor: dummies never
// alter the chain (§3).
type BlockHeader struct {
	Round         Round
	PrevBlockHash BlockHash
	PayloadHash   crypto.Hash
	ParamsHash    crypto.Hash
	Timestamp     uint64
}

// MarshalCanonical encodes the header per §4.1: length-prefixed,
// little-endian, one domain-separation tag.
func (h BlockHeader) MarshalCanonical() []byte {
	e := newEncoder(domainBlockHeader)
	e.u64(uint64(h.Round)).hash(h.PrevBlockHash).hash(h.PayloadHash).hash(h.ParamsHash).u64(h.Timestamp)
	return e.bytes()
}

// Hash computes the BlockHash of the header.
func (h BlockHeader) Hash() BlockHash {
	return crypto.SumBLAKE3(h.MarshalCanonical())
}

// Block pairs a header with its payload; hash(payload) must equal
// header.PayloadHash.
type Block struct {
	Header  BlockHeader
	Payload []byte
}

// ErrPayloadHashMismatch is returned by Block.Validate when the payload does
// not hash to the header's committed PayloadHash.
var ErrPayloadHashMismatch = errors.New("consensus: payload hash mismatch")

// Validate checks the one structural invariant a Block must satisfy on its
// own, independent of chain state: hash(payload) == header.payload_hash.
func (b Block) Validate() error {
	got := crypto.SumBLAKE3(b.Payload)
	if got != b.Header.PayloadHash {
		return fmt.Errorf("%w: computed %s, header has %s", ErrPayloadHashMismatch, got, b.Header.PayloadHash)
	}
	return nil
}

// Hash returns the hash of the block's header (the block's identity).
func (b Block) Hash() BlockHash { return b.Header.Hash() }

// NewBlock builds a Block whose header commits to the given payload.
func NewBlock(round Round, prev, paramsHash crypto.Hash, payload []byte, timestamp uint64) Block {
	h := BlockHeader{
		Round:         round,
		PrevBlockHash: prev,
		PayloadHash:   crypto.SumBLAKE3(payload),
		ParamsHash:    paramsHash,
		Timestamp:     timestamp,
	}
	return Block{Header: h, Payload: payload}
}

// Dummy is a placeholder for a round that did not yield a notarized block.
// It is never part of the chain but advances round numbering.
type Dummy struct {
	Round Round
}
