package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/bfte-project/bfte/crypto"
)

// ErrEmptyPeerSet is returned by NewPeerSet when given no peers.
var ErrEmptyPeerSet = errors.New("consensus: peer set must have at least one peer")

// ErrDuplicatePeer is returned by NewPeerSet when a PeerId repeats.
var ErrDuplicatePeer = errors.New("consensus: duplicate peer in peer set")

// PeerSet is an ordered, duplicate-free sequence of PeerIds. The ordering is
// the sort order of the raw PeerId bytes — not insertion order — so that
// two peers constructing a PeerSet from the same membership always agree on
// its canonical encoding and therefore on its hash and on leader election.
// Grounded on original_source's peer_set.rs, whose Rust PeerSet keeps its
// backing Vec sorted via binary_search/sort_unstable.
type PeerSet struct {
	peers []crypto.PeerId
}

// NewPeerSet builds a PeerSet from an arbitrary-order, duplicate-free slice.
func NewPeerSet(peers []crypto.PeerId) (PeerSet, error) {
	if len(peers) == 0 {
		return PeerSet{}, ErrEmptyPeerSet
	}
	sorted := make([]crypto.PeerId, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return PeerSet{}, fmt.Errorf("%w: %s", ErrDuplicatePeer, sorted[i])
		}
	}
	return PeerSet{peers: sorted}, nil
}

// Len returns n, the total number of peers.
func (s PeerSet) Len() int { return len(s.peers) }

// At returns the peer at the given position in canonical (sorted) order.
func (s PeerSet) At(i int) crypto.PeerId { return s.peers[i] }

// All returns a copy of the peers in canonical order.
func (s PeerSet) All() []crypto.PeerId {
	out := make([]crypto.PeerId, len(s.peers))
	copy(out, s.peers)
	return out
}

// MaxFaulty returns f = floor((n-1)/3), the Byzantine tolerance.
func (s PeerSet) MaxFaulty() int {
	n := len(s.peers)
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// Threshold returns n - f, the minimum number of distinct signatures
// required to notarize a block or finalize a round.
func (s PeerSet) Threshold() int {
	return len(s.peers) - s.MaxFaulty()
}

// Index returns the position of id in canonical order, or -1 if absent.
func (s PeerSet) Index(id crypto.PeerId) int {
	for i, p := range s.peers {
		if p == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is a member of the set.
func (s PeerSet) Contains(id crypto.PeerId) bool { return s.Index(id) >= 0 }

// MarshalCanonical writes the peer set in sorted order, length-prefixed.
func (s PeerSet) MarshalCanonical() []byte {
	e := &encoder{}
	e.u32(uint32(len(s.peers)))
	for _, p := range s.peers {
		e.peerId(p)
	}
	return e.bytes()
}

// MarshalJSON encodes the peer set as its canonical-order peer list, for the
// driver's full-state persistence snapshots.
func (s PeerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.peers)
}

// UnmarshalJSON decodes a peer list produced by MarshalJSON. The list is
// already in canonical order (it was produced by this type), so it's
// accepted as-is rather than re-validated through NewPeerSet.
func (s *PeerSet) UnmarshalJSON(data []byte) error {
	var peers []crypto.PeerId
	if err := json.Unmarshal(data, &peers); err != nil {
		return err
	}
	s.peers = peers
	return nil
}

func (s PeerSet) equal(other PeerSet) bool {
	if len(s.peers) != len(other.peers) {
		return false
	}
	for i := range s.peers {
		if s.peers[i] != other.peers[i] {
			return false
		}
	}
	return true
}
