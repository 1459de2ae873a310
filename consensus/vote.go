package consensus

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bfte-project/bfte/crypto"
)

// VoteTarget is the sum type a Vote signs over: either a specific block or
// the dummy placeholder for the round. Represented explicitly (never as an
// "absent" block hash) so the canonical encoding has no optional fields.
type VoteTarget struct {
	IsDummy bool
	Block   BlockHash // meaningful only when !IsDummy
}

// TargetBlock returns a VoteTarget for a notarized-block vote.
func TargetBlock(h BlockHash) VoteTarget { return VoteTarget{Block: h} }

// TargetDummy returns the VoteTarget for a dummy vote.
func TargetDummy() VoteTarget { return VoteTarget{IsDummy: true} }

func (t VoteTarget) equal(other VoteTarget) bool {
	if t.IsDummy != other.IsDummy {
		return false
	}
	return t.IsDummy || t.Block == other.Block
}

func (t VoteTarget) marshalInto(e *encoder) {
	e.boolField(t.IsDummy)
	e.hash(t.Block)
}

// Vote is a signed statement that signer supports target at round. Signers
// cover (round, target); the signer's identity and round are bound by the
// caller validating against the scheduled peer set.
type Vote struct {
	Round     Round
	Target    VoteTarget
	Signer    crypto.PeerId
	Signature crypto.Signature
}

// SignBytes returns the canonical bytes a peer signs to cast this vote —
// the vote with its Signature field excluded, per "signatures cover
// (round, target)".
func (v Vote) SignBytes() []byte {
	e := newEncoder(domainVote)
	e.u64(uint64(v.Round))
	v.Target.marshalInto(e)
	e.peerId(v.Signer)
	return e.bytes()
}

// Sign fills in Signer and Signature using key.
func (v Vote) Sign(key *crypto.SigningKey) Vote {
	v.Signer = key.PeerId()
	v.Signature = key.Sign(v.SignBytes())
	return v
}

// VerifySignature checks the vote's signature against its claimed signer.
func (v Vote) VerifySignature() error {
	return crypto.VerifyOrErr(v.Signer, v.SignBytes(), v.Signature)
}

// ErrNotEnoughVotes is returned when building a Notarization/Finalization
// from fewer than threshold distinct signers.
var ErrNotEnoughVotes = errors.New("consensus: not enough distinct votes to reach threshold")

// ErrInconsistentVotes is returned when the votes given to build a
// Notarization don't share the same (round, target).
var ErrInconsistentVotes = errors.New("consensus: votes disagree on round or target")

// Notarization is a set of at least threshold valid votes from distinct
// peers, all agreeing on (round, target).
type Notarization struct {
	Round  Round
	Target VoteTarget
	Votes  []Vote // deduplicated by signer, sorted by signer for determinism
}

// NewNotarization validates that votes all share (round, target), dedupes by
// signer, and requires at least threshold distinct signers.
func NewNotarization(round Round, target VoteTarget, votes []Vote, threshold int) (Notarization, error) {
	bySigner := make(map[crypto.PeerId]Vote, len(votes))
	for _, v := range votes {
		if v.Round != round || !v.Target.equal(target) {
			return Notarization{}, ErrInconsistentVotes
		}
		bySigner[v.Signer] = v
	}
	if len(bySigner) < threshold {
		return Notarization{}, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughVotes, len(bySigner), threshold)
	}
	out := make([]Vote, 0, len(bySigner))
	for _, v := range bySigner {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signer.Less(out[j].Signer) })
	return Notarization{Round: round, Target: target, Votes: out}, nil
}

// IsForBlock reports whether the notarization is for a block (as opposed to
// a dummy) and returns the block hash.
func (n Notarization) IsForBlock() (BlockHash, bool) {
	if n.Target.IsDummy {
		return BlockHash{}, false
	}
	return n.Target.Block, true
}

// FinalizationVote asserts that the signer's highest known notarized block
// has round >= Round.
type FinalizationVote struct {
	Round     Round
	Signer    crypto.PeerId
	Signature crypto.Signature
}

// SignBytes returns the canonical bytes signed by a finalization vote.
func (fv FinalizationVote) SignBytes() []byte {
	e := newEncoder(domainFinalizationVote)
	e.u64(uint64(fv.Round)).peerId(fv.Signer)
	return e.bytes()
}

// Sign fills in Signer and Signature using key.
func (fv FinalizationVote) Sign(key *crypto.SigningKey) FinalizationVote {
	fv.Signer = key.PeerId()
	fv.Signature = key.Sign(fv.SignBytes())
	return fv
}

// VerifySignature checks the finalization vote's signature.
func (fv FinalizationVote) VerifySignature() error {
	return crypto.VerifyOrErr(fv.Signer, fv.SignBytes(), fv.Signature)
}

// Finalization is >= threshold distinct FinalizationVotes for the same
// round, making that round (and every notarized round <= it) irreversible.
type Finalization struct {
	Round Round
	Votes []FinalizationVote
}

// NewFinalization validates and dedupes finalization votes the same way
// NewNotarization does for ordinary votes.
func NewFinalization(round Round, votes []FinalizationVote, threshold int) (Finalization, error) {
	bySigner := make(map[crypto.PeerId]FinalizationVote, len(votes))
	for _, v := range votes {
		if v.Round != round {
			return Finalization{}, ErrInconsistentVotes
		}
		bySigner[v.Signer] = v
	}
	if len(bySigner) < threshold {
		return Finalization{}, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughVotes, len(bySigner), threshold)
	}
	out := make([]FinalizationVote, 0, len(bySigner))
	for _, v := range bySigner {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signer.Less(out[j].Signer) })
	return Finalization{Round: round, Votes: out}, nil
}
