package engine

import (
	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
	"github.com/bfte-project/bfte/crypto"
)

// NotarizedBlockRecord pairs a notarized block with its proof of
// notarization, as persisted at chain/notarized_block/<round>.
type NotarizedBlockRecord struct {
	Block        consensus.Block
	Notarization consensus.Notarization
}

// State is the complete per-peer consensus view, exactly the tuple named in
// spec.md §4.3. It carries no wall-clock, no peer connections, no signing
// key — those live in the driver. Every field is a plain value or map;
// Machine.Step never mutates a State in place, it returns a new one, so two
// goroutines (or two points in a replay) holding the "same" State never
// observe each other's writes.
type State struct {
	OurPeerId crypto.PeerId

	HighestNotarizedRound    consensus.Round
	HighestNotarizedChainTip consensus.BlockHash
	HighestFinalizedRound    consensus.Round
	CurrentRound             consensus.Round

	// CurrentParams is the genesis (round-0) ConsensusParams. Scheduled
	// changes live in ScheduledParams, keyed by the round they take
	// effect at; ParamsForRound resolves the two into "the params in
	// force at round r".
	CurrentParams   params.ConsensusParams
	ScheduledParams map[consensus.Round]params.ConsensusParams

	NotarizedBlocks  map[consensus.Round]NotarizedBlockRecord
	NotarizedDummies map[consensus.Round]consensus.Notarization
	BlocksByHash     map[consensus.BlockHash]consensus.Block

	// PendingVotes holds not-yet-notarized votes, keyed by round then
	// signer — at most one vote per signer per round (a second, different
	// vote from the same signer is rejected as equivocation, see
	// ErrConflictingVote).
	PendingVotes map[consensus.Round]map[crypto.PeerId]consensus.Vote

	// PendingFinalizationVotes holds the latest FinalizationVote seen from
	// each signer; a signer's entry is only ever replaced by a vote for a
	// higher round, mirroring "recomputed as the notarized frontier
	// advances" (§4.3 step 7).
	PendingFinalizationVotes map[crypto.PeerId]consensus.FinalizationVote

	// OurProposals holds the block we (as leader) proposed for a round, so
	// repeated pulls serve the same value and we never emit a second,
	// different proposal for a round we already proposed in.
	OurProposals map[consensus.Round]consensus.Block

	// SeenLeaderProposal records, per round, the first syntactically valid
	// proposal observed from that round's leader — enforcing "never vote
	// on a second proposal from the same leader in the same round".
	SeenLeaderProposal map[consensus.Round]consensus.BlockHash

	// PendingCItems are locally submitted items not yet included in a
	// proposed block.
	PendingCItems []consensus.CItem

	// RequestedVoteSign records, per round, that we have already asked the
	// driver to sign our vote (for a leader proposal or a timeout dummy) so
	// a repeated Step call never issues a second IntentSignVote for the
	// same round.
	RequestedVoteSign map[consensus.Round]bool

	// LastRequestedFinalizationRound is the highest round we've already
	// asked the driver to sign a FinalizationVote for, so advanceRounds
	// only issues IntentSignFinalizationVote when the notarized frontier
	// has actually moved past it.
	LastRequestedFinalizationRound consensus.Round

	// LastKnownTimestamp is the most recent wall-clock reading the driver
	// has handed in, via EventTick or EventLocalCItems. It is the only
	// notion of "now" Step ever sees, and is what a block we propose
	// commits to as its Timestamp.
	LastKnownTimestamp uint64

	// HasEnteredRound marks that advanceRounds has already issued "enter
	// CurrentRound" intents (arm the round timer, issue the round's
	// pulls) at least once. Genesis starts at round 0 without ever going
	// through a CurrentRound transition, so relying on roundChanged alone
	// would leave the very first round's timer never armed; this flag
	// lets the genesis round get the same one-time entry treatment every
	// later round gets for free from its transition into CurrentRound.
	HasEnteredRound bool
}

// NewGenesisState bootstraps a State at round 0 under the given genesis
// params, with an empty chain.
func NewGenesisState(ourPeerId crypto.PeerId, genesis params.ConsensusParams) State {
	return State{
		OurPeerId:                ourPeerId,
		HighestNotarizedChainTip: crypto.ZeroHash,
		CurrentRound:             consensus.GenesisRound,
		CurrentParams:            genesis,
		ScheduledParams:          make(map[consensus.Round]params.ConsensusParams),
		NotarizedBlocks:          make(map[consensus.Round]NotarizedBlockRecord),
		NotarizedDummies:         make(map[consensus.Round]consensus.Notarization),
		BlocksByHash:             make(map[consensus.BlockHash]consensus.Block),
		PendingVotes:             make(map[consensus.Round]map[crypto.PeerId]consensus.Vote),
		PendingFinalizationVotes: make(map[crypto.PeerId]consensus.FinalizationVote),
		OurProposals:             make(map[consensus.Round]consensus.Block),
		SeenLeaderProposal:       make(map[consensus.Round]consensus.BlockHash),
		RequestedVoteSign:        make(map[consensus.Round]bool),
	}
}

// ParamsForRound resolves the params in force at round r: the latest
// scheduled entry whose effective round is <= r, falling back to the
// genesis params.
func (s State) ParamsForRound(r consensus.Round) params.ConsensusParams {
	best := s.CurrentParams
	bestRound := consensus.GenesisRound
	found := false
	for effRound, p := range s.ScheduledParams {
		if effRound <= r && (!found || effRound > bestRound) {
			best, bestRound, found = p, effRound, true
		}
	}
	return best
}

// clone returns a shallow copy of s with every mutable map independently
// copied, so mutating the clone never affects s or any other State sharing
// its original maps.
func (s State) clone() State {
	out := s
	out.ScheduledParams = cloneMap(s.ScheduledParams)
	out.NotarizedBlocks = cloneMap(s.NotarizedBlocks)
	out.NotarizedDummies = cloneMap(s.NotarizedDummies)
	out.BlocksByHash = cloneMap(s.BlocksByHash)
	out.PendingFinalizationVotes = cloneMap(s.PendingFinalizationVotes)
	out.OurProposals = cloneMap(s.OurProposals)
	out.SeenLeaderProposal = cloneMap(s.SeenLeaderProposal)
	out.RequestedVoteSign = cloneMap(s.RequestedVoteSign)

	out.PendingVotes = make(map[consensus.Round]map[crypto.PeerId]consensus.Vote, len(s.PendingVotes))
	for r, byPeer := range s.PendingVotes {
		out.PendingVotes[r] = cloneMap(byPeer)
	}

	out.PendingCItems = append([]consensus.CItem{}, s.PendingCItems...)
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
