package engine

import (
	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
	"github.com/bfte-project/bfte/crypto"
)

// Event is the sum type Machine.Step consumes, one variant per §4.3's event
// list. Represented as an interface with unexported marker methods — rather
// than the teacher's separate typed channels per message kind — because
// Step is a single pure function switching on one union, not a
// goroutine selecting on several channels.
type Event interface{ isEvent() }

// EventReceivedProposal is a candidate block pulled from From, the peer
// serving it. From must equal the round's elected leader for the proposal
// to be eligible for a vote (§4.3 step 3); it does not mean From signed
// the block, only that From is the channel it arrived on.
type EventReceivedProposal struct {
	From  crypto.PeerId
	Block consensus.Block
}

// EventReceivedVote is a single signed vote observed (via pull or as our
// own locally cast vote).
type EventReceivedVote struct {
	Vote consensus.Vote
}

// EventReceivedFinalizationVote is a single signed finalization vote.
type EventReceivedFinalizationVote struct {
	Vote consensus.FinalizationVote
}

// EventReceivedNotarizedBlock delivers an already-assembled notarization
// proof for a block, typically from GetNotarizedSince during catch-up.
type EventReceivedNotarizedBlock struct {
	Block        consensus.Block
	Notarization consensus.Notarization
}

// EventReceivedNotarizedDummy delivers an already-assembled notarization
// proof for a dummy round.
type EventReceivedNotarizedDummy struct {
	Round        consensus.Round
	Notarization consensus.Notarization
}

// EventRoundTimeout fires when the driver's timer for Round elapses with no
// notarization reached.
type EventRoundTimeout struct {
	Round consensus.Round
}

// EventLocalCItems submits application-originated items for inclusion in a
// future block. Timestamp is supplied by the driver (the only place
// allowed to read the wall clock) so that replaying the same event log,
// timestamps included, is always byte-identical — see the Determinism
// testable property.
type EventLocalCItems struct {
	Items     []consensus.CItem
	Timestamp uint64
}

// EventTick carries the driver's monotonic clock reading forward into the
// state machine for any time-keyed bookkeeping (currently none beyond what
// EventLocalCItems's Timestamp provides); kept as its own event so future
// time-bounded buffering (§7 Resource eviction) has a hook to key off.
type EventTick struct {
	Now uint64
}

// EventReconfigureParams is delivered once the consensus-ctrl module's
// change to ConsensusParams is itself finalized, at FinalizedAtRound; Step
// schedules it to take effect schedule_delay rounds later (§4.3
// Reconfiguration).
type EventReconfigureParams struct {
	NewParams        params.ConsensusParams
	FinalizedAtRound consensus.Round
}

// EventTrustedRejoin delivers an already-assembled notarization the driver
// has chosen to trust as a fresh chain tip without first establishing that
// its PrevBlockHash links back to anything we know — the
// driver.RejoinPolicyTrustedSnapshot rewind path (spec.md §9 Open
// Question), issued only when our notarized frontier has fallen outside
// every peer's retained history and the active ConsensusParams carries a
// PrevMidBlock checkpoint to anchor the trust in.
type EventTrustedRejoin struct {
	Block        consensus.Block
	Notarization consensus.Notarization
}

func (EventReceivedProposal) isEvent()        {}
func (EventReceivedVote) isEvent()            {}
func (EventReceivedFinalizationVote) isEvent() {}
func (EventReceivedNotarizedBlock) isEvent()   {}
func (EventReceivedNotarizedDummy) isEvent()   {}
func (EventRoundTimeout) isEvent()            {}
func (EventLocalCItems) isEvent()             {}
func (EventTick) isEvent()                    {}
func (EventReconfigureParams) isEvent()       {}
func (EventTrustedRejoin) isEvent()           {}
