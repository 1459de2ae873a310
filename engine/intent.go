package engine

import (
	"time"

	"github.com/bfte-project/bfte/consensus"
)

// Intent is work the driver must carry out after a Step call: a pull
// request to issue, a round timer to arm, or a vote to sign. There is
// deliberately no "broadcast" intent — §4.4/§9 require pull-only transport;
// a peer makes its own proposal and votes available by serving them out of
// its persisted state when asked, never by pushing them.
type Intent interface{ isIntent() }

// IntentPullProposalOrVotes asks a peer for its proposal and/or votes for
// Round.
type IntentPullProposalOrVotes struct {
	Round consensus.Round
}

// IntentPullNotarizedSince asks a peer for any notarizations (block or
// dummy) it holds from Round onward — the catch-up / chain-switch path.
type IntentPullNotarizedSince struct {
	Round consensus.Round
}

// IntentPullFinalizationVotes asks a peer for its current finalization
// vote. Issued alongside every other pull per §4.3 step 7.
type IntentPullFinalizationVotes struct{}

// IntentArmRoundTimer tells the driver to (re)arm the round timer for
// Round to fire after Duration, per RoundTimeout. A stale fire for a round
// already decided by the time the timer elapses is simply ignored by
// EventRoundTimeout's handler, so the driver never needs to cancel one.
type IntentArmRoundTimer struct {
	Round    consensus.Round
	Duration time.Duration
}

// IntentSignVote asks the driver to sign a Vote for (Round, Target) with
// our local key and feed the result back as an EventReceivedVote. Step
// never touches a signing key itself — per §5, that stays in the driver.
type IntentSignVote struct {
	Round  consensus.Round
	Target consensus.VoteTarget
}

// IntentSignFinalizationVote asks the driver to sign a FinalizationVote for
// Round and feed it back as an EventReceivedFinalizationVote.
type IntentSignFinalizationVote struct {
	Round consensus.Round
}

func (IntentPullProposalOrVotes) isIntent()    {}
func (IntentPullNotarizedSince) isIntent()     {}
func (IntentPullFinalizationVotes) isIntent()  {}
func (IntentArmRoundTimer) isIntent()          {}
func (IntentSignVote) isIntent()               {}
func (IntentSignFinalizationVote) isIntent()   {}
