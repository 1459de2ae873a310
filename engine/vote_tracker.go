package engine

import (
	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/crypto"
)

// voteTracker accumulates a round's votes by target, mirroring the
// teacher's VoteSet (which accumulates prevotes/precommits by block hash
// under a mutex, with a cached maj23). Generalized from voting-power
// accumulation to plain one-signer-one-vote counting, and kept as a value
// type computed fresh from State.PendingVotes on every Step call rather
// than a long-lived mutable object — the engine has no goroutine to own
// one, and purity requires no cached, mutated state across calls.
type voteTracker struct {
	byTarget map[consensus.BlockHash]int // count, keyed by non-dummy target block hash
	dummy    int
}

func newVoteTracker(votes map[crypto.PeerId]consensus.Vote) voteTracker {
	vt := voteTracker{byTarget: make(map[consensus.BlockHash]int)}
	for _, v := range votes {
		if v.Target.IsDummy {
			vt.dummy++
		} else {
			vt.byTarget[v.Target.Block]++
		}
	}
	return vt
}

// majorityBlock returns the block hash with >= threshold votes, if any.
func (vt voteTracker) majorityBlock(threshold int) (consensus.BlockHash, bool) {
	for h, n := range vt.byTarget {
		if n >= threshold {
			return h, true
		}
	}
	return consensus.BlockHash{}, false
}

// hasDummyMajority reports whether the dummy target reached threshold.
func (vt voteTracker) hasDummyMajority(threshold int) bool {
	return vt.dummy >= threshold
}

// dummyCount reports how many distinct peers have voted dummy this round,
// used by the leader's ">= threshold-1 dummy votes observed" proposal
// trigger (§4.3 step 2).
func (vt voteTracker) dummyCount() int { return vt.dummy }
