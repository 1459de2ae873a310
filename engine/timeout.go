package engine

import (
	"time"

	"github.com/bfte-project/bfte/consensus"
)

// RoundTimeout computes the round timer duration from §4.3: round_timeout_base
// × 2^k, where k = r − highest_finalized_round − 1 — exponential backoff
// keyed to how far the current round has drifted from the finalized
// frontier, not to the round number itself. A freshly finalized chain
// (r == highest_finalized_round+1) always gets exactly round_timeout_base.
func RoundTimeout(base time.Duration, r, highestFinalizedRound consensus.Round) time.Duration {
	if r <= highestFinalizedRound {
		return base
	}
	k := uint(r - highestFinalizedRound - 1)
	// Cap the shift to avoid overflow on pathologically stalled chains;
	// 32 doublings of any realistic base duration already exceeds any
	// sane timeout ceiling the driver would apply.
	if k > 32 {
		k = 32
	}
	return base << k
}
