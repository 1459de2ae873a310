package engine

import "github.com/bfte-project/bfte/consensus"

// Effect is emitted by Step after a Commit-worthy transition and carried
// out by the driver only once the corresponding write transaction durably
// commits (§4.2, §6). The engine itself never calls into module code — it
// only names what happened; package module's Router turns this into actual
// CItem/effect delivery, using the persisted last_delivered_round to stay
// exactly-once across restarts.
type Effect interface{ isEffect() }

// EffectRoundFinalized reports that HighestFinalizedRound advanced to
// Round. The driver must deliver, in round order, every not-yet-delivered
// round up to and including Round: first that round's CItems (in canonical
// order), then the module effects emitted while processing them.
type EffectRoundFinalized struct {
	Round consensus.Round
}

func (EffectRoundFinalized) isEffect() {}
