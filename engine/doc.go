// Package engine implements the BFTE round-based reformulation of Simplex
// as a pure state machine: Machine.Step(state, event) -> (state', intents,
// effects). There are no goroutines, channels, timers, or I/O here — every
// suspension point (peer RPC, wall-clock wait, durable commit) lives in
// package driver, which feeds events to Step and carries out whatever
// Intents and Effects it returns.
//
// # Core components
//
//   - State: the per-peer chain view named in spec.md §4.3 — highest
//     notarized/finalized rounds and chain tip, scheduled params, pending
//     votes — generalized from the teacher's height/round/step Tendermint
//     terms to round/notarize/finalize.
//   - voteTracker: accumulates one round's votes by target, the way the
//     teacher's VoteSet accumulates prevotes/precommits by block hash, but
//     as a value recomputed from State on each Step call rather than a
//     long-lived mutable object with its own mutex.
//   - Machine.Step: applies one Event, returning the updated State plus the
//     Intents (pulls to issue, timers to arm, votes to sign) and Effects
//     (finalized-round delivery notices) the driver must act on.
//
// # Consensus properties
//
// Safety-A/B, chain continuity, and the reconfig delay guarantee are
// properties of Step's transition rules, not of any runtime scheduling —
// see this package's tests for the specification's seed scenarios.
package engine
