package engine

import "errors"

// Rejection errors from Machine.Step's validation rules (§4.3). Every one
// of these is a reject-without-state-change: the event is dropped and state
// is returned unchanged. Classify sorts these into the §7
// MalformedInput/Transient/OutOfRange/Resource taxonomy.
var (
	ErrInvalidSignature         = errors.New("engine: signature does not verify under claimed signer")
	ErrUnknownSigner            = errors.New("engine: signer not in the peer set for this round")
	ErrStaleRound               = errors.New("engine: round is lower than highest_finalized_round")
	ErrParamsHashMismatch       = errors.New("engine: params_hash does not match the scheduled params for this round")
	ErrPayloadHashMismatch      = errors.New("engine: block payload does not hash to payload_hash")
	ErrUnknownPrevBlock         = errors.New("engine: prev_block_hash is neither genesis nor a known notarized block")
	ErrConflictingVote          = errors.New("engine: signer already voted for a different target this round")
	ErrConflictingProposal      = errors.New("engine: leader already proposed a different block this round")
	ErrNotLeader                = errors.New("engine: proposal not from the elected leader for this round")
	ErrInconsistentNotarization = errors.New("engine: notarization does not meet threshold or disagrees with itself")
	ErrMalformedCItem           = errors.New("engine: citem payload does not decode")
)

// ErrInvariantViolation is returned when an event demonstrates a Byzantine
// or corruption condition the state machine cannot safely ignore: two
// distinct notarizations observed for the same round. Per §7, this is
// fatal for the local node — the driver halts rather than silently
// dropping evidence.
var ErrInvariantViolation = errors.New("engine: conflicting notarizations observed for the same round")
