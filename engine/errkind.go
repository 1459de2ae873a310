package engine

import "errors"

// ErrKind classifies a rejection error returned by Machine.Step (or, via
// the same taxonomy, a driver-side I/O failure) into the dispositions
// spec.md §7 assigns each error kind, so the driver can dispatch on what an
// error means instead of pattern-matching sentinels itself.
type ErrKind int

const (
	// KindUnknown covers an error Classify doesn't recognize. The driver
	// does not drop it silently as it does KindMalformedInput: it wraps the
	// error and returns it, so it is logged as a failed event.
	KindUnknown ErrKind = iota

	// KindMalformedInput: failed decode or signature check. Dropped;
	// reporter noted for rate-limiting. Never propagated upward.
	KindMalformedInput

	// KindInvariantViolation: two distinct notarizations observed for the
	// same round. Fatal for the local node.
	KindInvariantViolation

	// KindTransient: transport or persistence I/O failure. Retried with
	// bounded backoff; state unchanged. Step itself never returns this —
	// it performs no I/O — this kind exists for the driver's own
	// store/transport errors, classified through the same taxonomy.
	KindTransient

	// KindOutOfRange: event refers to a round already finalized or far in
	// the future. Silently discarded (finalized) or buffered with bounded
	// memory (future).
	KindOutOfRange

	// KindResource: memory/storage pressure. Oldest buffered non-finalized
	// votes are evicted first; finalized data is never evicted.
	KindResource
)

func (k ErrKind) String() string {
	switch k {
	case KindMalformedInput:
		return "malformed_input"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindTransient:
		return "transient"
	case KindOutOfRange:
		return "out_of_range"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Classify sorts err into the §7 taxonomy. Every rejection sentinel in
// errors.go is either the one fatal condition (InvariantViolation), the one
// out-of-range condition (a round already decided, ErrStaleRound), or a
// validation failure (MalformedInput) — Step never produces a Transient or
// Resource error itself, but the driver classifies its own I/O failures as
// KindTransient through this same function for uniform handling.
func Classify(err error) ErrKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariantViolation
	case errors.Is(err, ErrStaleRound):
		return KindOutOfRange
	case errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrUnknownSigner),
		errors.Is(err, ErrParamsHashMismatch),
		errors.Is(err, ErrPayloadHashMismatch),
		errors.Is(err, ErrUnknownPrevBlock),
		errors.Is(err, ErrConflictingVote),
		errors.Is(err, ErrConflictingProposal),
		errors.Is(err, ErrNotLeader),
		errors.Is(err, ErrInconsistentNotarization),
		errors.Is(err, ErrMalformedCItem):
		return KindMalformedInput
	default:
		return KindUnknown
	}
}
