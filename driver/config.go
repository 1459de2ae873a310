package driver

import "time"

// RejoinPolicy selects how a peer recovers after rejoining the federation
// following a long absence (spec.md §9 Open Question). Both answers are
// implemented; operators choose per deployment.
type RejoinPolicy int

const (
	// RejoinPolicyHalt requires a peer that has fallen too far behind to
	// halt and wait for a manual resync — the conservative default.
	RejoinPolicyHalt RejoinPolicy = iota

	// RejoinPolicyTrustedSnapshot lets a peer whose requested history has
	// been pruned trust-adopt the first notarized block a peer serves, in a
	// single hop, instead of halting. It applies only when the
	// ConsensusParams in force carry a PrevMidBlock checkpoint; otherwise
	// the peer halts. The checkpoint's round and hash are not compared
	// against the adopted block. Adopted from original_source's
	// prev_mid_block mechanism.
	RejoinPolicyTrustedSnapshot
)

// Config configures one driver instance: wall-clock timers, transport, and
// persistence. Adapted from the teacher's engine.Config (ChainID/Timeouts/
// block limits), generalized from height-based Tendermint terminology to
// BFTE's round-based one and moved out of the pure engine package — these
// are all driver (effectful-shell) concerns, never inputs to Machine.Step.
type Config struct {
	ChainID string

	// RoundTimeoutBase is the default base duration used for newly
	// bootstrapped ConsensusParams; once a federation is running, the
	// authoritative value lives in params.ConsensusParams.RoundTimeoutBase.
	RoundTimeoutBase time.Duration

	StoreDir string

	RejoinPolicy RejoinPolicy

	// MaxPullBackoff bounds the exponential backoff applied to retried
	// pull intents (§4.4).
	MaxPullBackoff time.Duration
}

// DefaultConfig returns sane defaults for a single federation peer.
func DefaultConfig() *Config {
	return &Config{
		ChainID:          "bfte",
		RoundTimeoutBase: 2 * time.Second,
		StoreDir:         "data/store",
		RejoinPolicy:     RejoinPolicyHalt,
		MaxPullBackoff:   30 * time.Second,
	}
}

// errMissingChainID is returned by ValidateBasic when ChainID is empty.
var errMissingChainID = missingField("chain_id")
var errMissingStoreDir = missingField("store_dir")

func missingField(name string) error {
	return &configError{field: name}
}

type configError struct{ field string }

func (e *configError) Error() string { return "driver: config missing required field " + e.field }

// ValidateBasic performs basic validation of the config before Run starts.
func (cfg *Config) ValidateBasic() error {
	if cfg.ChainID == "" {
		return errMissingChainID
	}
	if cfg.StoreDir == "" {
		return errMissingStoreDir
	}
	if cfg.RoundTimeoutBase <= 0 {
		return &configError{field: "round_timeout_base"}
	}
	return nil
}
