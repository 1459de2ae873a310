// Package params defines ConsensusParams: the versioned, hashable,
// reconfigurable description of who participates in a BFTE federation and
// under what rules. A ConsensusParams change is itself ordered through
// consensus like any other block effect, taking hold only after
// schedule_delay rounds — see consensus.Round and engine.Machine.
package params

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/crypto"
)

const paramsFormatVersion uint8 = 1

// DefaultScheduleDelay is the number of rounds a ConsensusParams change waits
// between being applied (agreed on) and taking effect, giving peers time to
// catch up on the old rules before the new ones bind. Spec default is a
// small constant; operators may raise it for larger or slower federations.
const DefaultScheduleDelay uint32 = 3

// ModuleVersion pins the semantics a module must run to stay compatible with
// the rest of the federation.
type ModuleVersion uint32

// ModuleEntry is one (ModuleId, ModuleVersion) pair in a ConsensusParams'
// module table. Kept as a slice sorted by ModuleId, not a map, so encoding
// and hashing are deterministic without a separate sort step at every call
// site.
type ModuleEntry struct {
	ID      consensus.ModuleId
	Version ModuleVersion
}

// ConsensusParams is the federation's agreed-upon configuration: its peer
// set, timing parameters, core protocol version, and the set of modules (and
// their versions) it runs. Two ConsensusParams with the same fields always
// encode and hash identically, regardless of construction order.
type ConsensusParams struct {
	CoreVersion      uint32
	Peers            consensus.PeerSet
	RoundTimeoutBase time.Duration
	ScheduleDelay    uint32
	modules          []ModuleEntry

	// PrevMidBlock is an optional checkpoint naming a notarized block
	// (round and hash) roughly halfway back to genesis, committed to by the
	// params hash. Under driver.RejoinPolicyTrustedSnapshot the driver only
	// trust-adopts a peer's notarized block when HasPrevMidBlock is set;
	// PrevMidRound and PrevMidHash are not themselves compared against the
	// adopted block. Supplemented from original_source's prev_mid_block
	// mechanism; absent (HasPrevMidBlock == false) unless set via
	// WithPrevMidBlock.
	HasPrevMidBlock bool
	PrevMidRound    consensus.Round
	PrevMidHash     crypto.Hash
}

// ErrUnknownModuleVersion is returned by ModuleVersion when id is not
// configured in these params.
var ErrUnknownModuleVersion = errors.New("params: module not configured")

// New builds a ConsensusParams from a peer set and an ordered module table,
// normalizing module entries into canonical (sorted-by-id) order.
func New(coreVersion uint32, peers consensus.PeerSet, timeoutBase time.Duration, scheduleDelay uint32, modules map[consensus.ModuleId]ModuleVersion) ConsensusParams {
	entries := make([]ModuleEntry, 0, len(modules))
	for id, v := range modules {
		entries = append(entries, ModuleEntry{ID: id, Version: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return ConsensusParams{
		CoreVersion:      coreVersion,
		Peers:            peers,
		RoundTimeoutBase: timeoutBase,
		ScheduleDelay:    scheduleDelay,
		modules:          entries,
	}
}

// WithPrevMidBlock returns a copy of p carrying a trusted-rejoin midpoint.
func (p ConsensusParams) WithPrevMidBlock(round consensus.Round, hash crypto.Hash) ConsensusParams {
	p.HasPrevMidBlock = true
	p.PrevMidRound = round
	p.PrevMidHash = hash
	return p
}

// ModuleVersionFor returns the pinned version for a module id.
func (p ConsensusParams) ModuleVersionFor(id consensus.ModuleId) (ModuleVersion, error) {
	for _, e := range p.modules {
		if e.ID == id {
			return e.Version, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownModuleVersion, id)
}

// Modules returns the module table in canonical (sorted by id) order.
func (p ConsensusParams) Modules() []ModuleEntry {
	out := make([]ModuleEntry, len(p.modules))
	copy(out, p.modules)
	return out
}

// MarshalCanonical encodes the params deterministically: a leading
// paramsFormatVersion byte, length-prefixed fields, little-endian integers, no optional fields (the
// prev_mid_block presence flag is written explicitly).
func (p ConsensusParams) MarshalCanonical() []byte {
	var b []byte
	put := func(v ...byte) { b = append(b, v...) }
	putU8 := func(v uint8) { put(v) }
	putU32 := func(v uint32) {
		var t [4]byte
		binary.LittleEndian.PutUint32(t[:], v)
		put(t[:]...)
	}
	putU64 := func(v uint64) {
		var t [8]byte
		binary.LittleEndian.PutUint64(t[:], v)
		put(t[:]...)
	}

	putU8(paramsFormatVersion)
	putU32(p.CoreVersion)
	putU64(uint64(p.RoundTimeoutBase))
	putU32(p.ScheduleDelay)
	b = append(b, p.Peers.MarshalCanonical()...)

	putU32(uint32(len(p.modules)))
	for _, e := range p.modules {
		putU32(uint32(e.ID))
		putU32(uint32(e.Version))
	}

	if p.HasPrevMidBlock {
		putU8(1)
		putU64(uint64(p.PrevMidRound))
		b = append(b, p.PrevMidHash[:]...)
	} else {
		putU8(0)
	}
	return b
}

// Hash computes the ConsensusParams' identity: the BLAKE3 digest of its
// canonical encoding. Every block header commits to this hash, and leader
// election is computed from it so that every peer who agrees on the active
// ConsensusParams agrees on the leader schedule.
func (p ConsensusParams) Hash() crypto.Hash {
	return crypto.SumBLAKE3(p.MarshalCanonical())
}

// LeaderAt returns the peer elected to lead the given round under these
// params: H(params_hash || round) mod n, with the 32-byte digest read as a
// big-endian integer, over the canonical (sorted) peer order, so every peer computes the same leader without any out-of-band
// coordination. Grounded on original_source's leader_idx computation over
// ConsensusParams.hash().
func (p ConsensusParams) LeaderAt(round consensus.Round) crypto.PeerId {
	h := p.Hash()
	var roundBytes [8]byte
	binary.LittleEndian.PutUint64(roundBytes[:], uint64(round))
	seed := crypto.SumBLAKE3(append(append([]byte{}, h[:]...), roundBytes[:]...))

	n := new(big.Int).SetInt64(int64(p.Peers.Len()))
	idx := new(big.Int).Mod(new(big.Int).SetBytes(seed[:]), n)
	return p.Peers.At(int(idx.Int64()))
}

// Equal reports whether two ConsensusParams are identical for every field
// that feeds the canonical encoding.
func (p ConsensusParams) Equal(other ConsensusParams) bool {
	return string(p.MarshalCanonical()) == string(other.MarshalCanonical())
}

// paramsJSON mirrors ConsensusParams with its module table exported, for the
// driver's full-state persistence snapshots (not used for anything
// consensus-critical — MarshalCanonical/Hash are what peers must agree on).
type paramsJSON struct {
	CoreVersion      uint32
	Peers            consensus.PeerSet
	RoundTimeoutBase time.Duration
	ScheduleDelay    uint32
	Modules          []ModuleEntry
	HasPrevMidBlock  bool
	PrevMidRound     consensus.Round
	PrevMidHash      crypto.Hash
}

// MarshalJSON encodes p, including its unexported module table.
func (p ConsensusParams) MarshalJSON() ([]byte, error) {
	return json.Marshal(paramsJSON{
		CoreVersion:      p.CoreVersion,
		Peers:            p.Peers,
		RoundTimeoutBase: p.RoundTimeoutBase,
		ScheduleDelay:    p.ScheduleDelay,
		Modules:          p.Modules(),
		HasPrevMidBlock:  p.HasPrevMidBlock,
		PrevMidRound:     p.PrevMidRound,
		PrevMidHash:      p.PrevMidHash,
	})
}

// UnmarshalJSON decodes a ConsensusParams produced by MarshalJSON.
func (p *ConsensusParams) UnmarshalJSON(data []byte) error {
	var aux paramsJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	modules := make([]ModuleEntry, len(aux.Modules))
	copy(modules, aux.Modules)
	sort.Slice(modules, func(i, j int) bool { return modules[i].ID < modules[j].ID })
	*p = ConsensusParams{
		CoreVersion:      aux.CoreVersion,
		Peers:            aux.Peers,
		RoundTimeoutBase: aux.RoundTimeoutBase,
		ScheduleDelay:    aux.ScheduleDelay,
		modules:          modules,
		HasPrevMidBlock:  aux.HasPrevMidBlock,
		PrevMidRound:     aux.PrevMidRound,
		PrevMidHash:      aux.PrevMidHash,
	}
	return nil
}
