package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
	"github.com/bfte-project/bfte/crypto"
)

type identity struct {
	key *crypto.SigningKey
	id  crypto.PeerId
}

// harness wires four peers (threshold 3, f=1) under one ConsensusParams and
// a genesis State seen from identities[0]'s point of view — mirroring
// spec.md §8's seed scenarios, which all use a 4-peer federation.
type harness struct {
	t          *testing.T
	m          Machine
	identities []identity
	p          params.ConsensusParams
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ids := make([]identity, 4)
	peerIds := make([]crypto.PeerId, 4)
	for i := range ids {
		k, _, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		ids[i] = identity{key: k, id: k.PeerId()}
		peerIds[i] = ids[i].id
	}
	pset, err := consensus.NewPeerSet(peerIds)
	if err != nil {
		t.Fatalf("new peer set: %v", err)
	}
	p := params.New(1, pset, 100*time.Millisecond, params.DefaultScheduleDelay, nil)
	return &harness{t: t, identities: ids, p: p}
}

func (h *harness) genesisState() State {
	return NewGenesisState(h.identities[0].id, h.p)
}

// leaderFor returns the identity elected to lead round r.
func (h *harness) leaderFor(r consensus.Round) identity {
	leaderId := h.p.LeaderAt(r)
	for _, id := range h.identities {
		if id.id == leaderId {
			return id
		}
	}
	h.t.Fatalf("leader %s not among test identities", leaderId)
	return identity{}
}

func (h *harness) signVote(idx int, round consensus.Round, target consensus.VoteTarget) consensus.Vote {
	v := consensus.Vote{Round: round, Target: target}
	return v.Sign(h.identities[idx].key)
}

func (h *harness) signFinalizationVote(idx int, round consensus.Round) consensus.FinalizationVote {
	fv := consensus.FinalizationVote{Round: round}
	return fv.Sign(h.identities[idx].key)
}

func (h *harness) indexOf(id crypto.PeerId) int {
	for i, ident := range h.identities {
		if ident.id == id {
			return i
		}
	}
	h.t.Fatalf("identity %s not found", id)
	return -1
}

func TestHappyPathRoundNotarizesAndFinalizes(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	state := h.genesisState()

	leader := h.leaderFor(0)
	block := consensus.NewBlock(0, crypto.ZeroHash, h.p.Hash(), consensus.EncodePayload(nil), 0)

	var err error
	state, _, _, err = m.Step(state, EventReceivedProposal{From: leader.id, Block: block})
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}

	hash := block.Hash()
	for i := 0; i < 3; i++ {
		vote := h.signVote(i, 0, consensus.TargetBlock(hash))
		state, _, _, err = m.Step(state, EventReceivedVote{Vote: vote})
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}

	rec, ok := state.NotarizedBlocks[0]
	if !ok {
		t.Fatalf("round 0 should be notarized after 3/4 votes")
	}
	if rec.Block.Hash() != hash {
		t.Fatalf("notarized block hash mismatch")
	}
	if state.CurrentRound != 1 {
		t.Fatalf("current round should advance to 1, got %d", state.CurrentRound)
	}
	if state.HighestNotarizedRound != 0 || state.HighestNotarizedChainTip != hash {
		t.Fatalf("chain tip should be round 0's block")
	}

	var effects []Effect
	for i := 0; i < 3; i++ {
		fv := h.signFinalizationVote(i, 0)
		var ef []Effect
		state, _, ef, err = m.Step(state, EventReceivedFinalizationVote{Vote: fv})
		if err != nil {
			t.Fatalf("finalization vote %d: %v", i, err)
		}
		effects = append(effects, ef...)
	}

	if state.HighestFinalizedRound != 0 {
		t.Fatalf("round 0 should be finalized, got highest finalized %d", state.HighestFinalizedRound)
	}
	found := false
	for _, e := range effects {
		if rf, ok := e.(EffectRoundFinalized); ok && rf.Round == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an EffectRoundFinalized{Round:0}")
	}
}

func TestLeaderSilentRoundNotarizesDummy(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	state := h.genesisState()

	state, intents, _, err := m.Step(state, EventRoundTimeout{Round: 0})
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	var sawSignRequest bool
	for _, in := range intents {
		if sv, ok := in.(IntentSignVote); ok && sv.Round == 0 && sv.Target.IsDummy {
			sawSignRequest = true
		}
	}
	if !sawSignRequest {
		t.Fatalf("expected IntentSignVote for our own dummy vote")
	}

	ourVote := h.signVote(h.indexOf(h.identities[0].id), 0, consensus.TargetDummy())
	state, _, _, err = m.Step(state, EventReceivedVote{Vote: ourVote})
	if err != nil {
		t.Fatalf("our dummy vote: %v", err)
	}
	for i := 1; i < 3; i++ {
		vote := h.signVote(i, 0, consensus.TargetDummy())
		state, _, _, err = m.Step(state, EventReceivedVote{Vote: vote})
		if err != nil {
			t.Fatalf("dummy vote %d: %v", i, err)
		}
	}

	if _, ok := state.NotarizedDummies[0]; !ok {
		t.Fatalf("round 0 should notarize as dummy")
	}
	if state.CurrentRound != 1 {
		t.Fatalf("current round should advance past the dummy round, got %d", state.CurrentRound)
	}
	if state.HighestNotarizedChainTip != crypto.ZeroHash {
		t.Fatalf("a dummy round must never move the chain tip")
	}
}

func TestRoundTimeoutIgnoredOnceRoundHasAdvanced(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	state := h.genesisState()

	leader := h.leaderFor(0)
	block := consensus.NewBlock(0, crypto.ZeroHash, h.p.Hash(), consensus.EncodePayload(nil), 0)
	state, _, _, _ = m.Step(state, EventReceivedProposal{From: leader.id, Block: block})
	hash := block.Hash()
	for i := 0; i < 3; i++ {
		vote := h.signVote(i, 0, consensus.TargetBlock(hash))
		state, _, _, _ = m.Step(state, EventReceivedVote{Vote: vote})
	}
	if state.CurrentRound != 1 {
		t.Fatalf("setup: expected round to have advanced")
	}

	before := state
	state, intents, effects, err := m.Step(state, EventRoundTimeout{Round: 0})
	if err != nil {
		t.Fatalf("stale timeout: %v", err)
	}
	if len(intents) != 0 || len(effects) != 0 {
		t.Fatalf("a timeout for an already-decided round must be a no-op")
	}
	if state.CurrentRound != before.CurrentRound {
		t.Fatalf("state must not change on a stale timeout")
	}
}

func TestConflictingVoteFromSameSignerIsRejected(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	state := h.genesisState()

	blockA := consensus.NewBlock(0, crypto.ZeroHash, h.p.Hash(), []byte("a"), 0)
	v1 := h.signVote(0, 0, consensus.TargetBlock(blockA.Hash()))
	var err error
	state, _, _, err = m.Step(state, EventReceivedVote{Vote: v1})
	if err != nil {
		t.Fatalf("first vote: %v", err)
	}

	v2 := h.signVote(0, 0, consensus.TargetDummy())
	_, _, _, err = m.Step(state, EventReceivedVote{Vote: v2})
	if !errors.Is(err, ErrConflictingVote) {
		t.Fatalf("expected ErrConflictingVote, got %v", err)
	}
}

func TestConflictingNotarizationIsInvariantViolation(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	state := h.genesisState()

	leader := h.leaderFor(0)
	blockA := consensus.NewBlock(0, crypto.ZeroHash, h.p.Hash(), consensus.EncodePayload(nil), 0)
	state, _, _, err := m.Step(state, EventReceivedProposal{From: leader.id, Block: blockA})
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	for i := 0; i < 3; i++ {
		vote := h.signVote(i, 0, consensus.TargetBlock(blockA.Hash()))
		var err error
		state, _, _, err = m.Step(state, EventReceivedVote{Vote: vote})
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	if _, ok := state.NotarizedBlocks[0]; !ok {
		t.Fatalf("setup: block A should be notarized")
	}

	blockB := consensus.NewBlock(0, crypto.ZeroHash, h.p.Hash(), consensus.EncodePayload(nil), 1)
	threshold := h.p.Peers.Threshold()
	votes := make([]consensus.Vote, 0, 3)
	for i := 0; i < 3; i++ {
		votes = append(votes, h.signVote(i, 0, consensus.TargetBlock(blockB.Hash())))
	}
	badNotarization, err := consensus.NewNotarization(0, consensus.TargetBlock(blockB.Hash()), votes, threshold)
	if err != nil {
		t.Fatalf("building the conflicting notarization: %v", err)
	}

	_, _, _, err = m.Step(state, EventReceivedNotarizedBlock{Block: blockB, Notarization: badNotarization})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestVoteBelowFinalizedRoundIsDiscarded(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	state := h.genesisState()

	finalize := func(round consensus.Round, prevTip crypto.Hash) crypto.Hash {
		leader := h.leaderFor(round)
		block := consensus.NewBlock(round, prevTip, h.p.Hash(), consensus.EncodePayload(nil), 0)
		var err error
		state, _, _, err = m.Step(state, EventReceivedProposal{From: leader.id, Block: block})
		if err != nil {
			t.Fatalf("round %d proposal: %v", round, err)
		}
		hash := block.Hash()
		for i := 0; i < 3; i++ {
			vote := h.signVote(i, round, consensus.TargetBlock(hash))
			state, _, _, err = m.Step(state, EventReceivedVote{Vote: vote})
			if err != nil {
				t.Fatalf("round %d vote %d: %v", round, i, err)
			}
		}
		for i := 0; i < 3; i++ {
			fv := h.signFinalizationVote(i, round)
			state, _, _, err = m.Step(state, EventReceivedFinalizationVote{Vote: fv})
			if err != nil {
				t.Fatalf("round %d finalization vote %d: %v", round, i, err)
			}
		}
		return hash
	}

	tip0 := finalize(0, crypto.ZeroHash)
	finalize(1, tip0)
	if state.HighestFinalizedRound != 1 {
		t.Fatalf("setup: round 1 should be finalized, got %d", state.HighestFinalizedRound)
	}

	before := state
	lateVote := h.signVote(3, 0, consensus.TargetDummy())
	state, intents, _, err := m.Step(state, EventReceivedVote{Vote: lateVote})
	if !errors.Is(err, ErrStaleRound) {
		t.Fatalf("expected ErrStaleRound, got %v", err)
	}
	if len(intents) != 0 {
		t.Fatalf("discarding a stale vote should produce no intents")
	}
	if state.CurrentRound != before.CurrentRound || len(state.PendingVotes[0]) != 0 {
		t.Fatalf("a stale vote must not otherwise change state")
	}
}

func TestNotarizationIsOrderIndependent(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	block := consensus.NewBlock(0, crypto.ZeroHash, h.p.Hash(), consensus.EncodePayload(nil), 0)
	hash := block.Hash()
	leader := h.leaderFor(0)

	run := func(order []int) State {
		state := h.genesisState()
		var err error
		state, _, _, err = m.Step(state, EventReceivedProposal{From: leader.id, Block: block})
		if err != nil {
			t.Fatalf("proposal: %v", err)
		}
		for _, i := range order {
			vote := h.signVote(i, 0, consensus.TargetBlock(hash))
			state, _, _, err = m.Step(state, EventReceivedVote{Vote: vote})
			if err != nil {
				t.Fatalf("vote: %v", err)
			}
		}
		return state
	}

	a := run([]int{0, 1, 2})
	b := run([]int{2, 1, 0})

	recA, okA := a.NotarizedBlocks[0]
	recB, okB := b.NotarizedBlocks[0]
	if !okA || !okB {
		t.Fatalf("both orderings should notarize round 0")
	}
	if recA.Block.Hash() != recB.Block.Hash() {
		t.Fatalf("notarized block must not depend on vote arrival order")
	}
	if len(recA.Notarization.Votes) != len(recB.Notarization.Votes) {
		t.Fatalf("notarization vote count must not depend on arrival order")
	}
}

func TestReconfigureParamsTakesEffectAfterScheduleDelay(t *testing.T) {
	h := newHarness(t)
	m := Machine{}
	state := h.genesisState()

	newPeerIds := make([]crypto.PeerId, 4)
	for i, id := range h.identities {
		newPeerIds[i] = id.id
	}
	newPset, _ := consensus.NewPeerSet(newPeerIds)
	newParams := params.New(2, newPset, 200*time.Millisecond, params.DefaultScheduleDelay, nil)

	state, _, _, err := m.Step(state, EventReconfigureParams{NewParams: newParams, FinalizedAtRound: 0})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	delay := consensus.Round(params.DefaultScheduleDelay)
	before := state.ParamsForRound(delay - 1)
	if before.Equal(newParams) {
		t.Fatalf("new params must not be in force before the scheduled round")
	}
	after := state.ParamsForRound(delay)
	if !after.Equal(newParams) {
		t.Fatalf("new params must be in force at round %d", delay)
	}
}
