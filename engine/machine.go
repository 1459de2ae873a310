package engine

import (
	"fmt"
	"sort"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
	"github.com/bfte-project/bfte/crypto"
)

// Machine applies one Event at a time to a State. It carries no fields of
// its own — every input Step needs travels in State and Event — so the
// zero value is ready to use and a single Machine is safe to share across
// as many driver goroutines as want to call Step (each call is independent;
// nothing is mutated).
type Machine struct{}

// Step applies event to state and returns the successor State together
// with the Intents and Effects the driver must act on. Step never performs
// I/O, never reads the wall clock, never touches a signing key, and never
// mutates state in place — see package doc.
func (Machine) Step(state State, event Event) (State, []Intent, []Effect, error) {
	switch e := event.(type) {
	case EventReceivedProposal:
		return handleReceivedProposal(state, e)
	case EventReceivedVote:
		return handleReceivedVote(state, e)
	case EventReceivedFinalizationVote:
		return handleReceivedFinalizationVote(state, e)
	case EventReceivedNotarizedBlock:
		return handleReceivedNotarizedBlock(state, e)
	case EventReceivedNotarizedDummy:
		return handleReceivedNotarizedDummy(state, e)
	case EventRoundTimeout:
		return handleRoundTimeout(state, e)
	case EventLocalCItems:
		return handleLocalCItems(state, e)
	case EventTick:
		return handleTick(state, e)
	case EventReconfigureParams:
		return handleReconfigureParams(state, e)
	case EventTrustedRejoin:
		return handleTrustedRejoin(state, e)
	default:
		return state, nil, nil, fmt.Errorf("engine: unknown event type %T", event)
	}
}

// verifySignersAndSignatures checks that every vote in votes comes from a
// member of p's peer set and verifies under its claimed signer — the
// Validation Rule (spec.md §4.3/§7) shared by every path that accepts an
// already-assembled notarization (received directly, pulled via
// GetNotarizedSince, or trust-adopted on rejoin).
func verifySignersAndSignatures(p params.ConsensusParams, votes []consensus.Vote) error {
	for _, v := range votes {
		if !p.Peers.Contains(v.Signer) {
			return ErrUnknownSigner
		}
		if err := v.VerifySignature(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}
	return nil
}

// verifyCItem checks that a single CItem's signature verifies under its
// claimed signer and that the signer is a member of p's peer set — the
// same Validation Rule applied to block payload entries instead of votes
// (spec.md §4.3 step 2/3, §7 MalformedInput).
func verifyCItem(p params.ConsensusParams, item consensus.CItem) error {
	if !p.Peers.Contains(item.Signer) {
		return ErrUnknownSigner
	}
	if err := item.VerifySignature(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// verifyPayloadCItems decodes a block payload and checks every CItem in it
// against verifyCItem, failing the whole payload on the first bad entry —
// a block's payload_hash commits to one fixed ordered sequence, so there is
// no way to accept the block while silently dropping one unauthenticated
// entry from it; the entire proposal is rejected instead (§7
// MalformedInput).
func verifyPayloadCItems(p params.ConsensusParams, payload []byte) error {
	items, err := consensus.DecodePayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCItem, err)
	}
	for _, it := range items {
		if err := verifyCItem(p, it); err != nil {
			return err
		}
	}
	return nil
}

// validCItems filters items down to those that verify against p's peer
// set, preserving order — used wherever we ourselves are assembling a
// payload (a local submission, or a leader's proposal) so that only CItems
// that would survive a peer's validation are ever included (spec.md:87,
// "the deterministically ordered list of all valid pending CItems").
func validCItems(p params.ConsensusParams, items []consensus.CItem) []consensus.CItem {
	out := make([]consensus.CItem, 0, len(items))
	for _, it := range items {
		if verifyCItem(p, it) == nil {
			out = append(out, it)
		}
	}
	return out
}

// handleReceivedProposal implements §4.3 step 3: a candidate block is only
// eligible for our vote if it comes from the round's elected leader,
// targets our current round, extends our tip, commits to the params in
// force for that round, and its payload actually hashes to payload_hash.
// We vote for at most one proposal per round, ever.
func handleReceivedProposal(state State, e EventReceivedProposal) (State, []Intent, []Effect, error) {
	r := e.Block.Header.Round
	if r != state.CurrentRound {
		return state, nil, nil, nil
	}
	p := state.ParamsForRound(r)
	if e.From != p.LeaderAt(r) {
		return state, nil, nil, ErrNotLeader
	}
	if seen, already := state.SeenLeaderProposal[r]; already {
		if seen != e.Block.Hash() {
			return state, nil, nil, ErrConflictingProposal
		}
		return state, nil, nil, nil
	}
	if e.Block.Header.ParamsHash != p.Hash() {
		return state, nil, nil, ErrParamsHashMismatch
	}
	if err := e.Block.Validate(); err != nil {
		return state, nil, nil, fmt.Errorf("%w: %v", ErrPayloadHashMismatch, err)
	}
	if err := verifyPayloadCItems(p, e.Block.Payload); err != nil {
		return state, nil, nil, err
	}
	if e.Block.Header.PrevBlockHash != state.HighestNotarizedChainTip {
		return state, nil, nil, ErrUnknownPrevBlock
	}

	hash := e.Block.Hash()
	state = state.clone()
	state.SeenLeaderProposal[r] = hash
	state.BlocksByHash[hash] = e.Block

	var intents []Intent
	if !state.RequestedVoteSign[r] {
		state.RequestedVoteSign[r] = true
		intents = append(intents, IntentSignVote{Round: r, Target: consensus.TargetBlock(hash)})
	}
	state, more := advanceRounds(state)
	return state, append(intents, more...), nil, nil
}

// handleReceivedVote implements §4.3 step 4-5: accumulate one signer's
// vote, reject equivocation, and notarize the round as soon as threshold
// agreement is reached on a single target.
func handleReceivedVote(state State, e EventReceivedVote) (State, []Intent, []Effect, error) {
	vote := e.Vote
	if vote.Round < state.HighestFinalizedRound {
		return state, nil, nil, ErrStaleRound
	}
	p := state.ParamsForRound(vote.Round)
	if !p.Peers.Contains(vote.Signer) {
		return state, nil, nil, ErrUnknownSigner
	}
	if err := vote.VerifySignature(); err != nil {
		return state, nil, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if existing, ok := state.PendingVotes[vote.Round][vote.Signer]; ok {
		if existing.Target.IsDummy == vote.Target.IsDummy && existing.Target.Block == vote.Target.Block {
			return state, nil, nil, nil
		}
		return state, nil, nil, ErrConflictingVote
	}

	state = state.clone()
	if state.PendingVotes[vote.Round] == nil {
		state.PendingVotes[vote.Round] = make(map[crypto.PeerId]consensus.Vote)
	}
	state.PendingVotes[vote.Round][vote.Signer] = vote

	state, err := tryNotarize(state, vote.Round)
	if err != nil {
		return state, nil, nil, err
	}
	state, intents := advanceRounds(state)
	return state, intents, nil, nil
}

// tryNotarize checks round's accumulated votes for threshold agreement on
// either a block or the dummy target, and records the notarization if so.
// If a block reaches threshold but we don't yet hold its body, notarization
// is deferred — the catch-up pull (IntentPullProposalOrVotes, issued by
// advanceRounds) will eventually resolve it via EventReceivedProposal or
// EventReceivedNotarizedBlock.
func tryNotarize(state State, round consensus.Round) (State, error) {
	votes := state.PendingVotes[round]
	if len(votes) == 0 {
		return state, nil
	}
	p := state.ParamsForRound(round)
	threshold := p.Peers.Threshold()
	vt := newVoteTracker(votes)

	if hash, ok := vt.majorityBlock(threshold); ok {
		block, haveBlock := state.BlocksByHash[hash]
		if !haveBlock {
			return state, nil
		}
		voteList := make([]consensus.Vote, 0, len(votes))
		for _, v := range votes {
			if !v.Target.IsDummy && v.Target.Block == hash {
				voteList = append(voteList, v)
			}
		}
		notarization, err := consensus.NewNotarization(round, consensus.TargetBlock(hash), voteList, threshold)
		if err != nil {
			return state, nil
		}
		return applyBlockNotarization(state, round, block, notarization)
	}

	if vt.hasDummyMajority(threshold) {
		voteList := make([]consensus.Vote, 0, len(votes))
		for _, v := range votes {
			if v.Target.IsDummy {
				voteList = append(voteList, v)
			}
		}
		notarization, err := consensus.NewNotarization(round, consensus.TargetDummy(), voteList, threshold)
		if err != nil {
			return state, nil
		}
		return applyDummyNotarization(state, round, notarization)
	}

	return state, nil
}

// applyBlockNotarization records round as notarized-for-block, enforcing
// Safety-A: a round already notarized for a different block, or already
// notarized as a dummy, can never also notarize this block — that would
// mean >= threshold distinct honest signers disagreed, which requires more
// than MaxFaulty Byzantine signers and is reported as ErrInvariantViolation.
func applyBlockNotarization(state State, round consensus.Round, block consensus.Block, notarization consensus.Notarization) (State, error) {
	if existing, ok := state.NotarizedBlocks[round]; ok {
		if existing.Block.Hash() != block.Hash() {
			return state, ErrInvariantViolation
		}
		return state, nil
	}
	if _, ok := state.NotarizedDummies[round]; ok {
		return state, ErrInvariantViolation
	}

	state = state.clone()
	state.NotarizedBlocks[round] = NotarizedBlockRecord{Block: block, Notarization: notarization}
	state.BlocksByHash[block.Hash()] = block
	delete(state.PendingVotes, round)
	// A zero tip means no block is notarized yet, so even a round-0 block
	// (round == HighestNotarizedRound == 0) becomes the first tip.
	if round > state.HighestNotarizedRound || state.HighestNotarizedChainTip.IsZero() {
		state.HighestNotarizedRound = round
		state.HighestNotarizedChainTip = block.Hash()
	}
	return state, nil
}

// applyDummyNotarization is applyBlockNotarization's mirror for the dummy
// target; dummies never move the chain tip (§3).
func applyDummyNotarization(state State, round consensus.Round, notarization consensus.Notarization) (State, error) {
	if _, ok := state.NotarizedDummies[round]; ok {
		return state, nil
	}
	if _, ok := state.NotarizedBlocks[round]; ok {
		return state, ErrInvariantViolation
	}

	state = state.clone()
	state.NotarizedDummies[round] = notarization
	delete(state.PendingVotes, round)
	return state, nil
}

// handleReceivedFinalizationVote implements §4.3 step 7: a signer's
// finalization vote only ever moves forward, and HighestFinalizedRound is
// the largest r such that at least threshold distinct signers currently
// claim round >= r.
func handleReceivedFinalizationVote(state State, e EventReceivedFinalizationVote) (State, []Intent, []Effect, error) {
	fv := e.Vote
	p := state.ParamsForRound(fv.Round)
	if !p.Peers.Contains(fv.Signer) {
		return state, nil, nil, ErrUnknownSigner
	}
	if err := fv.VerifySignature(); err != nil {
		return state, nil, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if existing, ok := state.PendingFinalizationVotes[fv.Signer]; ok && fv.Round <= existing.Round {
		return state, nil, nil, nil
	}

	threshold := p.Peers.Threshold()
	// Without a quorum before this vote nothing has been finalized yet, so
	// a first quorum on HighestFinalizedRound itself (round 0) finalizes it.
	_, hadQuorum := finalizationCandidate(state.PendingFinalizationVotes, threshold)

	state = state.clone()
	state.PendingFinalizationVotes[fv.Signer] = fv

	var effects []Effect
	if candidate, ok := finalizationCandidate(state.PendingFinalizationVotes, threshold); ok && (candidate > state.HighestFinalizedRound || (!hadQuorum && candidate == state.HighestFinalizedRound)) {
		state.HighestFinalizedRound = candidate
		effects = append(effects, EffectRoundFinalized{Round: candidate})
		for r := range state.PendingVotes {
			if r <= candidate {
				delete(state.PendingVotes, r)
			}
		}
	}

	state, intents := advanceRounds(state)
	return state, intents, effects, nil
}

// finalizationCandidate returns the largest round r such that at least
// threshold signers' latest FinalizationVote claims round >= r — the
// threshold-th highest claimed round among all signers.
func finalizationCandidate(votes map[crypto.PeerId]consensus.FinalizationVote, threshold int) (consensus.Round, bool) {
	if len(votes) < threshold {
		return 0, false
	}
	rounds := make([]consensus.Round, 0, len(votes))
	for _, v := range votes {
		rounds = append(rounds, v.Round)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] > rounds[j] })
	return rounds[threshold-1], true
}

// handleReceivedNotarizedBlock implements the catch-up / chain-switch path:
// a peer handed us an already-assembled notarization for a block, possibly
// far ahead of our own notarized frontier. We verify it exactly as
// strictly as a locally-assembled notarization before accepting it.
func handleReceivedNotarizedBlock(state State, e EventReceivedNotarizedBlock) (State, []Intent, []Effect, error) {
	round := e.Block.Header.Round
	if round < state.HighestFinalizedRound {
		return state, nil, nil, ErrStaleRound
	}
	p := state.ParamsForRound(round)
	threshold := p.Peers.Threshold()
	if err := verifySignersAndSignatures(p, e.Notarization.Votes); err != nil {
		return state, nil, nil, err
	}
	notarization, err := consensus.NewNotarization(round, e.Notarization.Target, e.Notarization.Votes, threshold)
	if err != nil {
		return state, nil, nil, ErrInconsistentNotarization
	}
	hash, isBlock := notarization.IsForBlock()
	if !isBlock || hash != e.Block.Hash() {
		return state, nil, nil, ErrInconsistentNotarization
	}
	if e.Block.Header.ParamsHash != p.Hash() {
		return state, nil, nil, ErrParamsHashMismatch
	}
	if err := e.Block.Validate(); err != nil {
		return state, nil, nil, fmt.Errorf("%w: %v", ErrPayloadHashMismatch, err)
	}
	if err := verifyPayloadCItems(p, e.Block.Payload); err != nil {
		return state, nil, nil, err
	}

	prev := e.Block.Header.PrevBlockHash
	if !prev.IsZero() {
		if _, known := state.BlocksByHash[prev]; !known {
			return state, []Intent{IntentPullNotarizedSince{Round: consensus.GenesisRound}}, nil, nil
		}
	}

	state, applyErr := applyBlockNotarization(state, round, e.Block, notarization)
	if applyErr != nil {
		return state, nil, nil, applyErr
	}
	if state.CurrentRound <= round {
		state = state.clone()
		for rr := state.CurrentRound; rr <= round; rr++ {
			delete(state.PendingVotes, rr)
		}
		state.CurrentRound = round.Next()
	}

	state, intents := advanceRounds(state)
	return state, intents, nil, nil
}

// handleReceivedNotarizedDummy mirrors handleReceivedNotarizedBlock for a
// round that notarized the dummy target.
func handleReceivedNotarizedDummy(state State, e EventReceivedNotarizedDummy) (State, []Intent, []Effect, error) {
	round := e.Round
	if round < state.HighestFinalizedRound {
		return state, nil, nil, ErrStaleRound
	}
	p := state.ParamsForRound(round)
	threshold := p.Peers.Threshold()
	if err := verifySignersAndSignatures(p, e.Notarization.Votes); err != nil {
		return state, nil, nil, err
	}
	notarization, err := consensus.NewNotarization(round, consensus.TargetDummy(), e.Notarization.Votes, threshold)
	if err != nil {
		return state, nil, nil, ErrInconsistentNotarization
	}

	state, applyErr := applyDummyNotarization(state, round, notarization)
	if applyErr != nil {
		return state, nil, nil, applyErr
	}
	if state.CurrentRound <= round {
		state = state.clone()
		for rr := state.CurrentRound; rr <= round; rr++ {
			delete(state.PendingVotes, rr)
		}
		state.CurrentRound = round.Next()
	}

	state, intents := advanceRounds(state)
	return state, intents, nil, nil
}

// handleTrustedRejoin implements driver.RejoinPolicyTrustedSnapshot (spec.md
// §9 Open Question): the driver has decided our notarized frontier has
// fallen outside every peer's retained history and is trust-adopting a
// fresh chain tip. The notarization is verified exactly as strictly as
// handleReceivedNotarizedBlock — threshold signatures from the round's own
// peer set, params_hash, payload_hash, embedded CItem signatures — except
// we do not require PrevBlockHash to already be known: establishing that
// continuity is precisely what a peer rejoining this way cannot do.
func handleTrustedRejoin(state State, e EventTrustedRejoin) (State, []Intent, []Effect, error) {
	round := e.Block.Header.Round
	if round < state.HighestFinalizedRound {
		return state, nil, nil, ErrStaleRound
	}
	p := state.ParamsForRound(round)
	threshold := p.Peers.Threshold()
	if err := verifySignersAndSignatures(p, e.Notarization.Votes); err != nil {
		return state, nil, nil, err
	}
	notarization, err := consensus.NewNotarization(round, e.Notarization.Target, e.Notarization.Votes, threshold)
	if err != nil {
		return state, nil, nil, ErrInconsistentNotarization
	}
	hash, isBlock := notarization.IsForBlock()
	if !isBlock || hash != e.Block.Hash() {
		return state, nil, nil, ErrInconsistentNotarization
	}
	if e.Block.Header.ParamsHash != p.Hash() {
		return state, nil, nil, ErrParamsHashMismatch
	}
	if err := e.Block.Validate(); err != nil {
		return state, nil, nil, fmt.Errorf("%w: %v", ErrPayloadHashMismatch, err)
	}
	if err := verifyPayloadCItems(p, e.Block.Payload); err != nil {
		return state, nil, nil, err
	}

	state, applyErr := applyBlockNotarization(state, round, e.Block, notarization)
	if applyErr != nil {
		return state, nil, nil, applyErr
	}
	if state.CurrentRound <= round {
		state = state.clone()
		for rr := state.CurrentRound; rr <= round; rr++ {
			delete(state.PendingVotes, rr)
		}
		state.CurrentRound = round.Next()
	}

	state, intents := advanceRounds(state)
	return state, intents, nil, nil
}

// handleRoundTimeout implements §4.3 step 6: if our current round still
// hasn't notarized anything by the time its timer fires, cast a dummy vote
// for it — unless we already cast some other vote this round.
func handleRoundTimeout(state State, e EventRoundTimeout) (State, []Intent, []Effect, error) {
	r := e.Round
	if r != state.CurrentRound {
		return state, nil, nil, nil
	}
	if _, ok := state.NotarizedBlocks[r]; ok {
		return state, nil, nil, nil
	}
	if _, ok := state.NotarizedDummies[r]; ok {
		return state, nil, nil, nil
	}
	if state.RequestedVoteSign[r] {
		return state, nil, nil, nil
	}
	if _, alreadyVoted := state.PendingVotes[r][state.OurPeerId]; alreadyVoted {
		return state, nil, nil, nil
	}

	state = state.clone()
	state.RequestedVoteSign[r] = true
	intents := []Intent{IntentSignVote{Round: r, Target: consensus.TargetDummy()}}
	state, more := advanceRounds(state)
	return state, append(intents, more...), nil, nil
}

// handleLocalCItems implements §4.3 step 1: items submitted by modules are
// buffered until the leader includes them in a proposal.
func handleLocalCItems(state State, e EventLocalCItems) (State, []Intent, []Effect, error) {
	p := state.ParamsForRound(state.CurrentRound)
	accepted := validCItems(p, e.Items)

	state = state.clone()
	state.LastKnownTimestamp = e.Timestamp
	state.PendingCItems = append(state.PendingCItems, accepted...)
	state, intents := advanceRounds(state)
	return state, intents, nil, nil
}

// handleTick carries the driver's clock forward with no other effect; it
// still runs through advanceRounds so a leader whose dummy-vote trigger
// condition was only just reached gets a chance to propose.
func handleTick(state State, e EventTick) (State, []Intent, []Effect, error) {
	state = state.clone()
	state.LastKnownTimestamp = e.Now
	state, intents := advanceRounds(state)
	return state, intents, nil, nil
}

// handleReconfigureParams implements §4.3 Reconfiguration: a change is
// finalized at FinalizedAtRound but only takes effect schedule_delay
// rounds later, giving every peer time to catch up before the switch.
func handleReconfigureParams(state State, e EventReconfigureParams) (State, []Intent, []Effect, error) {
	delay := state.ParamsForRound(e.FinalizedAtRound).ScheduleDelay
	effRound := e.FinalizedAtRound + consensus.Round(delay)

	state = state.clone()
	state.ScheduledParams[effRound] = e.NewParams
	state, intents := advanceRounds(state)
	return state, intents, nil, nil
}

// advanceRounds is the single place that cascades CurrentRound through
// already-decided rounds (grounded on original_source's finish_round.rs
// loop), checks whether we are this round's leader and should propose, and
// checks whether the notarized frontier has moved far enough to warrant a
// fresh finalization vote. Every event handler funnels its final state
// through this before returning, so these three checks never need to be
// duplicated at each call site.
func advanceRounds(state State) (State, []Intent) {
	var intents []Intent

	roundChanged := false
	for {
		r := state.CurrentRound
		_, hasBlock := state.NotarizedBlocks[r]
		_, hasDummy := state.NotarizedDummies[r]
		if !hasBlock && !hasDummy {
			break
		}
		state.CurrentRound = r.Next()
		roundChanged = true
	}
	if roundChanged || !state.HasEnteredRound {
		state.HasEnteredRound = true
		p := state.ParamsForRound(state.CurrentRound)
		intents = append(intents,
			IntentArmRoundTimer{
				Round:    state.CurrentRound,
				Duration: RoundTimeout(p.RoundTimeoutBase, state.CurrentRound, state.HighestFinalizedRound),
			},
			IntentPullProposalOrVotes{Round: state.CurrentRound},
			IntentPullNotarizedSince{Round: state.HighestNotarizedRound.Next()},
			IntentPullFinalizationVotes{},
		)
	}

	var proposeIntents []Intent
	state, proposeIntents = maybeProposeAsLeader(state)
	intents = append(intents, proposeIntents...)

	if state.HighestNotarizedRound > state.LastRequestedFinalizationRound {
		state.LastRequestedFinalizationRound = state.HighestNotarizedRound
		intents = append(intents, IntentSignFinalizationVote{Round: state.HighestNotarizedRound})
	}

	return state, intents
}

// maybeProposeAsLeader implements §4.3 step 2: the elected leader for the
// current round proposes as soon as it has something to say — either
// buffered CItems, or enough observed dummy votes that an empty block is
// worth proposing to keep the round moving.
func maybeProposeAsLeader(state State) (State, []Intent) {
	r := state.CurrentRound
	p := state.ParamsForRound(r)
	if p.LeaderAt(r) != state.OurPeerId {
		return state, nil
	}
	if _, already := state.OurProposals[r]; already {
		return state, nil
	}

	threshold := p.Peers.Threshold()
	vt := newVoteTracker(state.PendingVotes[r])
	if len(state.PendingCItems) == 0 && vt.dummyCount() < threshold-1 {
		return state, nil
	}

	payload := consensus.EncodePayload(consensus.OrderCItems(validCItems(p, state.PendingCItems)))
	block := consensus.NewBlock(r, state.HighestNotarizedChainTip, p.Hash(), payload, state.LastKnownTimestamp)
	hash := block.Hash()

	state = state.clone()
	state.OurProposals[r] = block
	state.BlocksByHash[hash] = block
	state.PendingCItems = nil

	var intents []Intent
	if !state.RequestedVoteSign[r] {
		state.RequestedVoteSign[r] = true
		intents = append(intents, IntentSignVote{Round: r, Target: consensus.TargetBlock(hash)})
	}
	return state, intents
}
