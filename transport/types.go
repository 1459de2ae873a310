// Package transport implements the pull-based peer RPC described in
// spec.md §4.4/§9: a peer asks another for its proposal/votes, its
// notarizations since some round, or its finalization votes — there is no
// endpoint for pushing any of these unsolicited, matching the "pull-only,
// no broadcast path" non-goal. Grounded on `github.com/gorilla/mux` for
// routing, the same dependency `luxfi-vm` and `kocubinski-gcosmos` use for
// their own RPC surfaces.
package transport

import (
	"context"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/crypto"
)

// NotarizedItem is one entry in a GetNotarizedSince response: a notarized
// round, either for a block (Block non-nil) or for the round's dummy.
type NotarizedItem struct {
	Round        consensus.Round       `json:"round"`
	Block        *consensus.Block      `json:"block,omitempty"`
	Notarization consensus.Notarization `json:"notarization"`
}

// Source answers pull queries from a peer's own locally persisted state.
// Implemented by the driver; never blocks on further network I/O.
type Source interface {
	// ProposalOrVotes returns the proposal and/or accumulated votes this
	// peer holds for round, if any.
	ProposalOrVotes(round consensus.Round) (block *consensus.Block, votes []consensus.Vote, found bool)

	// NotarizedSince returns every notarization (block or dummy) this peer
	// holds from round onward, in round order — the catch-up path.
	NotarizedSince(round consensus.Round) []NotarizedItem

	// FinalizationVotes returns this peer's current finalization vote from
	// every signer it has heard from.
	FinalizationVotes() []consensus.FinalizationVote
}

// Puller is the client side of the three pull RPCs, issued against a named
// peer. A bounded-retry wrapper (package driver) is responsible for
// backoff; Puller implementations make exactly one attempt per call.
type Puller interface {
	GetProposalOrVotes(ctx context.Context, peer crypto.PeerId, round consensus.Round) (*consensus.Block, []consensus.Vote, error)
	GetNotarizedSince(ctx context.Context, peer crypto.PeerId, round consensus.Round) ([]NotarizedItem, error)
	GetFinalizationVotes(ctx context.Context, peer crypto.PeerId) ([]consensus.FinalizationVote, error)
}
