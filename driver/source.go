package driver

import (
	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/transport"
)

// Driver implements transport.Source directly against its own in-memory
// State snapshot, so the HTTP server just wraps *Driver with no separate
// adapter type.
var _ transport.Source = (*Driver)(nil)

// ProposalOrVotes answers a peer's pull for our proposal and/or votes at
// round. Prefers our own proposal (if we are round's leader and proposed),
// falling back to any leader proposal we've independently observed and
// stored by hash, then to a block we already know is notarized.
func (d *Driver) ProposalOrVotes(round consensus.Round) (*consensus.Block, []consensus.Vote, bool) {
	st := d.snapshot()

	var block *consensus.Block
	if b, ok := st.OurProposals[round]; ok {
		block = &b
	} else if h, ok := st.SeenLeaderProposal[round]; ok {
		if b, ok := st.BlocksByHash[h]; ok {
			block = &b
		}
	} else if rec, ok := st.NotarizedBlocks[round]; ok {
		block = &rec.Block
	}

	byPeer := st.PendingVotes[round]
	votes := make([]consensus.Vote, 0, len(byPeer))
	for _, v := range byPeer {
		votes = append(votes, v)
	}

	return block, votes, block != nil || len(votes) > 0
}

// NotarizedSince answers a peer's catch-up pull: every notarization (block
// or dummy) we hold from round through our notarized frontier.
func (d *Driver) NotarizedSince(round consensus.Round) []transport.NotarizedItem {
	st := d.snapshot()

	var items []transport.NotarizedItem
	for r := round; r <= st.HighestNotarizedRound; r++ {
		if rec, ok := st.NotarizedBlocks[r]; ok {
			b := rec.Block
			items = append(items, transport.NotarizedItem{Round: r, Block: &b, Notarization: rec.Notarization})
			continue
		}
		if n, ok := st.NotarizedDummies[r]; ok {
			items = append(items, transport.NotarizedItem{Round: r, Notarization: n})
		}
	}
	return items
}

// FinalizationVotes answers a peer's pull for our current per-signer
// finalization votes.
func (d *Driver) FinalizationVotes() []consensus.FinalizationVote {
	st := d.snapshot()
	out := make([]consensus.FinalizationVote, 0, len(st.PendingFinalizationVotes))
	for _, v := range st.PendingFinalizationVotes {
		out = append(out, v)
	}
	return out
}
