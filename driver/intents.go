package driver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/crypto"
	"github.com/bfte-project/bfte/engine"
	"github.com/bfte-project/bfte/transport"
)

// runIntents carries out every Intent Step returned, after the State it was
// computed against has durably committed (§5: Step's output is only acted
// on once the corresponding write is safely persisted).
func (d *Driver) runIntents(ctx context.Context, intents []engine.Intent) {
	for _, raw := range intents {
		switch it := raw.(type) {
		case engine.IntentArmRoundTimer:
			d.armTimer(it.Round, it.Duration)
		case engine.IntentSignVote:
			d.signVote(it)
		case engine.IntentSignFinalizationVote:
			d.signFinalizationVote(it)
		case engine.IntentPullProposalOrVotes:
			go d.pullProposalOrVotes(ctx, it.Round)
		case engine.IntentPullNotarizedSince:
			go d.pullNotarizedSince(ctx, it.Round)
		case engine.IntentPullFinalizationVotes:
			go d.pullFinalizationVotes(ctx)
		}
	}
}

// armTimer (re)arms the round timer, replacing whatever timer was armed
// before it. A stale fire from a just-replaced timer is harmless: Step
// checks the fired round against CurrentRound and ignores it if it's
// already decided.
func (d *Driver) armTimer(round consensus.Round, dur time.Duration) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(dur, func() {
		d.Deliver(engine.EventRoundTimeout{Round: round})
	})
}

// signVote signs a Vote with our own key and feeds it back through the same
// EventReceivedVote path a peer's vote arrives on — the engine never holds a
// key, so this is the only place our own vote gets a signature (§5).
func (d *Driver) signVote(it engine.IntentSignVote) {
	v := consensus.Vote{Round: it.Round, Target: it.Target}.Sign(d.key)
	d.Deliver(engine.EventReceivedVote{Vote: v})
}

func (d *Driver) signFinalizationVote(it engine.IntentSignFinalizationVote) {
	fv := consensus.FinalizationVote{Round: it.Round}.Sign(d.key)
	d.Deliver(engine.EventReceivedFinalizationVote{Vote: fv})
}

// peersToQuery returns every peer but ourselves from the ConsensusParams in
// force at our current round.
func (d *Driver) peersToQuery() []crypto.PeerId {
	st := d.snapshot()
	p := st.ParamsForRound(st.CurrentRound).Peers
	out := make([]crypto.PeerId, 0, p.Len())
	for i := 0; i < p.Len(); i++ {
		id := p.At(i)
		if id != st.OurPeerId {
			out = append(out, id)
		}
	}
	return out
}

// pullProposalOrVotes fans a GetProposalOrVotes pull out to every other peer
// concurrently via errgroup, rather than querying them one at a time — with
// a federation of n peers, a round's leader and its votes should arrive in
// one round trip's worth of wall time, not n of them.
func (d *Driver) pullProposalOrVotes(ctx context.Context, round consensus.Round) {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range d.peersToQuery() {
		peer := peer
		g.Go(func() error {
			var block *consensus.Block
			var votes []consensus.Vote
			err := retryWithBackoff(gctx, d.cfg.MaxPullBackoff, func() error {
				b, v, err := d.puller.GetProposalOrVotes(gctx, peer, round)
				block, votes = b, v
				return err
			})
			if err != nil {
				d.logger.Debug("pull proposal_or_votes gave up", zap.Uint64("round", uint64(round)), zap.Error(err))
				return nil
			}
			if block != nil {
				d.Deliver(engine.EventReceivedProposal{From: peer, Block: *block})
			}
			for _, v := range votes {
				d.Deliver(engine.EventReceivedVote{Vote: v})
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Driver) pullNotarizedSince(ctx context.Context, round consensus.Round) {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range d.peersToQuery() {
		peer := peer
		g.Go(func() error {
			var fetched []transport.NotarizedItem
			err := retryWithBackoff(gctx, d.cfg.MaxPullBackoff, func() error {
				got, err := d.puller.GetNotarizedSince(gctx, peer, round)
				fetched = got
				return err
			})
			if err != nil {
				d.logger.Debug("pull notarized_since gave up", zap.Uint64("round", uint64(round)), zap.Error(err))
				return nil
			}
			if len(fetched) > 0 && fetched[0].Round > round {
				d.handleRejoinGap(peer, round, fetched[0])
				return nil
			}
			for _, it := range fetched {
				if it.Block != nil {
					d.Deliver(engine.EventReceivedNotarizedBlock{Block: *it.Block, Notarization: it.Notarization})
					continue
				}
				d.Deliver(engine.EventReceivedNotarizedDummy{Round: it.Round, Notarization: it.Notarization})
			}
			return nil
		})
	}
	_ = g.Wait()
}

// handleRejoinGap reacts to a GetNotarizedSince response that starts later
// than requested — peer has already pruned what we asked for, meaning our
// notarized frontier has fallen outside every retained history (spec.md §9
// Open Question). Dispatches on d.cfg.RejoinPolicy: RejoinPolicyHalt always
// stops the process; RejoinPolicyTrustedSnapshot trust-adopts first's block
// as a fresh tip via engine.EventTrustedRejoin, but only when the params in
// force at first's round carry a PrevMidBlock checkpoint (its round and hash
// are not compared against first) — without one it falls back to halting.
func (d *Driver) handleRejoinGap(peer crypto.PeerId, requested consensus.Round, first transport.NotarizedItem) {
	if d.metrics != nil {
		d.metrics.RejoinGapsDetected.Inc()
	}
	d.logger.Warn("rejoin gap detected: peer has pruned requested history",
		zap.String("peer", peer.String()),
		zap.Uint64("requested_round", uint64(requested)),
		zap.Uint64("first_available_round", uint64(first.Round)),
	)

	if d.cfg.RejoinPolicy == RejoinPolicyTrustedSnapshot {
		p := d.snapshot().ParamsForRound(first.Round)
		if p.HasPrevMidBlock && first.Block != nil {
			d.logger.Warn("trust-adopting peer's notarized tip to rejoin", zap.Uint64("round", uint64(first.Round)))
			d.Deliver(engine.EventTrustedRejoin{Block: *first.Block, Notarization: first.Notarization})
			return
		}
		d.logger.Warn("trusted rejoin configured but no PrevMidBlock checkpoint is available, halting instead")
	}
	d.logger.Fatal("rejoin required but RejoinPolicy is halt, stopping node",
		zap.Uint64("requested_round", uint64(requested)),
	)
}

func (d *Driver) pullFinalizationVotes(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range d.peersToQuery() {
		peer := peer
		g.Go(func() error {
			var votes []consensus.FinalizationVote
			err := retryWithBackoff(gctx, d.cfg.MaxPullBackoff, func() error {
				v, err := d.puller.GetFinalizationVotes(gctx, peer)
				votes = v
				return err
			})
			if err != nil {
				d.logger.Debug("pull finalization_votes gave up", zap.Error(err))
				return nil
			}
			for _, v := range votes {
				d.Deliver(engine.EventReceivedFinalizationVote{Vote: v})
			}
			return nil
		})
	}
	_ = g.Wait()
}
