package params

import (
	"testing"
	"time"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/crypto"
)

func fourPeers(t *testing.T) consensus.PeerSet {
	t.Helper()
	ids := make([]crypto.PeerId, 4)
	for i := range ids {
		_, pid, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		ids[i] = pid
	}
	ps, err := consensus.NewPeerSet(ids)
	if err != nil {
		t.Fatalf("new peer set: %v", err)
	}
	return ps
}

func TestHashDeterministicAcrossModuleOrder(t *testing.T) {
	peers := fourPeers(t)
	a := New(1, peers, time.Second, DefaultScheduleDelay, map[consensus.ModuleId]ModuleVersion{1: 1, 2: 3})
	b := New(1, peers, time.Second, DefaultScheduleDelay, map[consensus.ModuleId]ModuleVersion{2: 3, 1: 1})
	if !a.Equal(b) {
		t.Fatalf("params built from differently-ordered module maps should be equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("hash must not depend on map iteration order")
	}
}

func TestLeaderAtIsWithinPeerSet(t *testing.T) {
	peers := fourPeers(t)
	p := New(1, peers, time.Second, DefaultScheduleDelay, nil)
	for r := consensus.Round(0); r < 50; r++ {
		leader := p.LeaderAt(r)
		if !peers.Contains(leader) {
			t.Fatalf("round %d: leader %s not in peer set", r, leader)
		}
	}
}

func TestLeaderAtVariesAcrossRounds(t *testing.T) {
	peers := fourPeers(t)
	p := New(1, peers, time.Second, DefaultScheduleDelay, nil)
	seen := map[crypto.PeerId]bool{}
	for r := consensus.Round(0); r < 20; r++ {
		seen[p.LeaderAt(r)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected leader to vary across rounds, saw only %d distinct leaders", len(seen))
	}
}

func TestModuleVersionForUnknown(t *testing.T) {
	peers := fourPeers(t)
	p := New(1, peers, time.Second, DefaultScheduleDelay, map[consensus.ModuleId]ModuleVersion{1: 1})
	if _, err := p.ModuleVersionFor(99); err == nil {
		t.Fatalf("expected error for unconfigured module id")
	}
}

func TestPrevMidBlockChangesCanonicalEncoding(t *testing.T) {
	peers := fourPeers(t)
	base := New(1, peers, time.Second, DefaultScheduleDelay, nil)
	withMid := base.WithPrevMidBlock(7, crypto.SumBLAKE3([]byte("mid")))
	if base.Equal(withMid) {
		t.Fatalf("adding a prev_mid_block must change the canonical encoding")
	}
}
