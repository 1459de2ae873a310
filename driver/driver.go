// Package driver is BFTE's effectful shell (§5): it owns the signing key,
// the wall clock, the persistent store, and the pull-RPC transport, feeding
// events into engine.Machine.Step and carrying out whatever Intents and
// Effects Step returns. Grounded on the teacher's top-level split between a
// pure ConsensusState and an effectful Reactor/Node driving it, but reshaped
// around a single-goroutine event loop rather than the teacher's several
// cooperating goroutines, since Step itself is synchronous with no
// internal concurrency of its own.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
	"github.com/bfte-project/bfte/crypto"
	"github.com/bfte-project/bfte/engine"
	"github.com/bfte-project/bfte/internal/telemetry"
	"github.com/bfte-project/bfte/module"
	"github.com/bfte-project/bfte/store"
	"github.com/bfte-project/bfte/transport"
)

// Driver ties one peer's engine.State to real I/O. Every field except mu,
// state, timerMu and timer is set once at construction and never reassigned.
type Driver struct {
	cfg     *Config
	logger  *zap.Logger
	store   store.Store
	key     *crypto.SigningKey
	puller  transport.Puller
	router  *module.Router
	metrics *telemetry.Metrics

	machine engine.Machine

	mu    sync.Mutex
	state engine.State

	events chan engine.Event

	timerMu sync.Mutex
	timer   *time.Timer
}

// New builds a Driver, loading persisted State from st if present, or
// bootstrapping a genesis State under genesis otherwise.
func New(cfg *Config, logger *zap.Logger, st store.Store, key *crypto.SigningKey, puller transport.Puller, router *module.Router, metrics *telemetry.Metrics, genesis params.ConsensusParams) (*Driver, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	state, ok, err := loadState(context.Background(), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		state = engine.NewGenesisState(key.PeerId(), genesis)
	}
	return &Driver{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		key:     key,
		puller:  puller,
		router:  router,
		metrics: metrics,
		state:   state,
		events:  make(chan engine.Event, 256),
	}, nil
}

// SubmitCItems enqueues locally originated CItems for inclusion in a future
// proposal, stamped with the current wall-clock reading — the driver is the
// only place allowed to read the clock (§4.3 Determinism).
func (d *Driver) SubmitCItems(items []consensus.CItem) {
	d.events <- engine.EventLocalCItems{Items: items, Timestamp: uint64(time.Now().Unix())}
}

// Deliver enqueues an externally observed event — a pull response, a
// received vote — for the loop to process. transport client wiring and
// tests both use this as their single entry point into the driver.
func (d *Driver) Deliver(ev engine.Event) {
	d.events <- ev
}

// snapshot returns the current State by value, safe to read from any
// goroutine (transport.Source methods, the pull goroutines).
func (d *Driver) snapshot() engine.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run drives the event loop until ctx is cancelled, returning ctx.Err().
func (d *Driver) Run(ctx context.Context) error {
	start := d.snapshot()
	d.logger.Info("driver starting",
		zap.String("chain_id", d.cfg.ChainID),
		zap.Uint64("round", uint64(start.CurrentRound)),
		zap.Uint64("highest_finalized", uint64(start.HighestFinalizedRound)),
	)

	// Prime the loop: Step's advanceRounds arms the first timer and issues
	// the first pulls off of a no-op tick, so the driver never sits idle
	// waiting for a peer to speak first.
	d.events <- engine.EventTick{Now: uint64(time.Now().Unix())}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("driver stopping", zap.Error(ctx.Err()))
			return ctx.Err()
		case now := <-ticker.C:
			select {
			case d.events <- engine.EventTick{Now: uint64(now.Unix())}:
			default: // loop is backed up; this tick isn't essential
			}
		case ev := <-d.events:
			if err := d.handle(ctx, ev); err != nil {
				d.logger.Error("handling event failed", zap.Error(err))
			}
		}
	}
}

// handle applies one event through Step inside a single store write
// transaction, so the new State and every module effect it unlocks commit
// atomically together — and only once that commit lands does the driver
// update its in-memory State or act on any Intent (§5, §6). A rejection
// from Step is dispatched per its engine.Classify kind rather than treated
// uniformly as a driver failure (§7); the store I/O around it — the one
// place this function can fail transiently rather than deterministically —
// is retried with bounded backoff rather than surfaced on the first error.
func (d *Driver) handle(ctx context.Context, ev engine.Event) error {
	cur := d.snapshot()

	next, intents, effects, err := d.machine.Step(cur, ev)
	if err != nil {
		return d.handleStepError(err)
	}

	var tx store.WriteTx
	if err := retryWithBackoff(ctx, d.cfg.MaxPullBackoff, func() error {
		var beginErr error
		tx, beginErr = d.store.BeginWrite(ctx)
		return beginErr
	}); err != nil {
		return fmt.Errorf("driver: begin write: %w", err)
	}

	var followUps []engine.Event
	if err := saveState(tx, next); err != nil {
		tx.Discard()
		return err
	}
	for _, eff := range effects {
		fu, err := d.stageEffect(tx, eff)
		if err != nil {
			tx.Discard()
			return err
		}
		followUps = append(followUps, fu...)
	}
	tx.OnCommit(func() {
		d.mu.Lock()
		d.state = next
		d.mu.Unlock()
		d.recordMetrics(cur, next, effects)
		d.runIntents(ctx, intents)
		for _, ev := range followUps {
			d.Deliver(ev)
		}
	})
	if err := retryWithBackoff(ctx, d.cfg.MaxPullBackoff, tx.Commit); err != nil {
		return fmt.Errorf("driver: commit: %w", err)
	}
	return nil
}

// handleStepError dispatches a Machine.Step rejection by its engine.Classify
// kind (§7): MalformedInput and OutOfRange events are dropped — logged and
// counted, never surfaced as a driver failure, matching "never propagated
// upward"; an InvariantViolation halts the process exactly as before;
// anything else (a kind Step is not documented to produce) is wrapped and
// returned so the caller's existing logging still sees it.
func (d *Driver) handleStepError(err error) error {
	switch engine.Classify(err) {
	case engine.KindInvariantViolation:
		if d.metrics != nil {
			d.metrics.InvariantViolations.Inc()
		}
		d.logger.Fatal("consensus invariant violated, halting", zap.Error(err))
		return nil
	case engine.KindMalformedInput:
		if d.metrics != nil {
			d.metrics.MalformedInputEvents.Inc()
		}
		d.logger.Warn("dropping malformed event", zap.Error(err))
		return nil
	case engine.KindOutOfRange:
		d.logger.Debug("dropping out-of-range event", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("driver: step: %w", err)
	}
}

// recordMetrics updates the Prometheus collectors from the transition
// between cur and next. A nil metrics (tests, or telemetry disabled) is a
// no-op.
func (d *Driver) recordMetrics(cur, next engine.State, effects []engine.Effect) {
	if d.metrics == nil {
		return
	}
	if next.CurrentRound > cur.CurrentRound {
		d.metrics.RoundsAdvanced.Add(float64(next.CurrentRound - cur.CurrentRound))
	}
	if next.HighestNotarizedRound > cur.HighestNotarizedRound {
		if _, isBlock := next.NotarizedBlocks[next.HighestNotarizedRound]; isBlock {
			d.metrics.BlocksNotarized.Inc()
		} else {
			d.metrics.DummiesNotarized.Inc()
		}
	}
	for _, eff := range effects {
		if _, ok := eff.(engine.EffectRoundFinalized); ok {
			d.metrics.RoundsFinalized.Inc()
		}
	}
	d.metrics.CurrentRound.Set(float64(next.CurrentRound))
	d.metrics.HighestFinalized.Set(float64(next.HighestFinalizedRound))
}

// stageEffect delivers a finalized round's CItems and resulting module
// effects, advancing the persisted last_delivered_round cursor so a crash
// between commit and delivery never double-delivers (§6). It returns any
// follow-up engine.Events the delivered module effects unlock — currently
// only a reconfiguration accepted by module.ParamsCtrl, fed back in as an
// EventReconfigureParams once the commit this round belongs to lands.
func (d *Driver) stageEffect(tx store.WriteTx, eff engine.Effect) ([]engine.Event, error) {
	fin, ok := eff.(engine.EffectRoundFinalized)
	if !ok {
		return nil, nil
	}
	last, err := lastDeliveredRoundTx(tx)
	if err != nil {
		return nil, err
	}

	st := d.snapshot()
	var followUps []engine.Event
	for r := last + 1; r <= int64(fin.Round); r++ {
		items, err := itemsForRound(st, consensus.Round(r))
		if err != nil {
			return nil, fmt.Errorf("driver: decode payload for round %d: %w", r, err)
		}
		delivered, err := d.router.Deliver(items)
		if err != nil {
			return nil, fmt.Errorf("driver: deliver round %d: %w", r, err)
		}
		for _, e := range delivered {
			if e.ModuleId != module.ParamsCtrlModuleId {
				continue
			}
			var candidate params.ConsensusParams
			if jsonErr := json.Unmarshal(e.Payload, &candidate); jsonErr != nil {
				return nil, fmt.Errorf("driver: decode reconfiguration at round %d: %w", r, jsonErr)
			}
			followUps = append(followUps, engine.EventReconfigureParams{
				NewParams:        candidate,
				FinalizedAtRound: consensus.Round(r),
			})
		}
	}
	if err := saveLastDeliveredRound(tx, int64(fin.Round)); err != nil {
		return nil, err
	}
	return followUps, nil
}

// itemsForRound returns the CItems finalized at r, or nil if r's round was
// won by a dummy (which carries no payload).
func itemsForRound(st engine.State, r consensus.Round) ([]consensus.CItem, error) {
	rec, ok := st.NotarizedBlocks[r]
	if !ok {
		return nil, nil
	}
	return consensus.DecodePayload(rec.Block.Payload)
}
