package driver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bfte-project/bfte/engine"
	"github.com/bfte-project/bfte/store"
)

// stateKey is the single meta/ key the full engine.State snapshot lives
// under. BFTE federations are small and mutually known (spec.md Overview),
// so its State stays bounded — a whole-state JSON snapshot per commit is far
// simpler than a field-by-field incremental codec, and still gives the
// exactly-once durability store.Store promises.
var stateKey = append(append([]byte{}, store.Prefixes.Meta...), []byte("state")...)

// loadState reads the most recently committed State, or ok=false if the
// store has never been written to (first boot).
func loadState(ctx context.Context, s store.Store) (st engine.State, ok bool, err error) {
	tx, err := s.BeginRead(ctx)
	if err != nil {
		return engine.State{}, false, fmt.Errorf("driver: begin read: %w", err)
	}
	defer tx.Discard()

	raw, err := tx.Get(stateKey)
	if err != nil {
		if err == store.ErrNotFound {
			return engine.State{}, false, nil
		}
		return engine.State{}, false, fmt.Errorf("driver: read state: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return engine.State{}, false, fmt.Errorf("driver: decode state: %w", err)
	}
	return st, true, nil
}

// saveState stages st into an already-open write transaction. The caller is
// responsible for Commit.
func saveState(tx store.WriteTx, st engine.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("driver: encode state: %w", err)
	}
	return tx.Put(stateKey, raw)
}

// lastDeliveredRoundTx reads the last round module effects were delivered
// for out of an already-open transaction (read or write), returning -1 if
// nothing has ever been delivered. A round number can't itself be negative,
// so -1 doubles as the "never delivered" sentinel without a separate bool.
func lastDeliveredRoundTx(tx store.ReadTx) (int64, error) {
	raw, err := tx.Get(store.LastDeliveredRoundKey)
	if err != nil {
		if err == store.ErrNotFound {
			return -1, nil
		}
		return -1, fmt.Errorf("driver: read last delivered round: %w", err)
	}
	var r int64
	if err := json.Unmarshal(raw, &r); err != nil {
		return -1, fmt.Errorf("driver: decode last delivered round: %w", err)
	}
	return r, nil
}

func saveLastDeliveredRound(tx store.WriteTx, round int64) error {
	raw, err := json.Marshal(round)
	if err != nil {
		return err
	}
	return tx.Put(store.LastDeliveredRoundKey, raw)
}
