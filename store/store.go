// Package store defines the transactional key-value persistence interface
// the driver and engine layer their durable state on. A Store gives
// snapshot-isolated reads and serialized-commit-order writes with
// post-commit hooks — see store/pebble for the production implementation
// and store/memstore for the in-memory one used by tests.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// ErrClosed is returned by any operation attempted after the Store (or a
// transaction derived from it) has been closed.
var ErrClosed = errors.New("store: closed")

// Store is the durable key-value backing for one BFTE peer's consensus
// state. All keys are opaque byte strings; callers build hierarchical keys
// out of prefixes (see Prefixes below).
type Store interface {
	// BeginRead opens a snapshot-isolated read transaction: once opened, its
	// view of the data never changes even if concurrent writes commit.
	BeginRead(ctx context.Context) (ReadTx, error)

	// BeginWrite opens a write transaction. It does not wait for other open
	// write transactions; only their Commit calls are serialized, in commit
	// order.
	BeginWrite(ctx context.Context) (WriteTx, error)

	// Close releases all resources held by the store. It does not wait for
	// open write transactions to finish.
	Close() error
}

// ReadTx is a read-only, snapshot-isolated view over the store.
type ReadTx interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Iterate calls fn for every key with the given prefix, in ascending
	// key order, until fn returns false or the prefix is exhausted.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error

	// Discard releases the read transaction's snapshot. Safe to call more
	// than once.
	Discard()
}

// WriteTx is a read-write transaction. Writes are buffered until Commit;
// a WriteTx discarded without committing leaves the store unchanged.
type WriteTx interface {
	ReadTx

	// Put stages a key/value write.
	Put(key, value []byte) error

	// Delete stages a key removal. Deleting an absent key is not an error.
	Delete(key []byte) error

	// OnCommit registers fn to run after this transaction durably commits.
	// Hooks across different WriteTx instances run in the same order their
	// transactions committed in, even though the underlying engine gives no
	// such guarantee on its own — grounded on original_source's
	// WriteTransactionCtx::on_commit plus the shared commit-hook-order
	// mutex in db/src/lib.rs. Hooks never run if Commit fails or is never
	// called.
	OnCommit(fn func())

	// Commit durably persists all staged writes, then runs every
	// registered OnCommit hook, in registration order, before returning.
	Commit() error
}

// Prefixes name the logical tables of the persisted state layout, each a
// distinct key-space prefix within a single flat Store. Mirrors the
// Persisted state layout from the external-interface section of the
// specification. The driver writes only under Meta (meta/state, the whole
// engine.State snapshot, and meta/last_delivered_round); the other prefixes
// are declared but not written.
var Prefixes = struct {
	Meta               []byte // meta/ - last_delivered_round, driver bookkeeping
	Params             []byte // params/ - ConsensusParams history, keyed by round introduced
	NotarizedBlock    []byte // chain/notarized_block/ - keyed by round
	NotarizedDummy    []byte // chain/notarized_dummy/ - keyed by round
	FinalizedRound    []byte // chain/finalized_round - singleton
	VotesPending      []byte // votes/pending/ - keyed by (round, signer)
	VotesFinalization []byte // votes/finalization/ - keyed by (round, signer)
}{
	Meta:              []byte("meta/"),
	Params:            []byte("params/"),
	NotarizedBlock:    []byte("chain/notarized_block/"),
	NotarizedDummy:    []byte("chain/notarized_dummy/"),
	FinalizedRound:    []byte("chain/finalized_round"),
	VotesPending:      []byte("votes/pending/"),
	VotesFinalization: []byte("votes/finalization/"),
}

// LastDeliveredRoundKey is the meta/ key tracking the last round whose
// module effects were delivered, giving exactly-once effect delivery across
// restarts (§6).
var LastDeliveredRoundKey = append(append([]byte{}, Prefixes.Meta...), []byte("last_delivered_round")...)
