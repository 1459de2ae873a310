// Package pebble implements store.Store on top of
// github.com/cockroachdb/pebble, the embedded LSM engine also used by
// luxfi-vm and kocubinski-gcosmos in this corpus. Pebble snapshots back
// ReadTx; pebble.Batch plus a single commit-order mutex back WriteTx,
// mirroring original_source's commit_hook_order_lock.
package pebble

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/bfte-project/bfte/store"
)

// Store wraps a *pebble.DB to implement store.Store.
type Store struct {
	db     *pebble.DB
	commit sync.Mutex
}

// Open opens (creating if absent) a Pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying Pebble database.
func (s *Store) Close() error { return s.db.Close() }

// BeginRead opens a Pebble snapshot.
func (s *Store) BeginRead(ctx context.Context) (store.ReadTx, error) {
	return &readTx{snap: s.db.NewSnapshot()}, nil
}

// BeginWrite opens a buffered batch over a point-in-time snapshot; writes
// are only visible to the store once Commit succeeds.
func (s *Store) BeginWrite(ctx context.Context) (store.WriteTx, error) {
	return &writeTx{
		store: s,
		snap:  s.db.NewSnapshot(),
		batch: s.db.NewBatch(),
	}, nil
}

type readTx struct {
	snap *pebble.Snapshot
}

func (r *readTx) Get(key []byte) ([]byte, error) {
	v, closer, err := r.snap.Get(key)
	if err == pebble.ErrNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	_ = closer.Close()
	return out, nil
}

func (r *readTx) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := r.snap.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := append([]byte{}, iter.Key()...)
		v := append([]byte{}, iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}

func (r *readTx) Discard() { _ = r.snap.Close() }

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			upper = upper[:i+1]
			return &pebble.IterOptions{LowerBound: prefix, UpperBound: upper}
		}
	}
	return &pebble.IterOptions{LowerBound: prefix}
}

type writeTx struct {
	store    *Store
	snap     *pebble.Snapshot
	batch    *pebble.Batch
	onCommit []func()
	done     bool

	// staged tracks same-transaction writes not yet flushed to the
	// snapshot, so Get/Iterate observe the batch's own uncommitted writes.
	staged  map[string][]byte
	deleted map[string]bool
}

func (w *writeTx) ensureStaged() {
	if w.staged == nil {
		w.staged = make(map[string][]byte)
		w.deleted = make(map[string]bool)
	}
}

func (w *writeTx) Get(key []byte) ([]byte, error) {
	k := string(key)
	if w.deleted != nil && w.deleted[k] {
		return nil, store.ErrNotFound
	}
	if w.staged != nil {
		if v, ok := w.staged[k]; ok {
			out := make([]byte, len(v))
			copy(out, v)
			return out, nil
		}
	}
	v, closer, err := w.snap.Get(key)
	if err == pebble.ErrNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	_ = closer.Close()
	return out, nil
}

func (w *writeTx) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	merged := make(map[string][]byte)
	iter, err := w.snap.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		merged[string(iter.Key())] = append([]byte{}, iter.Value()...)
	}
	if err := iter.Close(); err != nil {
		return err
	}
	p := string(prefix)
	if w.staged != nil {
		for k, v := range w.staged {
			if len(k) >= len(p) && k[:len(p)] == p {
				merged[k] = v
			}
		}
	}
	if w.deleted != nil {
		for k := range w.deleted {
			delete(merged, k)
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), merged[k]) {
			break
		}
	}
	return nil
}

func (w *writeTx) Discard() {
	_ = w.snap.Close()
	_ = w.batch.Close()
}

func (w *writeTx) Put(key, value []byte) error {
	w.ensureStaged()
	k := string(key)
	delete(w.deleted, k)
	v := make([]byte, len(value))
	copy(v, value)
	w.staged[k] = v
	return w.batch.Set(key, value, nil)
}

func (w *writeTx) Delete(key []byte) error {
	w.ensureStaged()
	k := string(key)
	delete(w.staged, k)
	w.deleted[k] = true
	return w.batch.Delete(key, nil)
}

func (w *writeTx) OnCommit(fn func()) {
	w.onCommit = append(w.onCommit, fn)
}

// Commit applies the batch under the store's commit mutex, then runs
// OnCommit hooks in registration order while still holding it, guaranteeing
// hooks observe and fire in the same order their transactions committed in —
// Pebble itself makes no such cross-transaction ordering promise.
func (w *writeTx) Commit() error {
	if w.done {
		return store.ErrClosed
	}
	w.store.commit.Lock()
	defer w.store.commit.Unlock()

	if err := w.batch.Commit(pebble.Sync); err != nil {
		return err
	}
	w.done = true
	_ = w.snap.Close()
	_ = w.batch.Close()

	for _, fn := range w.onCommit {
		fn()
	}
	return nil
}
