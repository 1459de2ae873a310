// Package memstore is an in-memory store.Store, used by tests and the
// dummy-policy bootstrap path. Grounded on the teacher's style of providing
// minimal in-memory stand-ins for exercising the engine without real
// durability (engine/state_test.go builds bare ConsensusStates without a
// WAL).
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/bfte-project/bfte/store"
)

// Memstore is a map-backed store.Store. Not durable across process
// restarts; intended for tests and the in-process driver integration harness.
type Memstore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	commit sync.Mutex // serializes WriteTx.Commit + OnCommit hook delivery
	closed bool
}

// New returns an empty Memstore.
func New() *Memstore {
	return &Memstore{data: make(map[string][]byte)}
}

// Close marks the store closed. Safe to call once.
func (m *Memstore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// BeginRead returns a snapshot of the current key space.
func (m *Memstore) BeginRead(ctx context.Context) (store.ReadTx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, store.ErrClosed
	}
	snap := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snap[k] = v
	}
	return &readTx{data: snap}, nil
}

// BeginWrite returns a buffered write transaction over a snapshot taken at
// open time; Commit applies the buffer atomically and serializes against
// other writers via the store-wide commit mutex.
func (m *Memstore) BeginWrite(ctx context.Context) (store.WriteTx, error) {
	m.mu.RLock()
	closed := m.closed
	snap := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snap[k] = v
	}
	m.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}
	return &writeTx{
		store:  m,
		base:   snap,
		writes: make(map[string][]byte),
		dels:   make(map[string]bool),
	}, nil
}

type readTx struct {
	data map[string][]byte
}

func (r *readTx) Get(key []byte) ([]byte, error) {
	v, ok := r.data[string(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (r *readTx) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	keys := make([]string, 0, len(r.data))
	p := string(prefix)
	for k := range r.data {
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), r.data[k]) {
			return nil
		}
	}
	return nil
}

func (r *readTx) Discard() { r.data = nil }

type writeTx struct {
	store    *Memstore
	base     map[string][]byte
	writes   map[string][]byte
	dels     map[string]bool
	onCommit []func()
	done     bool
}

func (w *writeTx) view(key string) ([]byte, bool) {
	if w.dels[key] {
		return nil, false
	}
	if v, ok := w.writes[key]; ok {
		return v, true
	}
	v, ok := w.base[key]
	return v, ok
}

func (w *writeTx) Get(key []byte) ([]byte, error) {
	v, ok := w.view(string(key))
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (w *writeTx) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	p := string(prefix)
	seen := make(map[string]bool)
	keys := make([]string, 0)
	for k := range w.base {
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	for k := range w.writes {
		if len(k) >= len(p) && k[:len(p)] == p && !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if v, ok := w.view(k); ok {
			if !fn([]byte(k), v) {
				return nil
			}
		}
	}
	return nil
}

func (w *writeTx) Discard() { w.done = true }

func (w *writeTx) Put(key, value []byte) error {
	k := string(key)
	v := make([]byte, len(value))
	copy(v, value)
	delete(w.dels, k)
	w.writes[k] = v
	return nil
}

func (w *writeTx) Delete(key []byte) error {
	k := string(key)
	delete(w.writes, k)
	w.dels[k] = true
	return nil
}

func (w *writeTx) OnCommit(fn func()) {
	w.onCommit = append(w.onCommit, fn)
}

// Commit applies the staged writes atomically, then runs OnCommit hooks in
// registration order while still holding the store's commit mutex, so that
// hook execution order across concurrent writers matches commit order — the
// same guarantee original_source's commit_hook_order_lock provides.
func (w *writeTx) Commit() error {
	if w.done {
		return store.ErrClosed
	}
	w.store.commit.Lock()
	defer w.store.commit.Unlock()

	w.store.mu.Lock()
	if w.store.closed {
		w.store.mu.Unlock()
		return store.ErrClosed
	}
	for k := range w.dels {
		delete(w.store.data, k)
	}
	for k, v := range w.writes {
		w.store.data[k] = v
	}
	w.store.mu.Unlock()
	w.done = true

	for _, fn := range w.onCommit {
		fn()
	}
	return nil
}
