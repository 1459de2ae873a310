package memstore

import (
	"context"
	"testing"

	"github.com/bfte-project/bfte/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	m := New()
	ctx := context.Background()
	wtx, err := m.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := wtx.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rtx, err := m.BeginRead(ctx)
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtx.Discard()
	v, err := rtx.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("got %q want %q", v, "v")
	}
}

func TestReadSnapshotIsolatedFromLaterWrite(t *testing.T) {
	m := New()
	ctx := context.Background()
	wtx, _ := m.BeginWrite(ctx)
	_ = wtx.Put([]byte("a"), []byte("1"))
	_ = wtx.Commit()

	rtx, _ := m.BeginRead(ctx)
	defer rtx.Discard()

	wtx2, _ := m.BeginWrite(ctx)
	_ = wtx2.Put([]byte("a"), []byte("2"))
	_ = wtx2.Commit()

	v, err := rtx.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("snapshot read should not observe later commit; got %q", v)
	}
}

func TestOnCommitHookRunsAfterCommitOnly(t *testing.T) {
	m := New()
	ctx := context.Background()
	wtx, _ := m.BeginWrite(ctx)
	fired := false
	wtx.OnCommit(func() { fired = true })
	if fired {
		t.Fatalf("hook must not fire before commit")
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !fired {
		t.Fatalf("hook must fire after commit")
	}
}

func TestOnCommitHooksFireInRegistrationOrder(t *testing.T) {
	m := New()
	ctx := context.Background()
	wtx, _ := m.BeginWrite(ctx)
	var order []int
	wtx.OnCommit(func() { order = append(order, 1) })
	wtx.OnCommit(func() { order = append(order, 2) })
	wtx.OnCommit(func() { order = append(order, 3) })
	_ = wtx.Commit()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("hooks fired out of order: %v", order)
	}
}

func TestIteratePrefixOrdered(t *testing.T) {
	m := New()
	ctx := context.Background()
	wtx, _ := m.BeginWrite(ctx)
	_ = wtx.Put([]byte("p/b"), []byte("2"))
	_ = wtx.Put([]byte("p/a"), []byte("1"))
	_ = wtx.Put([]byte("q/x"), []byte("ignored"))
	_ = wtx.Commit()

	rtx, _ := m.BeginRead(ctx)
	defer rtx.Discard()
	var keys []string
	err := rtx.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 2 || keys[0] != "p/a" || keys[1] != "p/b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	m := New()
	rtx, _ := m.BeginRead(context.Background())
	defer rtx.Discard()
	if _, err := rtx.Get([]byte("nope")); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClosedStoreRejectsNewTransactions(t *testing.T) {
	m := New()
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.BeginRead(context.Background()); err != store.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := m.BeginWrite(context.Background()); err != store.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
