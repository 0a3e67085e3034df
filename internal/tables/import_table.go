// Package tables implements the three per-session tables of spec §3.3:
// the import table, the export table, and the results table.
package tables

import (
	"context"
	"fmt"
	"sync"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// Stub is the minimal shape a local capability target must satisfy to be
// stored in the import table (spec §6.4). It is defined structurally
// here, rather than imported from the public package, so that this
// internal package has no dependency on the root package; any type
// implementing this method set (in particular the public Target
// interface) satisfies it automatically.
type Stub interface {
	Call(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error)
}

// Disposer is the optional dispose hook (spec §3.4, §4.4).
type Disposer interface {
	Dispose()
}

// PromiseState is the lifecycle of a Promise-valued import entry.
type PromiseState int

const (
	Pending PromiseState = iota
	Fulfilled
	Rejected
)

// ImportKind discriminates the three shapes an import table entry can
// hold (spec §3.3).
type ImportKind int

const (
	KindStub ImportKind = iota
	KindPromise
	KindResolved
)

// Waiter is a continuation registered against a pending import-table
// promise; it fires exactly once, with either the fulfilled value or the
// rejection error (never both), mirroring the pipeline engine's waiter
// contract in §4.8.
type Waiter func(value wire.Expr, err *rpcerr.RPCError)

// ImportEntry is one row of the import table.
type ImportEntry struct {
	Kind ImportKind

	// KindStub
	Stub Stub

	// KindPromise
	State   PromiseState
	Waiters []Waiter

	// KindResolved, or KindPromise once Fulfilled/Rejected
	Value wire.Expr
	Err   *rpcerr.RPCError

	Refcount int
}

// ImportTable implements spec §4.4. It is used both from the owning
// session's read loop and from push-evaluation goroutines (lookups,
// waiters, and stubs exported by Session.ExportStub), so the mutex is
// what serializes access to entries.
type ImportTable struct {
	mu      sync.Mutex
	entries map[int64]*ImportEntry
}

// NewImportTable constructs an empty table.
func NewImportTable() *ImportTable {
	return &ImportTable{entries: make(map[int64]*ImportEntry)}
}

// InsertStub creates an entry wrapping a local target, with refcount 1.
func (t *ImportTable) InsertStub(id int64, stub Stub) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &ImportEntry{Kind: KindStub, Stub: stub, Refcount: 1}
}

// InsertPromise creates a pending-promise entry, with refcount 1.
func (t *ImportTable) InsertPromise(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &ImportEntry{Kind: KindPromise, State: Pending, Refcount: 1}
}

// InsertResolved creates an entry for a value already delivered, with
// refcount 1.
func (t *ImportTable) InsertResolved(id int64, value wire.Expr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &ImportEntry{Kind: KindResolved, Value: value, Refcount: 1}
}

// Retain increments the refcount of an existing entry by n (spec §4.4).
func (t *ImportTable) Retain(id int64, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return rpcerr.New(rpcerr.NotFound, "retain: import %d not found", id)
	}
	e.Refcount += n
	return nil
}

// Release decrements the refcount of id by n (saturating at 0). If the
// refcount reaches 0 the entry is removed and, if it held a Stub, the
// stub's Dispose hook (if any) is invoked. Returns whether disposal
// happened.
func (t *ImportTable) Release(id int64, n int) (disposed bool, err error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false, rpcerr.New(rpcerr.NotFound, "release: import %d not found", id)
	}
	e.Refcount -= n
	if e.Refcount < 0 {
		e.Refcount = 0
	}
	if e.Refcount > 0 {
		t.mu.Unlock()
		return false, nil
	}
	delete(t.entries, id)
	t.mu.Unlock()

	if e.Kind == KindStub {
		if d, ok := e.Stub.(Disposer); ok {
			d.Dispose()
		}
		return true, nil
	}
	return true, nil
}

// Lookup returns a read-only snapshot of the entry for id. It fails with
// not_found if the id is absent or its refcount has already reached 0
// (spec §4.4).
func (t *ImportTable) Lookup(id int64) (*ImportEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.Refcount <= 0 {
		return nil, rpcerr.New(rpcerr.NotFound, "import %d not found", id)
	}
	return e, nil
}

// AddWaiter registers a continuation on a pending promise entry. If the
// entry has already settled, the waiter is invoked synchronously with
// the settled outcome instead of being queued, so callers never need to
// special-case the already-settled case.
func (t *ImportTable) AddWaiter(id int64, w Waiter) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return rpcerr.New(rpcerr.NotFound, "import %d not found", id)
	}
	if e.Kind != KindPromise || e.State != Pending {
		value, errv := e.Value, e.Err
		t.mu.Unlock()
		w(value, errv)
		return nil
	}
	e.Waiters = append(e.Waiters, w)
	t.mu.Unlock()
	return nil
}

// Settle fulfills or rejects a pending promise entry and fans out to its
// waiters. Calling Settle twice on the same id is a programming error
// (spec §4.5's "subsequent resolve/reject calls ... are a programming
// error").
func (t *ImportTable) Settle(id int64, value wire.Expr, err *rpcerr.RPCError) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return rpcerr.New(rpcerr.NotFound, "import %d not found", id)
	}
	if e.Kind != KindPromise || e.State != Pending {
		t.mu.Unlock()
		return rpcerr.New(rpcerr.Internal, "import %d settled twice", id)
	}
	waiters := e.Waiters
	e.Waiters = nil
	if err != nil {
		e.State = Rejected
		e.Err = err
	} else {
		e.State = Fulfilled
		e.Value = value
	}
	t.mu.Unlock()

	for _, w := range waiters {
		w(value, err)
	}
	return nil
}

// Size reports the number of live entries, used by session resource
// limits (spec §5).
func (t *ImportTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// DisposeAll tears down every stub in the table, invoking Dispose hooks.
// Called when a session transitions to Closed (spec §4.7).
func (t *ImportTable) DisposeAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[int64]*ImportEntry)
	t.mu.Unlock()

	for _, e := range entries {
		if e.Kind == KindStub {
			if d, ok := e.Stub.(Disposer); ok {
				d.Dispose()
			}
		}
		if e.Kind == KindPromise && e.State == Pending {
			for _, w := range e.Waiters {
				w(nil, rpcerr.New(rpcerr.Canceled, "session closed"))
			}
		}
	}
}

func (e *ImportEntry) String() string {
	switch e.Kind {
	case KindStub:
		return fmt.Sprintf("stub(refcount=%d)", e.Refcount)
	case KindPromise:
		return fmt.Sprintf("promise(state=%d,refcount=%d)", e.State, e.Refcount)
	default:
		return fmt.Sprintf("resolved(refcount=%d)", e.Refcount)
	}
}
